// Command user-import runs the bulk user import pipeline against a local
// file, without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"
	"strings"
	"time"

	"user-management-api/config"
	"user-management-api/models"
	"user-management-api/services"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.InitDB()

	var (
		filePath  string
		createdBy uint64
		delayMS   int
	)

	flag.StringVar(&filePath, "file", "", "path to the CSV or XLSX file to import")
	flag.Uint64Var(&createdBy, "created-by", 0, "user id recorded as the import's creator")
	flag.IntVar(&delayMS, "batch-delay-ms", 0, "optional delay between batches, for watching progress")
	flag.Parse()

	if strings.TrimSpace(filePath) == "" {
		log.Fatal("-file is required")
	}

	now := time.Now()
	upload := models.FileUpload{
		OriginalName: filepath.Base(filePath),
		StoredPath:   filePath,
		UploadedBy:   uint(createdBy),
		CreateAt:     now,
		UpdateAt:     now,
	}
	if err := config.DB.Create(&upload).Error; err != nil {
		log.Fatalf("failed to record import file: %v", err)
	}

	runs := services.NewUserImportRunService(config.DB)
	imp, err := runs.Create(uint(createdBy), &upload.FileID)
	if err != nil {
		log.Fatalf("failed to create import: %v", err)
	}

	broadcaster := services.NewImportBroadcaster()
	job := services.NewUserImportJobService(config.DB, broadcaster)
	if delayMS > 0 {
		delay := time.Duration(delayMS) * time.Millisecond
		job.SetBatchDelay(func() { time.Sleep(delay) })
	}

	job.Run(context.Background(), imp.ImportID)

	final, err := runs.GetByID(imp.ImportID)
	if err != nil {
		log.Fatalf("failed to reload import: %v", err)
	}

	log.Printf("import %d finished: status=%s progress=%d/%d", final.ImportID, final.Status, final.Progress, final.TotalRows)
	if final.ErrorMessage != nil {
		log.Printf("errors: %s", *final.ErrorMessage)
	}
}

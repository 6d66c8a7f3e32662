package controllers

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"user-management-api/config"
	"user-management-api/models"
	"user-management-api/services"
	"user-management-api/utils"

	"github.com/gin-gonic/gin"
)

const maxImportFileSize = 20 * 1024 * 1024

var (
	importOnce        sync.Once
	importBroadcaster *services.ImportBroadcaster
	importRuns        *services.UserImportRunService
	importJobs        *services.UserImportJobService
)

// importServices wires the pipeline lazily so config.DB is initialized
// before the services capture it.
func importServices() (*services.UserImportRunService, *services.UserImportJobService, *services.ImportBroadcaster) {
	importOnce.Do(func() {
		importBroadcaster = services.NewImportBroadcaster()
		importRuns = services.NewUserImportRunService(config.DB)
		importJobs = services.NewUserImportJobService(config.DB, importBroadcaster)

		// Dev-only visual throttling between batches; production leaves
		// this unset and the delay stays a no-op.
		if ms, err := strconv.Atoi(os.Getenv("IMPORT_BATCH_DELAY_MS")); err == nil && ms > 0 {
			delay := time.Duration(ms) * time.Millisecond
			importJobs.SetBatchDelay(func() { time.Sleep(delay) })
		}
	})
	return importRuns, importJobs, importBroadcaster
}

type createImportRequest struct {
	FileURL string `json:"file_url" binding:"required,url"`
}

// CreateUserImport starts a bulk user import from an uploaded file or a URL.
// The request returns as soon as the pending record exists; the pipeline
// runs in the background.
func CreateUserImport(c *gin.Context) {
	runs, jobs, _ := importServices()
	userID := c.GetUint("userID")

	file, header, err := c.Request.FormFile("file")
	if err == nil {
		defer file.Close()

		if header.Size > maxImportFileSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Import file exceeds 20MB"})
			return
		}

		uploadDir := filepath.Join("uploads", "imports")
		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload directory"})
			return
		}
		storedName := utils.GenerateUniqueFilename(header.Filename)
		dstPath := filepath.Join(uploadDir, storedName)
		if err := c.SaveUploadedFile(header, dstPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save import file"})
			return
		}

		now := time.Now()
		upload := models.FileUpload{
			OriginalName: header.Filename,
			StoredPath:   dstPath,
			FileSize:     header.Size,
			MimeType:     header.Header.Get("Content-Type"),
			UploadedBy:   userID,
			CreateAt:     now,
			UpdateAt:     now,
		}
		if err := config.DB.Create(&upload).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record import file"})
			return
		}

		imp, err := runs.Create(userID, &upload.FileID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create import"})
			return
		}

		go jobs.Run(context.Background(), imp.ImportID)

		c.JSON(http.StatusCreated, gin.H{"import": imp})
		return
	}

	// No uploaded file: expect a JSON body with a file URL.
	var req createImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either a file upload or file_url is required"})
		return
	}

	imp, err := runs.Create(userID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create import"})
		return
	}

	go jobs.RunFromURL(context.Background(), imp.ImportID, req.FileURL)

	c.JSON(http.StatusCreated, gin.H{"import": imp})
}

// GetUserImport returns one import record; polling this endpoint observes
// the same state the broadcaster emits.
func GetUserImport(c *gin.Context) {
	runs, _, _ := importServices()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid import id"})
		return
	}

	imp, err := runs.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Import not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"import": imp, "percentage": imp.Percentage()})
}

// ListUserImports returns imports, newest first.
func ListUserImports(c *gin.Context) {
	runs, _, _ := importServices()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	imports, total, err := runs.List(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list imports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imports": imports, "total": total})
}

// StreamUserImport streams the per-import topic over SSE: every progress
// update for one import, unthrottled.
func StreamUserImport(c *gin.Context) {
	runs, _, broadcaster := importServices()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid import id"})
		return
	}

	imp, err := runs.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Import not found"})
		return
	}

	topic := services.ImportTopic(imp.ImportID)
	ch := broadcaster.Subscribe(topic)
	defer broadcaster.Unsubscribe(topic, ch)

	// Snapshot first so late subscribers see the current state.
	c.SSEvent("snapshot", gin.H{"import": imp, "percentage": imp.Percentage()})
	c.Writer.Flush()

	if imp.IsTerminal() {
		return
	}

	streamEvents(c, ch)
}

// StreamAllImports streams the aggregate topic over SSE: started and
// terminal events for every import plus throttled progress updates.
func StreamAllImports(c *gin.Context) {
	_, _, broadcaster := importServices()

	ch := broadcaster.Subscribe(services.AggregateImportTopic)
	defer broadcaster.Unsubscribe(services.AggregateImportTopic, ch)

	streamEvents(c, ch)
}

func streamEvents(c *gin.Context, ch chan services.ImportEvent) {
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

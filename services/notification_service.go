package services

import (
	"fmt"
	"log"
	"time"

	"user-management-api/config"
	"user-management-api/models"

	"gorm.io/gorm"
)

// NotificationService writes in-app notifications for the admin who created
// an import. Failures here are logged only; they never affect the run.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	if db == nil {
		db = config.DB
	}
	return &NotificationService{db: db}
}

func (s *NotificationService) ImportFinished(imp *models.UserImport, successful, failed int) {
	if imp == nil || imp.CreatedBy == 0 {
		return
	}

	title := "User import completed"
	ntype := "success"
	message := fmt.Sprintf("Import of %s finished: %d users imported.", imp.FileName(), successful)
	switch {
	case imp.Status == models.UserImportStatusFailed:
		title = "User import failed"
		ntype = "error"
		message = fmt.Sprintf("Import of %s failed", imp.FileName())
		if imp.ErrorMessage != nil {
			message = fmt.Sprintf("%s: %s", message, *imp.ErrorMessage)
		}
	case failed > 0:
		ntype = "warning"
		message = fmt.Sprintf("Import of %s finished: %d users imported, %d rows rejected.", imp.FileName(), successful, failed)
	}

	importID := imp.ImportID
	notification := &models.Notification{
		UserID:          imp.CreatedBy,
		Title:           title,
		Message:         message,
		Type:            ntype,
		RelatedImportID: &importID,
		CreateAt:        time.Now(),
	}
	if err := s.db.Create(notification).Error; err != nil {
		log.Printf("failed to create notification for import %d: %v", imp.ImportID, err)
	}
}

package services

import (
	"errors"
	"fmt"
	"time"

	"user-management-api/config"
	"user-management-api/models"

	"gorm.io/gorm"
)

var (
	ErrUserImportNotFound   = errors.New("user import not found")
	ErrImportAlreadyClaimed = errors.New("user import already claimed")
)

// UserImportRunService owns the persistent state machine of an import:
// pending -> processing -> completed|failed, no backward transitions. The
// claim transition is guarded so a duplicate schedule is a safe no-op.
type UserImportRunService struct {
	db *gorm.DB
}

func NewUserImportRunService(db *gorm.DB) *UserImportRunService {
	if db == nil {
		db = config.DB
	}
	return &UserImportRunService{db: db}
}

func (s *UserImportRunService) Create(createdBy uint, fileID *int) (*models.UserImport, error) {
	imp := &models.UserImport{
		Status:    models.UserImportStatusPending,
		CreatedBy: createdBy,
		FileID:    fileID,
	}
	if err := s.db.Create(imp).Error; err != nil {
		return nil, err
	}
	return imp, nil
}

// Claim atomically moves a pending import to processing. The guard makes the
// claimer the sole mutator for the rest of the run: a second schedule against
// the same id affects zero rows and returns ErrImportAlreadyClaimed.
func (s *UserImportRunService) Claim(id uint) error {
	res := s.db.Exec(
		"UPDATE user_imports SET status = ?, update_at = ? WHERE import_id = ? AND status = ?",
		models.UserImportStatusProcessing, time.Now(), id, models.UserImportStatusPending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetByID(id); err != nil {
			return err
		}
		return ErrImportAlreadyClaimed
	}
	return nil
}

// AttachFile links the downloaded artifact to an import created from a URL.
func (s *UserImportRunService) AttachFile(id uint, fileID int) error {
	res := s.db.Model(&models.UserImport{}).
		Where("import_id = ?", id).
		Updates(map[string]interface{}{"file_id": fileID, "update_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserImportNotFound
	}
	return nil
}

// SetTotalRows fixes the row count once at the start of batch processing.
func (s *UserImportRunService) SetTotalRows(id uint, total int) error {
	res := s.db.Exec(
		"UPDATE user_imports SET total_rows = ?, update_at = ? WHERE import_id = ? AND status = ?",
		total, time.Now(), id, models.UserImportStatusProcessing,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserImportNotFound
	}
	return nil
}

// UpdateProgress records rows processed so far. Guarded on the processing
// state so a late write cannot touch a terminal record.
func (s *UserImportRunService) UpdateProgress(id uint, processed int) error {
	res := s.db.Exec(
		"UPDATE user_imports SET progress = ?, update_at = ? WHERE import_id = ? AND status = ?",
		processed, time.Now(), id, models.UserImportStatusProcessing,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserImportNotFound
	}
	return nil
}

// MarkCompleted finishes the run, forcing progress to total_rows. The
// summary is set only for completion with partial row errors.
func (s *UserImportRunService) MarkCompleted(id uint, errorSummary *string) error {
	updates := map[string]interface{}{
		"status":    models.UserImportStatusCompleted,
		"progress":  gorm.Expr("total_rows"),
		"update_at": time.Now(),
	}
	if errorSummary != nil {
		updates["error_message"] = truncateErrorMessage(*errorSummary)
	}
	return s.finish(id, updates)
}

func (s *UserImportRunService) MarkFailed(id uint, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finish(id, map[string]interface{}{
		"status":        models.UserImportStatusFailed,
		"error_message": truncateErrorMessage(msg),
		"update_at":     time.Now(),
	})
}

// finish applies a terminal transition. Failing is allowed from pending too
// (a remote fetch can fail before the batch processor ever claims the
// record); a record that is already terminal is never touched.
func (s *UserImportRunService) finish(id uint, updates map[string]interface{}) error {
	res := s.db.Model(&models.UserImport{}).
		Where("import_id = ? AND status IN ?", id,
			[]string{models.UserImportStatusPending, models.UserImportStatusProcessing}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserImportNotFound
	}
	return nil
}

func (s *UserImportRunService) GetByID(id uint) (*models.UserImport, error) {
	var imp models.UserImport
	if err := s.db.Preload("File").Where("import_id = ?", id).First(&imp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserImportNotFound
		}
		return nil, err
	}
	return &imp, nil
}

func (s *UserImportRunService) List(limit, offset int) ([]models.UserImport, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.Model(&models.UserImport{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var imports []models.UserImport
	err := s.db.Preload("File").
		Order("create_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&imports).Error
	if err != nil {
		return nil, 0, err
	}
	return imports, total, nil
}

func truncateErrorMessage(msg string) string {
	const maxLen = 2000
	if len(msg) <= maxLen {
		return msg
	}
	return fmt.Sprintf("%s...", msg[:maxLen-3])
}

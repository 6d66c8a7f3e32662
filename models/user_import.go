package models

import (
	"math"
	"time"
)

const (
	UserImportStatusPending    = "pending"
	UserImportStatusProcessing = "processing"
	UserImportStatusCompleted  = "completed"
	UserImportStatusFailed     = "failed"
)

// UserImport tracks one bulk user import run. Status moves pending ->
// processing -> completed|failed and never backwards; a terminal record is
// only ever read.
type UserImport struct {
	ImportID uint `gorm:"primaryKey;autoIncrement;column:import_id" json:"import_id"`

	Status       string  `gorm:"type:enum('pending','processing','completed','failed');not null;default:'pending'" json:"status"`
	Progress     int     `gorm:"column:progress;not null;default:0" json:"progress"`
	TotalRows    int     `gorm:"column:total_rows;not null;default:0" json:"total_rows"`
	ErrorMessage *string `gorm:"column:error_message;type:text" json:"error_message,omitempty"`

	CreatedBy uint `gorm:"column:created_by" json:"created_by"`
	FileID    *int `gorm:"column:file_id" json:"file_id,omitempty"`

	CreateAt time.Time `gorm:"column:create_at;autoCreateTime" json:"created_at"`
	UpdateAt time.Time `gorm:"column:update_at;autoUpdateTime" json:"updated_at"`

	// Relations
	File    *FileUpload `gorm:"foreignKey:FileID" json:"file,omitempty"`
	Creator User        `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
}

func (UserImport) TableName() string { return "user_imports" }

// Percentage returns rows processed as a rounded percent of the total.
// Zero before the total is known.
func (i *UserImport) Percentage() int {
	if i.TotalRows == 0 {
		return 0
	}
	return int(math.Round(float64(i.Progress) / float64(i.TotalRows) * 100))
}

// IsTerminal reports whether the import reached a final state.
func (i *UserImport) IsTerminal() bool {
	return i.Status == UserImportStatusCompleted || i.Status == UserImportStatusFailed
}

// FileName returns the original name of the attached file, if any.
func (i *UserImport) FileName() string {
	if i.File == nil {
		return ""
	}
	return i.File.OriginalName
}

package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateUniqueFilename returns a collision-free name for storing an
// uploaded file, keeping the original extension.
func GenerateUniqueFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	base = SanitizeInput(base)
	if base == "" {
		base = "upload"
	}
	return fmt.Sprintf("%s_%s%s", base, uuid.New().String(), ext)
}

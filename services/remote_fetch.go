package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"user-management-api/config"
	"user-management-api/models"
	"user-management-api/utils"

	"gorm.io/gorm"
)

// RemoteFetchService retrieves an import source file from a URL into local
// storage. A single GET, success-class responses only, no retries; any
// failure is pipeline fatal for the import that requested it.
type RemoteFetchService struct {
	db        *gorm.DB
	client    *http.Client
	uploadDir string
}

func NewRemoteFetchService(db *gorm.DB) *RemoteFetchService {
	if db == nil {
		db = config.DB
	}
	return &RemoteFetchService{
		db:        db,
		client:    &http.Client{Timeout: 2 * time.Minute},
		uploadDir: filepath.Join("uploads", "imports"),
	}
}

func (s *RemoteFetchService) FetchToUpload(ctx context.Context, rawURL string, uploadedBy uint) (*models.FileUpload, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid file url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	originalName := remoteFileName(parsed, resp)

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	storedName := utils.GenerateUniqueFilename(originalName)
	dstPath := filepath.Join(s.uploadDir, storedName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("store downloaded file: %w", err)
	}
	size, err := io.Copy(dst, resp.Body)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("store downloaded file: %w", err)
	}
	if closeErr != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("store downloaded file: %w", closeErr)
	}

	now := time.Now()
	file := &models.FileUpload{
		OriginalName: originalName,
		StoredPath:   dstPath,
		FileSize:     size,
		MimeType:     resp.Header.Get("Content-Type"),
		UploadedBy:   uploadedBy,
		CreateAt:     now,
		UpdateAt:     now,
	}
	if err := s.db.Create(file).Error; err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("record downloaded file: %w", err)
	}
	return file, nil
}

// remoteFileName derives the original filename from the URL path, falling
// back to the Content-Disposition header, then a generic name.
func remoteFileName(parsed *url.URL, resp *http.Response) string {
	name := path.Base(parsed.Path)
	if name != "" && name != "/" && name != "." {
		return name
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		for _, part := range strings.Split(cd, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "filename=") {
				return strings.Trim(strings.TrimPrefix(part, "filename="), `"`)
			}
		}
	}
	return "download"
}

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"user-management-api/models"

	"gorm.io/gorm"
)

const (
	// importBatchSize balances progress-update granularity against
	// broadcast overhead.
	importBatchSize = 10
	// recentErrorLimit bounds broadcast payloads, not processing.
	recentErrorLimit  = 5
	summaryErrorLimit = 3
)

type importRunStore interface {
	GetByID(id uint) (*models.UserImport, error)
	Claim(id uint) error
	AttachFile(id uint, fileID int) error
	SetTotalRows(id uint, total int) error
	UpdateProgress(id uint, processed int) error
	MarkCompleted(id uint, errorSummary *string) error
	MarkFailed(id uint, runErr error) error
}

type rowMaterializer interface {
	MaterializeRow(ctx context.Context, row map[string]string, dataIndex int) RowOutcome
}

type fileFetcher interface {
	FetchToUpload(ctx context.Context, rawURL string, uploadedBy uint) (*models.FileUpload, error)
}

type importNotifier interface {
	ImportFinished(imp *models.UserImport, successful, failed int)
}

// UserImportJobService drives one import to a terminal state. Exactly one
// Run owns a given import for its lifetime; the claim transition turns a
// duplicate schedule into a no-op. Rows are processed strictly sequentially,
// which keeps the counters and the progress integer race free.
type UserImportJobService struct {
	runs          importRunStore
	materializer  rowMaterializer
	broadcaster   *ImportBroadcaster
	fetcher       fileFetcher
	notifications importNotifier

	readFile func(string) ([]byte, error)
	// batchDelay runs between batches. No-op by default; dev setups may
	// install a short sleep to make progress visible.
	batchDelay func()
}

func NewUserImportJobService(db *gorm.DB, broadcaster *ImportBroadcaster) *UserImportJobService {
	return &UserImportJobService{
		runs:          NewUserImportRunService(db),
		materializer:  NewUserMaterializer(NewUserAccountService(db)),
		broadcaster:   broadcaster,
		fetcher:       NewRemoteFetchService(db),
		notifications: NewNotificationService(db),
		readFile:      os.ReadFile,
		batchDelay:    func() {},
	}
}

// SetBatchDelay installs an injectable inter-batch delay strategy.
func (s *UserImportJobService) SetBatchDelay(delay func()) {
	if delay == nil {
		delay = func() {}
	}
	s.batchDelay = delay
}

// RunFromURL downloads the source file, attaches it, then runs the batch
// processor. Any fetch failure fails the import before a single row is read;
// the helper never retries.
func (s *UserImportJobService) RunFromURL(ctx context.Context, importID uint, rawURL string) {
	ctx = persistentContext(ctx)

	imp, err := s.runs.GetByID(importID)
	if err != nil {
		log.Printf("user import %d not loadable: %v", importID, err)
		return
	}

	file, err := s.fetcher.FetchToUpload(ctx, rawURL, imp.CreatedBy)
	if err != nil {
		s.fail(imp, fmt.Errorf("download import file: %w", err))
		return
	}
	if err := s.runs.AttachFile(importID, file.FileID); err != nil {
		s.fail(imp, fmt.Errorf("attach downloaded file: %w", err))
		return
	}

	s.Run(ctx, importID)
}

// Run claims the import and processes every row in fixed-size batches.
// Row-scoped failures are counted and summarized; only pipeline-level errors
// (unsupported type, unreadable file, internal error) fail the whole run.
func (s *UserImportJobService) Run(ctx context.Context, importID uint) {
	ctx = persistentContext(ctx)

	if err := s.runs.Claim(importID); err != nil {
		if errors.Is(err, ErrImportAlreadyClaimed) {
			log.Printf("user import %d already claimed, skipping duplicate schedule", importID)
			return
		}
		log.Printf("failed to claim user import %d: %v", importID, err)
		return
	}

	imp, err := s.runs.GetByID(importID)
	if err != nil {
		log.Printf("user import %d not loadable after claim: %v", importID, err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(imp, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	s.broadcast(ImportEventStarted, imp, nil, nil, nil)

	if imp.File == nil {
		s.fail(imp, errors.New("no file attached to import"))
		return
	}

	data, err := s.readFile(imp.File.StoredPath)
	if err != nil {
		s.fail(imp, fmt.Errorf("read import file: %w", err))
		return
	}

	total, err := CountDataRows(imp.File.OriginalName, data)
	if err != nil {
		s.fail(imp, err)
		return
	}
	if err := s.runs.SetTotalRows(importID, total); err != nil {
		log.Printf("failed to set total rows for import %d: %v", importID, err)
	}
	imp.TotalRows = total

	src, err := OpenRowSource(imp.File.OriginalName, data)
	if err != nil {
		s.fail(imp, err)
		return
	}

	successful, failed := 0, 0
	recentErrors := make([]string, 0, recentErrorLimit)
	firstErrors := make([]string, 0, summaryErrorLimit)
	processed := 0

	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.fail(imp, err)
			return
		}

		outcome := s.materializer.MaterializeRow(ctx, row, processed)
		if outcome.Kind == RowRejected {
			failed++
			recentErrors = appendBounded(recentErrors, outcome.Reason, recentErrorLimit)
			if len(firstErrors) < summaryErrorLimit {
				firstErrors = append(firstErrors, outcome.Reason)
			}
		} else {
			successful++
		}

		// Progress is persisted per row so polling clients see movement
		// even without a broadcast subscription.
		processed++
		imp.Progress = processed
		if err := s.runs.UpdateProgress(importID, processed); err != nil {
			log.Printf("failed to update progress for import %d: %v", importID, err)
		}

		if processed%importBatchSize == 0 {
			s.broadcast(ImportEventProgress, imp, &successful, &failed, recentErrors)
			s.batchDelay()
		}
	}

	// Partial row failures still complete the import; only the file itself
	// failing to parse is a pipeline failure.
	var summary *string
	if failed > 0 {
		msg := fmt.Sprintf("Import finished with %d errors. %s", failed, strings.Join(firstErrors, "; "))
		summary = &msg
	}
	if err := s.runs.MarkCompleted(importID, summary); err != nil {
		log.Printf("failed to mark import %d completed: %v", importID, err)
	}
	imp.Status = models.UserImportStatusCompleted
	imp.Progress = imp.TotalRows
	imp.ErrorMessage = summary

	s.broadcast(ImportEventCompleted, imp, &successful, &failed, recentErrors)
	if s.notifications != nil {
		s.notifications.ImportFinished(imp, successful, failed)
	}
	s.broadcaster.CloseTopic(ImportTopic(importID))
}

// fail moves the import to its failed terminal state and emits the final
// broadcast. Used for every pipeline-level error.
func (s *UserImportJobService) fail(imp *models.UserImport, runErr error) {
	log.Printf("user import %d failed: %v", imp.ImportID, runErr)
	if err := s.runs.MarkFailed(imp.ImportID, runErr); err != nil {
		log.Printf("failed to mark import %d failed: %v", imp.ImportID, err)
	}
	msg := runErr.Error()
	imp.Status = models.UserImportStatusFailed
	imp.ErrorMessage = &msg

	s.broadcast(ImportEventFailed, imp, nil, nil, nil)
	if s.notifications != nil {
		s.notifications.ImportFinished(imp, 0, 0)
	}
	s.broadcaster.CloseTopic(ImportTopic(imp.ImportID))
}

func (s *UserImportJobService) broadcast(eventType string, imp *models.UserImport, successful, failed *int, recentErrors []string) {
	if s.broadcaster == nil {
		return
	}
	var recent []string
	if len(recentErrors) > 0 {
		recent = append(recent, recentErrors...)
	}
	s.broadcaster.BroadcastImportEvent(eventType, ImportEventData{
		ImportID:          imp.ImportID,
		Status:            imp.Status,
		Progress:          imp.Progress,
		TotalRows:         imp.TotalRows,
		Percentage:        imp.Percentage(),
		ErrorMessage:      imp.ErrorMessage,
		FileName:          imp.FileName(),
		CreatedAt:         imp.CreateAt,
		SuccessfulImports: successful,
		FailedImports:     failed,
		RecentErrors:      recent,
	})
}

func appendBounded(list []string, entry string, limit int) []string {
	list = append(list, entry)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

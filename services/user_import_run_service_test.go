package services

import (
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"user-management-api/models"
)

var (
	claimPattern  = regexp.MustCompile(`UPDATE user_imports SET status = \?, update_at = \? WHERE import_id = \? AND status = \?`)
	selectPattern = regexp.MustCompile("SELECT \\* FROM `user_imports` WHERE import_id = ")
	finishPattern = regexp.MustCompile("UPDATE `user_imports` SET .+ WHERE import_id = \\? AND status IN \\(\\?,\\?\\)")
)

func importColumns() []string {
	return []string{"import_id", "status", "progress", "total_rows", "error_message", "created_by", "file_id", "create_at", "update_at"}
}

func importRow(id int64, status string) []driver.Value {
	now := time.Now()
	return []driver.Value{id, status, int64(0), int64(0), nil, int64(1), nil, now, now}
}

func TestClaimTransitionsPendingImport(t *testing.T) {
	db, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindExec, pattern: claimPattern, result: scriptedResult{rowsAffected: 1}},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.Claim(42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimAlreadyProcessing(t *testing.T) {
	db, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindExec, pattern: claimPattern, result: scriptedResult{rowsAffected: 0}},
		{kind: kindQuery, pattern: selectPattern, columns: importColumns(), rows: [][]driver.Value{
			importRow(42, models.UserImportStatusProcessing),
		}},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.Claim(42); !errors.Is(err, ErrImportAlreadyClaimed) {
		t.Fatalf("expected ErrImportAlreadyClaimed, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimMissingImport(t *testing.T) {
	db, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindExec, pattern: claimPattern, result: scriptedResult{rowsAffected: 0}},
		{kind: kindQuery, pattern: selectPattern, columns: importColumns()},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.Claim(42); !errors.Is(err, ErrUserImportNotFound) {
		t.Fatalf("expected ErrUserImportNotFound, got %v", err)
	}
}

func TestUpdateProgressGuardedByProcessingState(t *testing.T) {
	db, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile(`UPDATE user_imports SET progress = \?, update_at = \? WHERE import_id = \? AND status = \?`),
			result:  scriptedResult{rowsAffected: 0},
		},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.UpdateProgress(42, 7); !errors.Is(err, ErrUserImportNotFound) {
		t.Fatalf("expected guard to reject a terminal record, got %v", err)
	}
}

func TestMarkCompletedForcesProgressToTotal(t *testing.T) {
	db, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE `user_imports` SET .*`progress`=total_rows"),
			result:  scriptedResult{rowsAffected: 1},
		},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	summary := "Import finished with 2 errors. Row 2: Email is required; Row 5: Full name is required"
	if err := svc.MarkCompleted(42, &summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkFailedFromPending(t *testing.T) {
	db, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindExec, pattern: finishPattern, result: scriptedResult{rowsAffected: 1}},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.MarkFailed(42, errors.New("download import file: unexpected status 404")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkFailedAfterTerminalStateIsRejected(t *testing.T) {
	db, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindExec, pattern: finishPattern, result: scriptedResult{rowsAffected: 0}},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	if err := svc.MarkFailed(42, errors.New("late failure")); !errors.Is(err, ErrUserImportNotFound) {
		t.Fatalf("expected ErrUserImportNotFound, got %v", err)
	}
}

func TestCreatePendingImport(t *testing.T) {
	db, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("INSERT INTO `user_imports`"),
			result:  scriptedResult{lastInsertID: 5, rowsAffected: 1},
		},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	imp, err := svc.Create(9, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if imp.ImportID != 5 {
		t.Fatalf("expected assigned id 5, got %d", imp.ImportID)
	}
	if imp.Status != models.UserImportStatusPending {
		t.Fatalf("expected pending status, got %s", imp.Status)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestGetByIDPreloadsFile(t *testing.T) {
	now := time.Now()
	fileID := int64(3)
	db, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{kind: kindQuery, pattern: selectPattern, columns: importColumns(), rows: [][]driver.Value{
			{int64(42), models.UserImportStatusCompleted, int64(4), int64(4), nil, int64(1), fileID, now, now},
		}},
		{kind: kindQuery, pattern: regexp.MustCompile("SELECT \\* FROM `file_uploads`"),
			columns: []string{"file_id", "original_name", "stored_path"},
			rows:    [][]driver.Value{{fileID, "users.csv", "/tmp/users.csv"}}},
	})
	defer cleanup()

	svc := NewUserImportRunService(db)
	imp, err := svc.GetByID(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if imp.FileName() != "users.csv" {
		t.Fatalf("expected preloaded file, got %+v", imp.File)
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := truncateErrorMessage(long)
	if len(got) != 2000 {
		t.Fatalf("expected 2000 chars, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}

	short := "fits"
	if truncateErrorMessage(short) != short {
		t.Fatal("short message must pass through unchanged")
	}
}

package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var resultCols = []string{
	"id", "account_id", "ad_id", "week_start", "result_family",
	"result_count", "cpr", "spend", "is_primary",
}

func resultRow(id string, week time.Time) []driver.Value {
	return []driver.Value{id, "acct-1", "ad-1", week, "purchase", 5.0, 20.0, 100.0, true}
}

func TestResultsRepo_ListByAccount_PagesAtConfiguredSize(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewResultsRepo(db, 2)

	week := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)

	// Full first page at the configured size, then a short page ending the
	// scan.
	mock.ExpectQuery("SELECT (.+) FROM normalized_weekly_results").
		WithArgs("acct-1", 2, 0).
		WillReturnRows(sqlmock.NewRows(resultCols).
			AddRow(resultRow("res-1", week)...).
			AddRow(resultRow("res-2", week.AddDate(0, 0, -7))...))
	mock.ExpectQuery("SELECT (.+) FROM normalized_weekly_results").
		WithArgs("acct-1", 2, 2).
		WillReturnRows(sqlmock.NewRows(resultCols).
			AddRow(resultRow("res-3", week.AddDate(0, 0, -14))...))

	got, err := repo.ListByAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("ListByAccount() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListByAccount() returned %d rows, want 3", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResultsRepo_ZeroPageSizeFallsBackToDefault(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewResultsRepo(db, 0)
	if repo.pageSize != DefaultPageSize {
		t.Errorf("pageSize = %d, want %d", repo.pageSize, DefaultPageSize)
	}
}

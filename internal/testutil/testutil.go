// Package testutil holds helpers shared by package tests.
package testutil

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"marketflow/internal/common"
)

// NewWarehouse returns a sqlmock-backed session. Unmet expectations fail the
// test at cleanup.
func NewWarehouse(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet warehouse expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

// ExpectExec expects one statement starting with prefix and returns rows affected
func ExpectExec(mock sqlmock.Sqlmock, prefix string, rows int64) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta(prefix)).WillReturnResult(sqlmock.NewResult(0, rows))
}

// ExpectCount expects one query starting with prefix that returns a single
// row of integer columns
func ExpectCount(mock sqlmock.Sqlmock, prefix string, values ...int64) *sqlmock.ExpectedQuery {
	columns := make([]string, len(values))
	row := make([]driver.Value, len(values))
	for i, v := range values {
		columns[i] = fmt.Sprintf("c%d", i)
		row[i] = v
	}
	return mock.ExpectQuery(regexp.QuoteMeta(prefix)).WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))
}

// ExpectRunLog expects one INGESTION_LOGS row at level for step
func ExpectRunLog(mock sqlmock.Sqlmock, level, step string) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta("INSERT INTO INGESTION_LOGS")).
		WithArgs(sqlmock.AnyArg(), level, step, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// WriteFile writes content under dir with owner-only permissions and returns its path
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionSecure); err != nil {
		t.Fatalf("Failed to create directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), common.FilePermissionSecure); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

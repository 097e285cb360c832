package runlog

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

var (
	insertRunLogPattern   = regexp.QuoteMeta("INSERT INTO INGESTION_LOGS")
	insertCheckLogPattern = regexp.QuoteMeta("INSERT INTO DQ_CHECK_LOGS")
)

func bufferedLogger(buf *bytes.Buffer) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(buf),
		zap.DebugLevel,
	)
	return zap.New(core)
}

func TestLogInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(insertRunLogPattern).
		WithArgs("run-1", "INFO", "load_raw_clickstream", "loaded", int64(25), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	logger := New(db, "run-1", nil)
	logger.Loaded(context.Background(), "load_raw_clickstream", "loaded", 25)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(insertRunLogPattern).
		WithArgs("run-1", "INFO", "pipeline", "started", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertRunLogPattern).
		WithArgs("run-1", "ERROR", "load_dim_customer", "failed", nil, "Merge failed: boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	logger := New(db, "run-1", nil)
	logger.Info(context.Background(), "pipeline", "started")
	logger.Error(context.Background(), "load_dim_customer", "failed",
		errors.Wrap(fmt.Errorf("boom"), errors.ErrCodeMergeFailed, "Merge failed"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogFailureDoesNotPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(insertRunLogPattern).WillReturnError(fmt.Errorf("table INGESTION_LOGS does not exist"))

	var buf bytes.Buffer
	logger := New(db, "run-1", bufferedLogger(&buf))

	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "pipeline", "started")
	})
	assert.Contains(t, buf.String(), "failed to insert log into Snowflake")
	assert.Contains(t, buf.String(), "INGESTION_LOGS does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(insertCheckLogPattern).
		WithArgs("run-7", "RAW_CUSTOMER_DEMOGRAPHICS", "null_customer_id", "FAILED", int64(3), "3 null customer_id values").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertCheckLogPattern).WillReturnError(fmt.Errorf("warehouse suspended"))

	var buf bytes.Buffer
	logger := New(db, "run-7", bufferedLogger(&buf))
	result := models.CheckResult{
		Table:     "RAW_CUSTOMER_DEMOGRAPHICS",
		CheckName: "null_customer_id",
		Status:    models.CheckFailed,
		Value:     3,
		Message:   "3 null customer_id values",
	}
	logger.RecordCheck(context.Background(), result)
	logger.RecordCheck(context.Background(), result)

	assert.Contains(t, buf.String(), "failed to insert DQ result into Snowflake")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS INGESTION_LOGS")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS DQ_CHECK_LOGS")).
		WillReturnError(fmt.Errorf("insufficient privileges"))

	var buf bytes.Buffer
	logger := New(db, "run-1", bufferedLogger(&buf))
	logger.EnsureTables(context.Background())

	assert.Contains(t, buf.String(), "failed to create audit table")
	assert.Equal(t, "run-1", logger.RunID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

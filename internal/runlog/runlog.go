// Package runlog writes the pipeline's durable audit trail: one row per step
// outcome in INGESTION_LOGS and one row per data quality check in
// DQ_CHECK_LOGS. Writing an audit row never fails the caller.
package runlog

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"marketflow/internal/snowflake"
	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

const (
	RunLogTable   = "INGESTION_LOGS"
	CheckLogTable = "DQ_CHECK_LOGS"
)

const createRunLogSQL = `CREATE TABLE IF NOT EXISTS INGESTION_LOGS (
    run_id VARCHAR,
    log_level VARCHAR NOT NULL,
    step_name VARCHAR NOT NULL,
    message VARCHAR,
    records_loaded NUMBER,
    error_details VARCHAR,
    logged_at TIMESTAMP_LTZ DEFAULT CURRENT_TIMESTAMP()
)`

const createCheckLogSQL = `CREATE TABLE IF NOT EXISTS DQ_CHECK_LOGS (
    run_id VARCHAR,
    table_name VARCHAR,
    check_name VARCHAR NOT NULL,
    status VARCHAR NOT NULL,
    result_value NUMBER,
    message VARCHAR,
    checked_at TIMESTAMP_LTZ DEFAULT CURRENT_TIMESTAMP()
)`

const insertRunLogSQL = `INSERT INTO INGESTION_LOGS (run_id, log_level, step_name, message, records_loaded, error_details)
VALUES (?, ?, ?, ?, ?, ?)`

const insertCheckLogSQL = `INSERT INTO DQ_CHECK_LOGS (run_id, table_name, check_name, status, result_value, message)
VALUES (?, ?, ?, ?, ?, ?)`

// Logger writes audit rows through a warehouse session
type Logger struct {
	session snowflake.Session
	runID   string
	log     *zap.Logger
}

// New returns a Logger stamping every row with runID
func New(session snowflake.Session, runID string, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		session: session,
		runID:   runID,
		log:     log.With(zap.String("run_id", runID)),
	}
}

// RunID returns the identifier stamped on this logger's rows
func (l *Logger) RunID() string {
	return l.runID
}

// EnsureTables creates both audit tables when missing. Failures are reported
// locally only.
func (l *Logger) EnsureTables(ctx context.Context) {
	for _, stmt := range []string{createRunLogSQL, createCheckLogSQL} {
		if _, err := l.session.ExecContext(ctx, stmt); err != nil {
			l.log.Error("failed to create audit table", zap.Error(err))
		}
	}
}

// Log appends one run log row. The row is mirrored to the local logger.
func (l *Logger) Log(ctx context.Context, entry models.RunLogEntry) {
	fields := []zap.Field{zap.String("step", entry.Step)}
	if entry.RecordsLoaded != nil {
		fields = append(fields, zap.Int64("records_loaded", *entry.RecordsLoaded))
	}
	if entry.ErrorDetails != "" {
		fields = append(fields, zap.String("error_details", entry.ErrorDetails))
	}
	switch entry.Level {
	case models.LevelError:
		l.log.Error(entry.Message, fields...)
	case models.LevelWarning:
		l.log.Warn(entry.Message, fields...)
	default:
		l.log.Info(entry.Message, fields...)
	}

	var records sql.NullInt64
	if entry.RecordsLoaded != nil {
		records = sql.NullInt64{Int64: *entry.RecordsLoaded, Valid: true}
	}
	details := sql.NullString{String: entry.ErrorDetails, Valid: entry.ErrorDetails != ""}

	_, err := l.session.ExecContext(ctx, insertRunLogSQL,
		l.runID, string(entry.Level), entry.Step, entry.Message, records, details)
	if err != nil {
		l.log.Error("failed to insert log into Snowflake", zap.String("step", entry.Step), zap.Error(err))
	}
}

// Info logs a step message without a count
func (l *Logger) Info(ctx context.Context, step, message string) {
	l.Log(ctx, models.RunLogEntry{Level: models.LevelInfo, Step: step, Message: message})
}

// Loaded logs a successful step with the number of records it affected
func (l *Logger) Loaded(ctx context.Context, step, message string, records int64) {
	l.Log(ctx, models.RunLogEntry{Level: models.LevelInfo, Step: step, Message: message, RecordsLoaded: &records})
}

// Error logs a failed step with the error detail
func (l *Logger) Error(ctx context.Context, step, message string, err error) {
	l.Log(ctx, models.RunLogEntry{Level: models.LevelError, Step: step, Message: message, ErrorDetails: errors.Detail(err)})
}

// RecordCheck appends one data quality row
func (l *Logger) RecordCheck(ctx context.Context, result models.CheckResult) {
	fields := []zap.Field{
		zap.String("table", result.Table),
		zap.String("check", result.CheckName),
		zap.String("status", string(result.Status)),
		zap.Int64("value", result.Value),
	}
	if result.Status == models.CheckPassed {
		l.log.Info(result.Message, fields...)
	} else {
		l.log.Warn(result.Message, fields...)
	}

	_, err := l.session.ExecContext(ctx, insertCheckLogSQL,
		l.runID, result.Table, result.CheckName, string(result.Status), result.Value, result.Message)
	if err != nil {
		l.log.Error("failed to insert DQ result into Snowflake", zap.String("check", result.CheckName), zap.Error(err))
	}
}

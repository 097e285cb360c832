package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/pkg/errors"
)

// Format is the layout of the staged files
type Format string

const (
	FormatCSV  Format = "CSV"
	FormatJSON Format = "JSON"
)

// Table describes a raw staging table and how its files are matched to it.
type Table struct {
	Name    string
	Format  Format
	Columns []Column
	Step    string // run log step name
}

// Column is one column of a raw staging table
type Column struct {
	Name string
	Type string
}

// CustomerDemographics is loaded from CSV files by column position.
var CustomerDemographics = Table{
	Name:   "RAW_CUSTOMER_DEMOGRAPHICS",
	Format: FormatCSV,
	Step:   "load_raw_customer_demographics",
	Columns: []Column{
		{"customer_id", "VARCHAR"},
		{"first_name", "VARCHAR"},
		{"last_name", "VARCHAR"},
		{"email", "VARCHAR"},
		{"region", "VARCHAR"},
		{"signup_date", "DATE"},
	},
}

// Clickstream is loaded from JSON files by case-insensitive column name.
var Clickstream = Table{
	Name:   "RAW_CLICKSTREAM",
	Format: FormatJSON,
	Step:   "load_raw_clickstream",
	Columns: []Column{
		{"event_id", "VARCHAR"},
		{"timestamp", "TIMESTAMP_NTZ"},
		{"user_id", "NUMBER"},
		{"event_type", "VARCHAR"},
		{"page_url", "VARCHAR"},
		{"duration_ms", "NUMBER"},
	},
}

// ColumnNames returns the table's column names in order
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Stage locates the files to copy
type Stage struct {
	Name       string
	FileFormat string
	Pattern    string
	OnError    string
}

// Loader replaces the contents of one raw table with the files in a stage.
type Loader struct {
	session snowflake.Session
	table   Table
	runLog  *runlog.Logger
	log     *zap.Logger
}

// NewLoader creates a loader for table
func NewLoader(session snowflake.Session, table Table, runLog *runlog.Logger, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		session: session,
		table:   table,
		runLog:  runLog,
		log:     log.With(zap.String("table", table.Name)),
	}
}

// Load truncates the table and copies every staged file matching the stage
// pattern into it. It returns the resulting row count. Re-running with the
// same files leaves the same rows.
func (l *Loader) Load(ctx context.Context, stage Stage) (int64, error) {
	step := l.table.Step
	l.log.Info("loading raw table", zap.String("stage", stage.Name), zap.String("pattern", stage.Pattern))

	copySQL, err := buildCopySQL(l.table, stage)
	if err != nil {
		return 0, l.fail(ctx, errors.LoadError(errors.ErrCodeCopyFailed,
			fmt.Sprintf("Invalid stage settings for %s", l.table.Name), "", err))
	}

	statements := []struct {
		query   string
		message string
	}{
		{buildCreateSQL(l.table), "Failed to create %s"},
		{fmt.Sprintf("TRUNCATE TABLE %s", l.table.Name), "Failed to truncate %s"},
		{copySQL, "Failed to copy staged files into %s"},
	}

	for _, stmt := range statements {
		if _, err := l.session.ExecContext(ctx, stmt.query); err != nil {
			return 0, l.fail(ctx, errors.LoadError(errors.ErrCodeCopyFailed,
				fmt.Sprintf(stmt.message, l.table.Name), stmt.query, err).
				WithContext("table", l.table.Name).
				WithContext("stage", stage.Name))
		}
	}

	count, err := snowflake.CountRows(ctx, l.session, l.table.Name)
	if err != nil {
		return 0, l.fail(ctx, errors.LoadError(errors.ErrCodeCopyFailed,
			fmt.Sprintf("Failed to count rows in %s", l.table.Name), "", err))
	}

	l.runLog.Loaded(ctx, step, fmt.Sprintf("Loaded %d rows into %s from @%s", count, l.table.Name, stage.Name), count)
	return count, nil
}

func (l *Loader) fail(ctx context.Context, err *errors.AppError) error {
	l.runLog.Error(ctx, l.table.Step, fmt.Sprintf("Failed to load %s", l.table.Name), err)
	return err
}

func buildCreateSQL(table Table) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = fmt.Sprintf("    %s %s", c.Name, c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", table.Name, strings.Join(cols, ",\n"))
}

// buildCopySQL builds the COPY INTO statement. CSV columns are matched by
// position, JSON fields by case-insensitive name.
func buildCopySQL(table Table, stage Stage) (string, error) {
	stageName, err := snowflake.Identifier(stage.Name)
	if err != nil {
		return "", fmt.Errorf("stage: %w", err)
	}
	fileFormat, err := snowflake.Identifier(stage.FileFormat)
	if err != nil {
		return "", fmt.Errorf("file format: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "COPY INTO %s\nFROM @%s\nFILE_FORMAT = (FORMAT_NAME = %s)", table.Name, stageName, snowflake.Literal(fileFormat))
	if stage.Pattern != "" {
		fmt.Fprintf(&b, "\nPATTERN = %s", snowflake.Literal(stage.Pattern))
	}
	if table.Format == FormatJSON {
		b.WriteString("\nMATCH_BY_COLUMN_NAME = CASE_INSENSITIVE")
	}
	if stage.OnError != "" {
		onError, err := onErrorOption(stage.OnError)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\nON_ERROR = %s", onError)
	}
	return b.String(), nil
}

// onErrorOption accepts the COPY ON_ERROR values Snowflake documents
func onErrorOption(value string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	switch {
	case v == "CONTINUE", v == "ABORT_STATEMENT", v == "SKIP_FILE":
		return v, nil
	case strings.HasPrefix(v, "SKIP_FILE_"):
		rest := strings.TrimPrefix(v, "SKIP_FILE_")
		percent := strings.HasSuffix(rest, "%")
		rest = strings.TrimSuffix(rest, "%")
		if rest == "" || strings.Trim(rest, "0123456789") != "" {
			break
		}
		// the percentage form is only accepted quoted
		if percent {
			return snowflake.Literal(v), nil
		}
		return v, nil
	}
	return "", fmt.Errorf("unsupported ON_ERROR value %q", value)
}

package snowflake

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Identifier checks that name is a plain, optionally qualified, unquoted
// identifier and returns it upper-cased. Table, stage and file format names
// are interpolated into statements, so anything else is rejected.
func Identifier(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return strings.ToUpper(name), nil
}

// Literal quotes s as a single-quoted SQL string literal
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CountRows returns SELECT COUNT(*) for table
func CountRows(ctx context.Context, session Session, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := session.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// Package quality runs the row-level assertions made against a raw staging
// table after it is loaded. A failing assertion is recorded as data; only an
// assertion that cannot be evaluated is returned as an error.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketflow/internal/alert"
	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

// Target is the table and key column a battery runs against
type Target struct {
	Table     string
	KeyColumn string
}

// Step is the run log step name for the target
func (t Target) Step() string {
	return "dq_" + strings.ToLower(t.Table)
}

// Check is one assertion in the battery
type Check struct {
	Name     string
	Evaluate func(ctx context.Context, session snowflake.Session, target Target) Outcome
}

// Battery returns the checks for target in execution order
func Battery(target Target) []Check {
	return []Check{
		{Name: "null_" + target.KeyColumn, Evaluate: nullKeyCheck},
		{Name: "unique_" + target.KeyColumn, Evaluate: uniqueKeyCheck},
		{Name: "row_count", Evaluate: nonEmptyCheck},
	}
}

// Checker runs the battery for one target
type Checker struct {
	session  snowflake.Session
	target   Target
	runLog   *runlog.Logger
	notifier alert.Notifier
	now      func() time.Time
	log      *zap.Logger
}

func NewChecker(session snowflake.Session, target Target, runLog *runlog.Logger, notifier alert.Notifier, log *zap.Logger) *Checker {
	if notifier == nil {
		notifier = alert.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		session:  session,
		target:   target,
		runLog:   runLog,
		notifier: notifier,
		now:      time.Now,
		log:      log.With(zap.String("table", target.Table)),
	}
}

// RunChecks evaluates the battery in order and records every outcome. It
// stops at the first check that cannot be evaluated and returns its error
// after recording it.
func (c *Checker) RunChecks(ctx context.Context) ([]models.CheckResult, error) {
	if _, err := snowflake.Identifier(c.target.Table); err != nil {
		return nil, errors.CheckError("target", err)
	}
	if _, err := snowflake.Identifier(c.target.KeyColumn); err != nil {
		return nil, errors.CheckError("target", err)
	}

	results := make([]models.CheckResult, 0, 3)
	for _, check := range Battery(c.target) {
		outcome := check.Evaluate(ctx, c.session, c.target)

		result := models.CheckResult{
			Table:     c.target.Table,
			CheckName: check.Name,
			Status:    outcome.Status,
			Value:     outcome.Value,
			Message:   outcome.Message,
			CheckedAt: c.now().UTC(),
		}
		c.runLog.RecordCheck(ctx, result)
		results = append(results, result)

		switch outcome.Status {
		case models.CheckError:
			err := errors.CheckError(check.Name, outcome.Err).WithContext("table", c.target.Table)
			c.runLog.Error(ctx, c.target.Step(), fmt.Sprintf("Data quality check %s errored", check.Name), err)
			return results, err
		case models.CheckFailed:
			if err := c.notifier.CheckFailed(ctx, c.runLog.RunID(), result); err != nil {
				c.log.Warn("failed to send data quality alert", zap.String("check", check.Name), zap.Error(err))
			}
		}
	}

	c.runLog.Info(ctx, c.target.Step(), summarize(c.target, results))
	return results, nil
}

func summarize(target Target, results []models.CheckResult) string {
	failed := 0
	for _, r := range results {
		if r.Status != models.CheckPassed {
			failed++
		}
	}
	return fmt.Sprintf("Data quality checks on %s: %d passed, %d failed", target.Table, len(results)-failed, failed)
}

// nullKeyCheck passes when no key is NULL. The value is the NULL count.
func nullKeyCheck(ctx context.Context, session snowflake.Session, target Target) Outcome {
	var nulls int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", target.Table, target.KeyColumn)
	if err := session.QueryRowContext(ctx, query).Scan(&nulls); err != nil {
		return Errored(err)
	}
	if nulls == 0 {
		return Passed(0, fmt.Sprintf("No null %s values", target.KeyColumn))
	}
	return Failed(nulls, fmt.Sprintf("%d null %s values", nulls, target.KeyColumn))
}

// uniqueKeyCheck compares non-null key count with distinct key count. It
// passes with the distinct count, or fails with the number of duplicates.
func uniqueKeyCheck(ctx context.Context, session snowflake.Session, target Target) Outcome {
	var total, distinct int64
	query := fmt.Sprintf("SELECT COUNT(%[2]s), COUNT(DISTINCT %[2]s) FROM %[1]s", target.Table, target.KeyColumn)
	if err := session.QueryRowContext(ctx, query).Scan(&total, &distinct); err != nil {
		return Errored(err)
	}
	if total == distinct {
		return Passed(distinct, fmt.Sprintf("All %d %s values are unique", distinct, target.KeyColumn))
	}
	dupes := total - distinct
	return Failed(dupes, fmt.Sprintf("%d duplicate %s values (%d rows, %d distinct)", dupes, target.KeyColumn, total, distinct))
}

// nonEmptyCheck passes when the table has at least one row
func nonEmptyCheck(ctx context.Context, session snowflake.Session, target Target) Outcome {
	count, err := snowflake.CountRows(ctx, session, target.Table)
	if err != nil {
		return Errored(err)
	}
	if count > 0 {
		return Passed(count, fmt.Sprintf("%s has %d rows", target.Table, count))
	}
	return Failed(0, fmt.Sprintf("%s is empty", target.Table))
}

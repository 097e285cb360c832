// Package transform promotes raw staging rows into the customer dimension and
// the click event fact table with set-based MERGE statements.
package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/pkg/errors"
)

const (
	DimCustomerTable     = "DIM_CUSTOMER"
	FactClickEventsTable = "FACT_CLICK_EVENTS"

	DimCustomerStep     = "load_dim_customer"
	FactClickEventsStep = "load_fact_click_events"
)

const createDimCustomerSQL = `CREATE TABLE IF NOT EXISTS DIM_CUSTOMER (
    customer_id VARCHAR PRIMARY KEY,
    first_name VARCHAR,
    last_name VARCHAR,
    email VARCHAR,
    region VARCHAR,
    signup_date DATE,
    is_active BOOLEAN DEFAULT TRUE,
    created_at TIMESTAMP_LTZ DEFAULT CURRENT_TIMESTAMP(),
    updated_at TIMESTAMP_LTZ
)`

// Source rows are reduced to one per customer_id. The latest signup wins;
// email breaks ties so the choice is stable across runs.
const mergeDimCustomerSQL = `MERGE INTO DIM_CUSTOMER AS target
USING (
    SELECT customer_id, first_name, last_name, email, region, signup_date
    FROM RAW_CUSTOMER_DEMOGRAPHICS
    WHERE customer_id IS NOT NULL
    QUALIFY ROW_NUMBER() OVER (PARTITION BY customer_id ORDER BY signup_date DESC NULLS LAST, email) = 1
) AS source
ON target.customer_id = source.customer_id
WHEN MATCHED THEN UPDATE SET
    target.first_name = source.first_name,
    target.last_name = source.last_name,
    target.email = source.email,
    target.region = source.region,
    target.signup_date = source.signup_date,
    target.updated_at = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN INSERT
    (customer_id, first_name, last_name, email, region, signup_date, is_active, created_at)
VALUES
    (source.customer_id, source.first_name, source.last_name, source.email, source.region, source.signup_date, TRUE, CURRENT_TIMESTAMP())`

const createFactClickEventsSQL = `CREATE TABLE IF NOT EXISTS FACT_CLICK_EVENTS (
    event_id VARCHAR PRIMARY KEY,
    user_id NUMBER,
    event_type VARCHAR,
    page_url VARCHAR,
    duration_ms NUMBER,
    event_time TIMESTAMP_NTZ,
    created_at TIMESTAMP_LTZ DEFAULT CURRENT_TIMESTAMP()
)`

// Facts are never updated once present, so there is no WHEN MATCHED clause.
const mergeFactClickEventsSQL = `MERGE INTO FACT_CLICK_EVENTS AS target
USING (
    SELECT event_id, user_id, event_type, page_url, duration_ms, timestamp AS event_time
    FROM RAW_CLICKSTREAM
    WHERE event_id IS NOT NULL
    QUALIFY ROW_NUMBER() OVER (PARTITION BY event_id ORDER BY timestamp) = 1
) AS source
ON target.event_id = source.event_id
WHEN NOT MATCHED THEN INSERT
    (event_id, user_id, event_type, page_url, duration_ms, event_time, created_at)
VALUES
    (source.event_id, source.user_id, source.event_type, source.page_url, source.duration_ms, source.event_time, CURRENT_TIMESTAMP())`

// Transformer runs the dimension and fact merges
type Transformer struct {
	session snowflake.Session
	runLog  *runlog.Logger
	log     *zap.Logger
}

func NewTransformer(session snowflake.Session, runLog *runlog.Logger, log *zap.Logger) *Transformer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transformer{session: session, runLog: runLog, log: log}
}

// MergeCustomerDimension upserts every staged customer into DIM_CUSTOMER and
// returns the number of rows inserted or updated.
func (t *Transformer) MergeCustomerDimension(ctx context.Context) (int64, error) {
	return t.merge(ctx, mergeJob{
		table:  DimCustomerTable,
		step:   DimCustomerStep,
		create: createDimCustomerSQL,
		merge:  mergeDimCustomerSQL,
	})
}

// MergeClickEvents inserts staged events whose event_id is not yet in
// FACT_CLICK_EVENTS and returns the number inserted.
func (t *Transformer) MergeClickEvents(ctx context.Context) (int64, error) {
	return t.merge(ctx, mergeJob{
		table:  FactClickEventsTable,
		step:   FactClickEventsStep,
		create: createFactClickEventsSQL,
		merge:  mergeFactClickEventsSQL,
	})
}

type mergeJob struct {
	table  string
	step   string
	create string
	merge  string
}

func (t *Transformer) merge(ctx context.Context, job mergeJob) (int64, error) {
	t.runLog.Info(ctx, job.step, fmt.Sprintf("Populating %s", job.table))

	if _, err := t.session.ExecContext(ctx, job.create); err != nil {
		return 0, t.fail(ctx, job, errors.LoadError(errors.ErrCodeMergeFailed,
			fmt.Sprintf("Failed to create %s", job.table), job.create, err))
	}

	result, err := t.session.ExecContext(ctx, job.merge)
	if err != nil {
		return 0, t.fail(ctx, job, errors.LoadError(errors.ErrCodeMergeFailed,
			fmt.Sprintf("Failed to merge into %s", job.table), job.merge, err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		// the merge itself committed; only the count is unavailable
		t.log.Warn("rows affected not reported", zap.String("table", job.table), zap.Error(err))
		t.runLog.Info(ctx, job.step, fmt.Sprintf("%s loaded successfully", job.table))
		return 0, nil
	}

	t.runLog.Loaded(ctx, job.step, fmt.Sprintf("%s loaded successfully", job.table), affected)
	return affected, nil
}

func (t *Transformer) fail(ctx context.Context, job mergeJob, err *errors.AppError) error {
	err = err.WithContext("table", job.table)
	t.runLog.Error(ctx, job.step, fmt.Sprintf("Failed to load %s", job.table), err)
	return err
}

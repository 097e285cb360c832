// Package features derives per-customer numeric features from the dimension
// and fact tables and writes them to FEATURE_STORE in long form, one row per
// (entity, feature, as-of date).
package features

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"marketflow/internal/runlog"
	"marketflow/internal/snowflake"
	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

const (
	StoreTable  = "FEATURE_STORE"
	ComputeStep = "compute_features"

	DefaultLookbackDays    = 90
	DefaultNoActivityValue = 9999
	DefaultBatchSize       = 500
)

const dateLayout = "2006-01-02"

const createStoreSQL = `CREATE TABLE IF NOT EXISTS FEATURE_STORE (
    entity_id VARCHAR NOT NULL,
    feature_id NUMBER NOT NULL,
    feature_name VARCHAR NOT NULL,
    feature_value FLOAT,
    as_of_date DATE NOT NULL,
    created_at TIMESTAMP_LTZ
)`

const selectEventsSQL = `SELECT TO_VARCHAR(user_id), event_time
FROM FACT_CLICK_EVENTS
WHERE user_id IS NOT NULL
  AND event_time >= TO_TIMESTAMP_NTZ(?)
  AND event_time < TO_TIMESTAMP_NTZ(?)`

const selectCustomersSQL = `SELECT customer_id, signup_date FROM DIM_CUSTOMER WHERE customer_id IS NOT NULL`

const deleteAsOfSQL = `DELETE FROM FEATURE_STORE WHERE as_of_date = TO_DATE(?)`

const insertValuesPrefix = `INSERT INTO FEATURE_STORE (entity_id, feature_id, feature_name, feature_value, as_of_date, created_at) VALUES `

// Options tunes feature computation. Zero values take the defaults.
type Options struct {
	LookbackDays    int
	NoActivityValue int
	BatchSize       int
	Definitions     []models.FeatureDefinition
}

// Engineer computes features and maintains the catalog
type Engineer struct {
	session snowflake.Session
	runLog  *runlog.Logger
	clock   clockwork.Clock
	opts    Options
	log     *zap.Logger
}

// NewEngineer returns an Engineer. A nil clock uses the wall clock; empty
// definitions use the embedded catalog.
func NewEngineer(session snowflake.Session, runLog *runlog.Logger, clock clockwork.Clock, opts Options, log *zap.Logger) (*Engineer, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.NoActivityValue == 0 {
		opts.NoActivityValue = DefaultNoActivityValue
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if len(opts.Definitions) == 0 {
		defs, err := DefaultDefinitions()
		if err != nil {
			return nil, err
		}
		opts.Definitions = defs
	}

	return &Engineer{
		session: session,
		runLog:  runLog,
		clock:   clock,
		opts:    opts,
		log:     log,
	}, nil
}

// Definitions returns the catalog entries this engineer registers
func (e *Engineer) Definitions() []models.FeatureDefinition {
	return e.opts.Definitions
}

// Compute derives features as of asOf and replaces that date's rows in
// FEATURE_STORE. A zero asOf means today. It returns the number of rows
// written. Running it again for the same date leaves the same rows.
func (e *Engineer) Compute(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = e.clock.Now()
	}
	asOf = Day(asOf)
	asOfDate := asOf.Format(dateLayout)
	log := e.log.With(zap.String("as_of_date", asOfDate))

	if _, err := e.session.ExecContext(ctx, createStoreSQL); err != nil {
		return 0, e.fail(ctx, ComputeStep, "Failed to compute features",
			errors.LoadError(errors.ErrCodeFeatureFailed, "Failed to create FEATURE_STORE", createStoreSQL, err))
	}

	from, to := Window(asOf, e.opts.LookbackDays)
	events, err := e.readEvents(ctx, from, to)
	if err != nil {
		return 0, e.fail(ctx, ComputeStep, "Failed to compute features", err)
	}
	customers, err := e.readCustomers(ctx)
	if err != nil {
		return 0, e.fail(ctx, ComputeStep, "Failed to compute features", err)
	}
	log.Info("read feature sources", zap.Int("customers", len(customers)), zap.Int("events", len(events)))

	values := Derive(asOf, customers, events, e.opts.NoActivityValue)

	// the run logger shares the session, so nothing is logged to the
	// warehouse until the transaction has finished
	if err := e.write(ctx, asOfDate, values); err != nil {
		return 0, e.fail(ctx, ComputeStep, "Failed to compute features", err)
	}

	e.runLog.Loaded(ctx, ComputeStep,
		fmt.Sprintf("Wrote %d feature rows for %s", len(values), asOfDate), int64(len(values)))
	return len(values), nil
}

func (e *Engineer) readEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := e.session.QueryContext(ctx, selectEventsSQL,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, errors.LoadError(errors.ErrCodeFeatureFailed, "Failed to read click events", selectEventsSQL, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.UserID, &ev.EventTime); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to scan click event")
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to read click events")
	}
	return events, nil
}

func (e *Engineer) readCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := e.session.QueryContext(ctx, selectCustomersSQL)
	if err != nil {
		return nil, errors.LoadError(errors.ErrCodeFeatureFailed, "Failed to read customers", selectCustomersSQL, err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var (
			c      Customer
			signup sql.NullTime
		)
		if err := rows.Scan(&c.ID, &signup); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to scan customer")
		}
		if signup.Valid {
			t := signup.Time
			c.SignupDate = &t
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to read customers")
	}
	return customers, nil
}

// write replaces the rows for asOfDate in one transaction
func (e *Engineer) write(ctx context.Context, asOfDate string, values []models.FeatureValue) (err error) {
	tx, err := e.session.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to begin feature transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				e.log.Error("failed to roll back feature transaction", zap.Error(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, deleteAsOfSQL, asOfDate); err != nil {
		return errors.LoadError(errors.ErrCodeFeatureFailed,
			fmt.Sprintf("Failed to delete features for %s", asOfDate), deleteAsOfSQL, err)
	}

	ids := make(map[string]int64)
	for _, name := range featureNames(values) {
		var id int64
		if err = tx.QueryRowContext(ctx, lookupFeatureIDSQL, name).Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return errors.New(errors.ErrCodeCatalogMismatch,
					fmt.Sprintf("Feature %s is not registered in %s", name, CatalogTable)).
					WithContext("feature", name).
					WithSuggestions("Run 'marketflow features register' before computing features")
			}
			return errors.LoadError(errors.ErrCodeFeatureFailed,
				fmt.Sprintf("Failed to look up feature %s", name), lookupFeatureIDSQL, err)
		}
		ids[name] = id
	}

	createdAt := e.clock.Now().UTC()
	for start := 0; start < len(values); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(values) {
			end = len(values)
		}
		query, args := buildInsert(values[start:end], ids, asOfDate, createdAt)
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return errors.LoadError(errors.ErrCodeFeatureFailed, "Failed to insert feature rows", insertValuesPrefix, err).
				WithContext("batch_start", start)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeFeatureFailed, "Failed to commit feature transaction")
	}
	return nil
}

func buildInsert(batch []models.FeatureValue, ids map[string]int64, asOfDate string, createdAt time.Time) (string, []interface{}) {
	placeholders := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*6)
	for i, v := range batch {
		placeholders[i] = "(?, ?, ?, ?, TO_DATE(?), ?)"
		args = append(args, v.EntityID, ids[v.FeatureName], v.FeatureName, v.Value, asOfDate, createdAt)
	}
	return insertValuesPrefix + strings.Join(placeholders, ", "), args
}

func (e *Engineer) fail(ctx context.Context, step, message string, err error) error {
	e.runLog.Error(ctx, step, message, err)
	return err
}

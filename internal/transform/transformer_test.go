package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/internal/runlog"
	"marketflow/pkg/errors"
)

var runLogInsert = regexp.QuoteMeta("INSERT INTO INGESTION_LOGS")

func newTransformer(t *testing.T) (*Transformer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewTransformer(db, runlog.New(db, "run-1", nil), nil), mock, func() { db.Close() }
}

func expectMerge(mock sqlmock.Sqlmock, table, step string, affected int64) {
	mock.ExpectExec(runLogInsert).
		WithArgs("run-1", "INFO", step, "Populating "+table, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO " + table)).WillReturnResult(sqlmock.NewResult(0, affected))
	mock.ExpectExec(runLogInsert).
		WithArgs("run-1", "INFO", step, table+" loaded successfully", affected, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestMergeCustomerDimension(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	expectMerge(mock, DimCustomerTable, DimCustomerStep, 9)

	n, err := tr.MergeCustomerDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeCustomerDimensionTwiceIsStable(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	// the second run matches every key and rewrites the same values
	expectMerge(mock, DimCustomerTable, DimCustomerStep, 9)
	expectMerge(mock, DimCustomerTable, DimCustomerStep, 9)

	first, err := tr.MergeCustomerDimension(context.Background())
	require.NoError(t, err)
	second, err := tr.MergeCustomerDimension(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeClickEventsReplayInsertsNothing(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	expectMerge(mock, FactClickEventsTable, FactClickEventsStep, 25)
	expectMerge(mock, FactClickEventsTable, FactClickEventsStep, 0)

	first, err := tr.MergeClickEvents(context.Background())
	require.NoError(t, err)
	second, err := tr.MergeClickEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(25), first)
	assert.Equal(t, int64(0), second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeFailureIsLoggedAndReturned(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	mock.ExpectExec(runLogInsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS FACT_CLICK_EVENTS")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO FACT_CLICK_EVENTS")).
		WillReturnError(fmt.Errorf("Object 'RAW_CLICKSTREAM' does not exist or not authorized"))
	mock.ExpectExec(runLogInsert).
		WithArgs("run-1", "ERROR", FactClickEventsStep, "Failed to load FACT_CLICK_EVENTS", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := tr.MergeClickEvents(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMergeFailed, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFailureSkipsMerge(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	mock.ExpectExec(runLogInsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS DIM_CUSTOMER")).WillReturnError(fmt.Errorf("insufficient privileges"))
	mock.ExpectExec(runLogInsert).WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := tr.MergeCustomerDimension(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowsAffectedUnavailable(t *testing.T) {
	tr, mock, done := newTransformer(t)
	defer done()

	mock.ExpectExec(runLogInsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS DIM_CUSTOMER")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO DIM_CUSTOMER")).
		WillReturnResult(sqlmock.NewErrorResult(fmt.Errorf("not supported")))
	mock.ExpectExec(runLogInsert).
		WithArgs("run-1", "INFO", DimCustomerStep, "DIM_CUSTOMER loaded successfully", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := tr.MergeCustomerDimension(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactMergeNeverUpdates(t *testing.T) {
	assert.NotContains(t, mergeFactClickEventsSQL, "WHEN MATCHED")
	assert.NotContains(t, strings.ToUpper(mergeFactClickEventsSQL), "UPDATE SET")
	assert.Contains(t, mergeFactClickEventsSQL, "WHERE event_id IS NOT NULL")
}

func TestDimensionMergeKeepsOneRowPerKey(t *testing.T) {
	assert.Contains(t, mergeDimCustomerSQL, "WHERE customer_id IS NOT NULL")
	assert.Contains(t, mergeDimCustomerSQL, "PARTITION BY customer_id")
	assert.Contains(t, mergeDimCustomerSQL, "WHEN MATCHED THEN UPDATE SET")
	// created_at and is_active are only written on insert
	update := mergeDimCustomerSQL[strings.Index(mergeDimCustomerSQL, "UPDATE SET"):strings.Index(mergeDimCustomerSQL, "WHEN NOT MATCHED")]
	assert.NotContains(t, update, "created_at")
	assert.NotContains(t, update, "is_active")
}

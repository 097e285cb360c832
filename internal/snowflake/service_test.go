package snowflake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

func testConfig() Config {
	return Config{
		Account:      "xy12345.us-east-1",
		Username:     "pipeline_user",
		Password:     "testpass",
		Database:     "MARKETING",
		Schema:       "STAGE",
		Warehouse:    "COMPUTE_WH",
		Role:         "LOADER",
		LoginTimeout: 30 * time.Second,
	}
}

// withMockDB replaces openDB for the duration of the test
func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	original := openDB
	openDB = func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, "snowflake", driverName)
		return db, nil
	}
	t.Cleanup(func() { openDB = original })
	return mock
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(models.Snowflake{
		Account:      "acct",
		Username:     "user",
		Password:     "pass",
		Warehouse:    "WH",
		Database:     "DB",
		Schema:       "SCH",
		LoginTimeout: time.Minute,
	})

	assert.Equal(t, "acct", cfg.Account)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, time.Minute, cfg.LoginTimeout)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "role is optional", mutate: func(c *Config) { c.Role = "" }},
		{name: "missing account", mutate: func(c *Config) { c.Account = "" }, errorMsg: "account is required"},
		{name: "missing username", mutate: func(c *Config) { c.Username = "" }, errorMsg: "username is required"},
		{name: "missing credential", mutate: func(c *Config) { c.Password = "" }, errorMsg: "password or private key is required"},
		{name: "missing warehouse", mutate: func(c *Config) { c.Warehouse = "" }, errorMsg: "warehouse is required"},
		{name: "missing database", mutate: func(c *Config) { c.Database = "" }, errorMsg: "database is required"},
		{name: "missing schema", mutate: func(c *Config) { c.Schema = "" }, errorMsg: "schema is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := ValidateConfig(cfg)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(testConfig())
	require.NoError(t, err)

	assert.Contains(t, dsn, "pipeline_user")
	assert.Contains(t, dsn, "database=MARKETING")
	assert.Contains(t, dsn, "schema=STAGE")
	assert.Contains(t, dsn, "warehouse=COMPUTE_WH")
}

func TestDSNWithPrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	cfg := testConfig()
	cfg.Password = ""
	cfg.PrivateKeyPath = path

	dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, "pipeline_user")
}

func TestDSNWithBadPrivateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	cfg := testConfig()
	cfg.PrivateKeyPath = path

	_, err := DSN(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not PEM encoded")
}

func TestOpen(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectPing()
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	service, err := Open(context.Background(), testConfig())
	require.NoError(t, err)
	require.NotNil(t, service)

	_, err = service.ExecContext(context.Background(), "SELECT 1")
	require.NoError(t, err)

	require.NoError(t, service.Close())
	// second close is a no-op
	require.NoError(t, service.Close())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPingFailure(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectPing().WillReturnError(fmt.Errorf("dial tcp: i/o timeout"))
	mock.ExpectClose()

	service, err := Open(context.Background(), testConfig())
	assert.Nil(t, service)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConnectionFailed, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "i/o timeout")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Account = ""

	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConnectionFailed, errors.GetErrorCode(err))
}

func TestNotConnected(t *testing.T) {
	service := &Service{}

	_, err := service.ExecContext(context.Background(), "SELECT 1")
	assert.EqualError(t, err, "not connected to database")

	_, err = service.QueryContext(context.Background(), "SELECT 1")
	assert.EqualError(t, err, "not connected to database")

	_, err = service.BeginTx(context.Background(), nil)
	assert.EqualError(t, err, "not connected to database")

	assert.NoError(t, service.Close())
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "raw_clickstream", want: "RAW_CLICKSTREAM"},
		{in: "MARKETING.STAGE.RAW_CLICKSTREAM", want: "MARKETING.STAGE.RAW_CLICKSTREAM"},
		{in: " csv_stage ", want: "CSV_STAGE"},
		{in: "bad name", wantErr: true},
		{in: "x; DROP TABLE y", wantErr: true},
		{in: "a.b.c.d", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Identifier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'.*[.]csv'", Literal(".*[.]csv"))
	assert.Equal(t, "'it''s'", Literal("it's"))
}

func TestCountRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM RAW_CLICKSTREAM`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM MISSING`).
		WillReturnError(fmt.Errorf("table does not exist"))

	count, err := CountRows(context.Background(), db, "RAW_CLICKSTREAM")
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)

	_, err = CountRows(context.Background(), db, "MISSING")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count rows in MISSING")

	assert.NoError(t, mock.ExpectationsWereMet())
}

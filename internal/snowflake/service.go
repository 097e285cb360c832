package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

// Session is the slice of database/sql every pipeline component needs.
// *sql.DB and *Service satisfy it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Service is an open warehouse session
type Service struct {
	db        *sql.DB
	config    Config
	connected bool
}

// Config holds Snowflake connection configuration
type Config struct {
	Account        string
	Username       string
	Password       string
	PrivateKeyPath string
	Database       string
	Schema         string
	Warehouse      string
	Role           string
	LoginTimeout   time.Duration
}

// ConfigFromModel converts the loaded application config
func ConfigFromModel(sf models.Snowflake) Config {
	return Config{
		Account:        sf.Account,
		Username:       sf.Username,
		Password:       sf.Password,
		PrivateKeyPath: sf.PrivateKeyPath,
		Database:       sf.Database,
		Schema:         sf.Schema,
		Warehouse:      sf.Warehouse,
		Role:           sf.Role,
		LoginTimeout:   sf.LoginTimeout,
	}
}

// openDB is swapped in tests
var openDB = sql.Open

// Open establishes a session. The caller owns the returned Service and must
// Close it on every exit path.
func Open(ctx context.Context, config Config) (*Service, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, errors.ConnectionError("Invalid Snowflake configuration", err)
	}

	dsn, err := DSN(config)
	if err != nil {
		return nil, errors.ConnectionError("Failed to build Snowflake DSN", err).
			WithContext("account", config.Account)
	}

	db, err := openDB("snowflake", dsn)
	if err != nil {
		return nil, errors.ConnectionError("Failed to open Snowflake connection", err).
			WithContext("account", config.Account).
			WithContext("warehouse", config.Warehouse)
	}

	// One physical connection, so every statement runs in the same session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.ConnectionError("Failed to connect to Snowflake", err).
			WithContext("account", config.Account).
			WithContext("user", config.Username)
	}

	return &Service{db: db, config: config, connected: true}, nil
}

// Close closes the session. It is safe to call more than once.
func (s *Service) Close() error {
	if s == nil || !s.connected {
		return nil
	}
	s.connected = false

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (s *Service) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to database")
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Service) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to database")
	}
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext defers the not-connected error to Scan, like database/sql does.
func (s *Service) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Service) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if !s.connected {
		return nil, fmt.Errorf("not connected to database")
	}
	return s.db.BeginTx(ctx, opts)
}

// DSN builds the gosnowflake DSN. A private key path switches to key-pair
// (JWT) authentication.
func DSN(config Config) (string, error) {
	sfConfig := &gosnowflake.Config{
		Account:      config.Account,
		User:         config.Username,
		Password:     config.Password,
		Database:     config.Database,
		Schema:       config.Schema,
		Warehouse:    config.Warehouse,
		Role:         config.Role,
		LoginTimeout: config.LoginTimeout,
		Application:  "marketflow",
	}

	if config.PrivateKeyPath != "" {
		key, err := loadPrivateKey(config.PrivateKeyPath)
		if err != nil {
			return "", err
		}
		sfConfig.Authenticator = gosnowflake.AuthTypeJwt
		sfConfig.PrivateKey = key
		sfConfig.Password = ""
	}

	return gosnowflake.DSN(sfConfig)
}

// loadPrivateKey reads an unencrypted PKCS#8 PEM RSA key
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied key path
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key %s is not PEM encoded", path)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is not an RSA key", path)
	}
	return key, nil
}

// ValidateConfig validates the Snowflake configuration
func ValidateConfig(config Config) error {
	if config.Account == "" {
		return fmt.Errorf("account is required")
	}
	if config.Username == "" {
		return fmt.Errorf("username is required")
	}
	if config.Password == "" && config.PrivateKeyPath == "" {
		return fmt.Errorf("password or private key is required")
	}
	if config.Warehouse == "" {
		return fmt.Errorf("warehouse is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database is required")
	}
	if config.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"marketflow/internal/common"
	apperrors "marketflow/pkg/errors"
	"marketflow/pkg/models"
)

// KeyringService is the OS keyring service the warehouse password is read from
// when it is not set in the environment.
const KeyringService = "marketflow"

// envBindings maps configuration keys to the environment variables they are read from.
var envBindings = map[string][]string{
	"snowflake.account":          {"SNOWFLAKE_ACCOUNT"},
	"snowflake.username":         {"SNOWFLAKE_USER", "SNOWFLAKE_USERNAME"},
	"snowflake.password":         {"SNOWFLAKE_PASSWORD"},
	"snowflake.private_key_path": {"SNOWFLAKE_PRIVATE_KEY_PATH"},
	"snowflake.role":             {"SNOWFLAKE_ROLE"},
	"snowflake.warehouse":        {"SNOWFLAKE_WAREHOUSE"},
	"snowflake.database":         {"SNOWFLAKE_DATABASE"},
	"snowflake.schema":           {"SNOWFLAKE_SCHEMA"},
	"snowflake.login_timeout":    {"SNOWFLAKE_LOGIN_TIMEOUT"},

	"sources.csv.stage":        {"MARKETFLOW_CSV_STAGE"},
	"sources.csv.file_format":  {"MARKETFLOW_CSV_FILE_FORMAT"},
	"sources.csv.pattern":      {"MARKETFLOW_CSV_PATTERN"},
	"sources.csv.object_key":   {"MARKETFLOW_CSV_OBJECT_KEY"},
	"sources.json.stage":       {"MARKETFLOW_JSON_STAGE"},
	"sources.json.file_format": {"MARKETFLOW_JSON_FILE_FORMAT"},
	"sources.json.pattern":     {"MARKETFLOW_JSON_PATTERN"},
	"sources.json.object_key":  {"MARKETFLOW_JSON_OBJECT_KEY"},
	"sources.on_error":         {"MARKETFLOW_ON_ERROR"},

	"object_store.bucket":            {"MARKETFLOW_BUCKET"},
	"object_store.endpoint":          {"MARKETFLOW_S3_ENDPOINT"},
	"object_store.region":            {"MARKETFLOW_S3_REGION", "AWS_REGION"},
	"object_store.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"object_store.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},

	"features.lookback_days":     {"MARKETFLOW_LOOKBACK_DAYS"},
	"features.no_activity_value": {"MARKETFLOW_NO_ACTIVITY_VALUE"},
	"features.batch_size":        {"MARKETFLOW_FEATURE_BATCH_SIZE"},

	"alerts.slack_webhook_url": {"MARKETFLOW_SLACK_WEBHOOK_URL"},
	"alerts.slack_channel":     {"MARKETFLOW_SLACK_CHANNEL"},

	"metrics.pushgateway_url": {"MARKETFLOW_PUSHGATEWAY_URL"},
	"metrics.job":             {"MARKETFLOW_METRICS_JOB"},

	"logging.level":       {"MARKETFLOW_LOG_LEVEL"},
	"logging.format":      {"MARKETFLOW_LOG_FORMAT"},
	"logging.environment": {"MARKETFLOW_ENV"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snowflake.login_timeout", 60*time.Second)

	v.SetDefault("sources.csv.stage", "MARKETING_CSV_STAGE")
	v.SetDefault("sources.csv.file_format", "CSV_FORMAT")
	v.SetDefault("sources.csv.pattern", ".*customer_demographics.*[.]csv")
	v.SetDefault("sources.csv.object_key", "mock_customer_demographics.csv")
	v.SetDefault("sources.json.stage", "MARKETING_JSON_STAGE")
	v.SetDefault("sources.json.file_format", "JSON_FORMAT")
	v.SetDefault("sources.json.pattern", ".*clickstream.*[.]json")
	v.SetDefault("sources.json.object_key", "mock_clickstream_data.json")

	v.SetDefault("object_store.region", "us-east-1")

	v.SetDefault("features.lookback_days", 90)
	v.SetDefault("features.no_activity_value", 9999)
	v.SetDefault("features.batch_size", 500)

	v.SetDefault("metrics.job", "marketflow")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing precedence. A .env file in the working directory
// is loaded into the environment first when present.
func Load(configFile string) (*models.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		path, err := common.CleanPath(configFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config file path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolvePassword(&cfg.Snowflake)
	return &cfg, nil
}

// resolvePassword falls back to the OS keyring when neither a password nor a
// private key is configured.
func resolvePassword(sf *models.Snowflake) {
	if sf.Password != "" || sf.PrivateKeyPath != "" || sf.Username == "" {
		return
	}
	if secret, err := keyring.Get(KeyringService, sf.Username); err == nil {
		sf.Password = secret
	}
}

// Validate reports the first missing required setting.
func Validate(cfg *models.Config) error {
	required := []struct {
		field string
		value string
	}{
		{"snowflake.account", cfg.Snowflake.Account},
		{"snowflake.username", cfg.Snowflake.Username},
		{"snowflake.warehouse", cfg.Snowflake.Warehouse},
		{"snowflake.database", cfg.Snowflake.Database},
		{"snowflake.schema", cfg.Snowflake.Schema},
		{"sources.csv.stage", cfg.Sources.CSV.Name},
		{"sources.csv.file_format", cfg.Sources.CSV.FileFormat},
		{"sources.json.stage", cfg.Sources.JSON.Name},
		{"sources.json.file_format", cfg.Sources.JSON.FileFormat},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperrors.ConfigError(fmt.Sprintf("%s is required", r.field), r.field)
		}
	}

	if cfg.Snowflake.Password == "" && cfg.Snowflake.PrivateKeyPath == "" {
		return apperrors.ConfigError("snowflake.password or snowflake.private_key_path is required", "snowflake.password")
	}
	if cfg.Snowflake.PrivateKeyPath != "" {
		path, err := common.CleanPath(cfg.Snowflake.PrivateKeyPath)
		if err == nil {
			_, err = os.Stat(path)
		}
		if err != nil {
			return apperrors.New(apperrors.ErrCodeConfigInvalid, "snowflake.private_key_path is not readable").
				WithContext("field", "snowflake.private_key_path")
		}
		if err := common.CheckSecureFile(path); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "snowflake.private_key_path must only be accessible by its owner").
				WithContext("field", "snowflake.private_key_path").
				WithSuggestions(fmt.Sprintf("chmod %o %s", common.FilePermissionSecure, path))
		}
		cfg.Snowflake.PrivateKeyPath = path
	}
	if cfg.Features.LookbackDays <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "features.lookback_days must be positive").
			WithContext("field", "features.lookback_days")
	}
	if cfg.Features.BatchSize <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "features.batch_size must be positive").
			WithContext("field", "features.batch_size")
	}

	return nil
}

// ObjectStoreEnabled reports whether source preflight can run.
func ObjectStoreEnabled(cfg *models.Config) bool {
	return strings.TrimSpace(cfg.ObjectStore.Bucket) != ""
}

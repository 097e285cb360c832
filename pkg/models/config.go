package models

import "time"

// Config is the full pipeline configuration. It is built once at process
// start and passed to each component.
type Config struct {
	Snowflake   Snowflake   `mapstructure:"snowflake" yaml:"snowflake"`
	Sources     Sources     `mapstructure:"sources" yaml:"sources"`
	ObjectStore ObjectStore `mapstructure:"object_store" yaml:"object_store"`
	Features    Features    `mapstructure:"features" yaml:"features"`
	Alerts      Alerts      `mapstructure:"alerts" yaml:"alerts"`
	Metrics     Metrics     `mapstructure:"metrics" yaml:"metrics"`
	Logging     Logging     `mapstructure:"logging" yaml:"logging"`
}

type Snowflake struct {
	Account        string        `mapstructure:"account" yaml:"account"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	PrivateKeyPath string        `mapstructure:"private_key_path" yaml:"private_key_path"`
	Role           string        `mapstructure:"role" yaml:"role"`
	Warehouse      string        `mapstructure:"warehouse" yaml:"warehouse"`
	Database       string        `mapstructure:"database" yaml:"database"`
	Schema         string        `mapstructure:"schema" yaml:"schema"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
}

// Sources names the external stages and file formats raw files are copied from.
type Sources struct {
	CSV     Stage  `mapstructure:"csv" yaml:"csv"`
	JSON    Stage  `mapstructure:"json" yaml:"json"`
	OnError string `mapstructure:"on_error" yaml:"on_error"` // COPY ON_ERROR policy, empty for the warehouse default
}

type Stage struct {
	Name       string `mapstructure:"stage" yaml:"stage"`
	FileFormat string `mapstructure:"file_format" yaml:"file_format"`
	Pattern    string `mapstructure:"pattern" yaml:"pattern"`
	ObjectKey  string `mapstructure:"object_key" yaml:"object_key"` // key in the raw bucket, used by preflight
}

// ObjectStore configures direct reads from the raw bucket (S3 or MinIO).
type ObjectStore struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

type Features struct {
	LookbackDays    int `mapstructure:"lookback_days" yaml:"lookback_days"`
	NoActivityValue int `mapstructure:"no_activity_value" yaml:"no_activity_value"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
}

type Alerts struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url"`
	SlackChannel    string `mapstructure:"slack_channel" yaml:"slack_channel"`
}

type Metrics struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

type Logging struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "json" or "console"
	Environment string `mapstructure:"environment" yaml:"environment"`
}

package models

import "time"

// LogLevel is the level column of a run log row
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// RunLogEntry is one append-only row of INGESTION_LOGS.
type RunLogEntry struct {
	Level         LogLevel
	Step          string
	Message       string
	RecordsLoaded *int64 // NULL when the step has no count
	ErrorDetails  string // NULL when empty
}

// CheckStatus is the status column of a DQ_CHECK_LOGS row
type CheckStatus string

const (
	CheckPassed CheckStatus = "PASSED"
	CheckFailed CheckStatus = "FAILED"
	CheckError  CheckStatus = "ERROR"
)

// CheckResult is one append-only row of DQ_CHECK_LOGS.
type CheckResult struct {
	Table     string
	CheckName string
	Status    CheckStatus
	Value     int64
	Message   string
	CheckedAt time.Time
}

// FeatureValue is one long-form row of FEATURE_STORE.
type FeatureValue struct {
	EntityID    string
	FeatureID   int64
	FeatureName string
	Value       float64
	AsOfDate    time.Time
	CreatedAt   time.Time
}

// FeatureDefinition describes one feature in FEATURE_CATALOG.
type FeatureDefinition struct {
	Name                  string `yaml:"name"`
	Description           string `yaml:"description"`
	DataType              string `yaml:"data_type"`
	SourceTable           string `yaml:"source_table"`
	TransformationSummary string `yaml:"transformation_summary"`
	UpdateFrequency       string `yaml:"update_frequency"`
	QualityMetrics        string `yaml:"quality_metrics"`
}

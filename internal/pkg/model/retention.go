package model

import "time"

// Retention execution status values.
const (
	RetentionStatusSuccess = "success"
	RetentionStatusFailed  = "failed"
	RetentionStatusNever   = "never"
)

// RetentionConfigKey is the system_configs key holding the retention
// settings as a JSON document.
const RetentionConfigKey = "cleanup_config"

// RetentionConfig controls the nightly alert cleanup job. It is stored
// as a single JSON value in the key-value config table.
type RetentionConfig struct {
	Enabled       bool `json:"enabled"`
	Hour          int  `json:"hour"`   // 0-23, local time
	Minute        int  `json:"minute"` // 0-59
	RetentionDays int  `json:"retention_days"`

	// Outcome of the most recent run. These are written only by the
	// cleanup job; settings updates must not clobber them.
	LastExecutionStatus string     `json:"last_execution_status,omitempty"`
	LastExecutionTime   *time.Time `json:"last_execution_time,omitempty"`
	LastExecutionResult string     `json:"last_execution_result,omitempty"`
}

// DefaultRetentionConfig is used when no retention settings have been
// stored yet.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:             true,
		Hour:                3,
		Minute:              0,
		RetentionDays:       90,
		LastExecutionStatus: RetentionStatusNever,
	}
}

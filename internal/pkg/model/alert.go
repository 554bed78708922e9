package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AlertStatus is the delivery outcome of an alert notification.
type AlertStatus string

const (
	AlertStatusSent   AlertStatus = "sent"
	AlertStatusFailed AlertStatus = "failed"
)

// LogData is the stored sample of matched documents, kept as a JSON
// column.
type LogData []map[string]interface{}

// Value implements driver.Valuer.
func (ld LogData) Value() (driver.Value, error) {
	return json.Marshal(ld)
}

// Scan implements sql.Scanner.
func (ld *LogData) Scan(value interface{}) error {
	if value == nil {
		*ld = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		*ld = nil
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		*ld = nil
		return nil
	}
	return json.Unmarshal(raw, ld)
}

// Alert is one recorded rule firing.
type Alert struct {
	ID        uint      `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	RuleID    uint   `db:"rule_id" json:"rule_id"`
	IndexName string `db:"index_name" json:"index_name"`

	// LogCount is the full match count for the window; Logs holds only
	// a bounded sample of the documents.
	LogCount int     `db:"log_count" json:"log_count"`
	Logs     LogData `db:"logs" json:"logs"`

	// TimeRange is the human-readable queried window, e.g.
	// "2026-08-26 10:00:00 ~ 2026-08-26 10:05:00".
	TimeRange string      `db:"time_range" json:"time_range"`
	Status    AlertStatus `db:"status" json:"status"`
	ErrorMsg  string      `db:"error_msg" json:"error_msg,omitempty"`
}

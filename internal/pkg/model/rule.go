// Package model defines the persisted types shared by the storage
// layer and the alerting workers.
package model

import (
	"time"

	"github.com/mintel/elasticsearch-alerter/pkg/query"
)

// Rule is a scheduled alert rule: a set of query conditions evaluated
// against an index pattern every Interval seconds.
type Rule struct {
	ID        uint      `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Name         string           `db:"name" json:"name"`
	IndexPattern string           `db:"index_pattern" json:"index_pattern"`
	Queries      query.Conditions `db:"queries" json:"queries"`
	Enabled      bool             `db:"enabled" json:"enabled"`
	Interval     int              `db:"interval" json:"interval"` // seconds
	Description  string           `db:"description" json:"description,omitempty"`

	// Optional data source override; the default source is used when nil.
	DataSourceID *uint `db:"data_source_id" json:"data_source_id,omitempty"`

	// Notification target. ChannelID wins when set; Webhook is a legacy
	// per-rule URL kept for rules created before channels existed.
	ChannelID *uint  `db:"channel_id" json:"channel_id,omitempty"`
	Webhook   string `db:"webhook" json:"webhook,omitempty"`

	// Evaluation bookkeeping. LastRunTime is the end of the last
	// successfully queried window and nil before the first run.
	LastRunTime *time.Time `db:"last_run_time" json:"last_run_time,omitempty"`
	RunCount    int64      `db:"run_count" json:"run_count"`
	AlertCount  int64      `db:"alert_count" json:"alert_count"`
}

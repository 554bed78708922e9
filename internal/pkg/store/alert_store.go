package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
)

// CreateAlert inserts alert and fills in its ID and CreatedAt.
// Timestamps are stored in UTC.
func (s *Store) CreateAlert(ctx context.Context, alert *model.Alert) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	} else {
		alert.CreatedAt = alert.CreatedAt.UTC()
	}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO alerts (created_at, rule_id, index_name, log_count, logs, time_range, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		alert.CreatedAt, alert.RuleID, alert.IndexName, alert.LogCount,
		alert.Logs, alert.TimeRange, alert.Status, alert.ErrorMsg,
	).Scan(&alert.ID)
	return errors.Wrap(err, "insert alert")
}

// UpdateAlertStatus records the notification outcome for an alert.
func (s *Store) UpdateAlertStatus(ctx context.Context, id uint, status model.AlertStatus, errMsg string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = $1, error_msg = $2 WHERE id = $3`, status, errMsg, id)
	return errors.Wrap(err, "update alert status")
}

// GetAlertsByRule returns the most recent alerts for a rule, newest
// first, capped at limit (or all when limit <= 0).
func (s *Store) GetAlertsByRule(ctx context.Context, ruleID uint, limit int) ([]model.Alert, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := `SELECT id, created_at, rule_id, index_name, log_count, logs, time_range, status, error_msg
	      FROM alerts WHERE rule_id = $1 ORDER BY created_at DESC`
	args := []interface{}{ruleID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	var alerts []model.Alert
	if err := s.db.SelectContext(ctx, &alerts, q, args...); err != nil {
		return nil, errors.Wrap(err, "select alerts by rule")
	}
	return alerts, nil
}

// CleanupAlertsBefore hard-deletes alerts created before cutoff and
// returns how many were removed.
func (s *Store) CleanupAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete old alerts")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "count deleted alerts")
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
)

// GetRetentionConfig loads the cleanup settings, falling back to the
// defaults when none have been stored yet.
func (s *Store) GetRetentionConfig(ctx context.Context) (*model.RetentionConfig, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw string
	err := s.db.GetContext(ctx, &raw,
		`SELECT value FROM system_configs WHERE key = $1`, model.RetentionConfigKey)
	if errors.Is(err, sql.ErrNoRows) {
		cfg := model.DefaultRetentionConfig()
		return &cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get retention config")
	}

	var cfg model.RetentionConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, errors.Wrap(err, "decode retention config")
	}
	if cfg.LastExecutionStatus == "" {
		cfg.LastExecutionStatus = model.RetentionStatusNever
	}
	return &cfg, nil
}

// UpdateRetentionConfig saves cfg. Execution-status fields left empty
// by the caller are preserved from the stored config so a settings
// update cannot erase the last run's outcome.
func (s *Store) UpdateRetentionConfig(ctx context.Context, cfg *model.RetentionConfig) error {
	existing, err := s.GetRetentionConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.LastExecutionStatus == "" {
		cfg.LastExecutionStatus = existing.LastExecutionStatus
	}
	if cfg.LastExecutionTime == nil {
		cfg.LastExecutionTime = existing.LastExecutionTime
	}
	if cfg.LastExecutionResult == "" {
		cfg.LastExecutionResult = existing.LastExecutionResult
	}
	return s.saveRetentionConfig(ctx, cfg)
}

// UpdateRetentionExecutionStatus records the outcome of one cleanup
// run without touching the schedule settings.
func (s *Store) UpdateRetentionExecutionStatus(ctx context.Context, status, result string) error {
	cfg, err := s.GetRetentionConfig(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	cfg.LastExecutionStatus = status
	cfg.LastExecutionTime = &now
	cfg.LastExecutionResult = result
	return s.saveRetentionConfig(ctx, cfg)
}

func (s *Store) saveRetentionConfig(ctx context.Context, cfg *model.RetentionConfig) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	value, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode retention config")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_configs (key, value, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		model.RetentionConfigKey, string(value))
	return errors.Wrap(err, "save retention config")
}

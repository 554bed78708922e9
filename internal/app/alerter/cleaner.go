package alerter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap" // Logging.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model" // Persisted types.
	estime "github.com/mintel/elasticsearch-alerter/pkg/time"    // Tickers aligned to wall-clock boundaries.
)

const cleanerTick = time.Minute

// CleanerStore is the slice of the storage layer the Cleaner needs.
type CleanerStore interface {
	GetRetentionConfig(ctx context.Context) (*model.RetentionConfig, error)
	UpdateRetentionExecutionStatus(ctx context.Context, status, result string) error
	CleanupAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner deletes alerts past their retention every day at the
// configured local time. The config is re-read every minute so edits
// (enable, time, retention days) take effect without restart.
type Cleaner struct {
	store CleanerStore
	inst  *Instrumentation

	nextRun       *time.Time
	retentionDays int

	now func() time.Time // injected in tests
}

// NewCleaner returns a new Cleaner.
func NewCleaner(st CleanerStore, inst *Instrumentation) *Cleaner {
	return &Cleaner{
		store: st,
		inst:  inst,
		now:   time.Now,
	}
}

// Run ticks every minute until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	logger := zap.L()

	cfg, err := c.store.GetRetentionConfig(ctx)
	if err != nil {
		logger.Error("failed to load retention config on startup", zap.Error(err))
	} else if cfg.Enabled {
		next := nextRunTime(cfg.Hour, cfg.Minute, c.now())
		c.nextRun = &next
		c.retentionDays = cfg.RetentionDays
		logger.Info("cleanup scheduled",
			zap.Time("next_run", next),
			zap.Int("retention_days", cfg.RetentionDays))
	} else {
		logger.Info("cleanup disabled")
	}

	// Ticks land on minute boundaries, so the scheduled minute is
	// compared as soon as it starts.
	ticker := estime.NewRoundedTicker(cleanerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup worker stopped")
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick re-reads the config, reschedules on changes, and fires the
// cleanup when the scheduled minute arrives.
func (c *Cleaner) tick(ctx context.Context) {
	logger := zap.L()
	cfg, err := c.store.GetRetentionConfig(ctx)
	if err != nil {
		logger.Error("failed to load retention config", zap.Error(err))
		return
	}

	if !cfg.Enabled {
		if c.nextRun != nil {
			logger.Info("cleanup disabled, clearing schedule")
			c.nextRun = nil
		}
		return
	}

	now := c.now()
	next := nextRunTime(cfg.Hour, cfg.Minute, now)
	if c.nextRun == nil || !c.nextRun.Equal(next) || c.retentionDays != cfg.RetentionDays {
		c.nextRun = &next
		c.retentionDays = cfg.RetentionDays
		logger.Info("cleanup rescheduled",
			zap.Time("next_run", next),
			zap.Int("retention_days", cfg.RetentionDays))
	}

	// Compare at minute granularity so the run fires anywhere inside
	// its scheduled minute.
	if !now.Truncate(time.Minute).Before(c.nextRun.Truncate(time.Minute)) {
		if _, err := c.RunOnce(ctx); err != nil {
			logger.Error("cleanup run failed", zap.Error(err))
		}
		// Reschedule immediately so the same minute cannot fire twice.
		next := nextRunTime(cfg.Hour, cfg.Minute, c.now())
		c.nextRun = &next
		logger.Info("next cleanup scheduled", zap.Time("next_run", next))
	}
}

// RunOnce executes one retention pass and records its outcome in the
// retention config. It is also the entry point for manual triggers.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	logger := zap.L()
	cfg, err := c.store.GetRetentionConfig(ctx)
	if err != nil {
		return 0, err
	}
	c.inst.CleanupRuns.Inc()

	cutoff := c.now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	deleted, err := c.store.CleanupAlertsBefore(ctx, cutoff)
	if err != nil {
		logger.Error("failed to delete old alerts", zap.Error(err))
		if statusErr := c.store.UpdateRetentionExecutionStatus(ctx,
			model.RetentionStatusFailed, fmt.Sprintf("清理失败: %v", err)); statusErr != nil {
			logger.Error("failed to record cleanup failure", zap.Error(statusErr))
		}
		return 0, err
	}

	c.inst.CleanupDeleted.Add(float64(deleted))
	result := fmt.Sprintf("成功删除 %d 条告警数据", deleted)
	if deleted == 0 {
		result = "没有需要清理的数据"
	}
	logger.Info("cleanup completed",
		zap.Int64("deleted", deleted),
		zap.Int("retention_days", cfg.RetentionDays))
	if err := c.store.UpdateRetentionExecutionStatus(ctx, model.RetentionStatusSuccess, result); err != nil {
		logger.Error("failed to record cleanup success", zap.Error(err))
	}
	return deleted, nil
}

// nextRunTime returns the next occurrence of hour:minute local time:
// today if that minute has not passed yet, else tomorrow.
func nextRunTime(hour, minute int, now time.Time) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Truncate(time.Minute).After(run.Truncate(time.Minute)) {
		run = run.Add(24 * time.Hour)
	}
	return run
}

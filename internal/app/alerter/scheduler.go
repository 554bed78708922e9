package alerter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"             // Logging.
	"golang.org/x/sync/semaphore" // Concurrency limit.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model" // Persisted types.
	"github.com/mintel/elasticsearch-alerter/pkg/ctxlog"         // Context-scoped logging.
)

// minTickInterval is the floor on per-rule tick spacing, protecting
// Elasticsearch from misconfigured sub-10s intervals.
const minTickInterval = 10 * time.Second

const triggerBuffer = 100

// Trigger wakes the Scheduler for a specific rule, e.g. after an
// external create/update/enable. Implementations never block.
type Trigger interface {
	TriggerRule(id uint)
}

// Executor runs one rule evaluation. *Evaluator implements it.
type Executor interface {
	Execute(ctx context.Context, rule *model.Rule, force bool, release func()) error
}

// SchedulerStore is the slice of the storage layer the Scheduler needs.
type SchedulerStore interface {
	GetEnabledRules(ctx context.Context) ([]model.Rule, error)
	GetRule(ctx context.Context, id uint) (*model.Rule, error)
}

// Scheduler keeps one task running per enabled rule, reconciling the
// task set against storage on a ticker and on demand via TriggerRule.
// All evaluations share a counting semaphore so at most maxConcurrency
// run (including their notification dispatch) at any time.
type Scheduler struct {
	store         SchedulerStore
	executor      Executor
	inst          *Instrumentation
	checkInterval time.Duration
	drainTimeout  time.Duration

	maxConcurrency int64
	sem            *semaphore.Weighted

	trigger chan uint

	mu      sync.Mutex
	running map[uint]context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler returns a new Scheduler. maxConcurrency is clamped to
// at least 1.
func NewScheduler(st SchedulerStore, executor Executor, inst *Instrumentation, checkInterval time.Duration, maxConcurrency int, drainTimeout time.Duration) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Scheduler{
		store:          st,
		executor:       executor,
		inst:           inst,
		checkInterval:  checkInterval,
		drainTimeout:   drainTimeout,
		maxConcurrency: int64(maxConcurrency),
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
		trigger:        make(chan uint, triggerBuffer),
		running:        make(map[uint]context.CancelFunc),
	}
}

// TriggerRule implements Trigger. When the channel is full the rule is
// picked up by the next reconcile tick instead.
func (s *Scheduler) TriggerRule(id uint) {
	select {
	case s.trigger <- id:
	default:
		zap.L().Warn("rule trigger channel full, deferring to next reconcile",
			zap.Uint("rule_id", id))
	}
}

// Run reconciles until ctx is cancelled, then stops every rule task
// and waits up to the drain timeout for in-flight evaluations
// (including detached notification dispatch) to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := zap.L()
	logger.Info("scheduler started",
		zap.Duration("check_interval", s.checkInterval),
		zap.Int64("max_concurrency", s.maxConcurrency))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return s.drain(logger)
		case <-ticker.C:
			s.reconcile(ctx)
		case id := <-s.trigger:
			logger.Info("rule trigger received", zap.Uint("rule_id", id))
			s.reconcileAndExecute(ctx, id)
		}
	}
}

func (s *Scheduler) drain(logger *zap.Logger) error {
	s.mu.Lock()
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
	s.inst.RulesRunning.Set(0)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		// Acquiring the full semaphore waits out detached dispatch
		// tasks, which hold slots but are not in the WaitGroup.
		_ = s.sem.Acquire(context.Background(), s.maxConcurrency)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.drainTimeout):
		logger.Warn("scheduler drain timed out with evaluations still in flight")
		return nil
	}
}

// reconcile synchronizes running rule tasks with the enabled rules in
// storage. It is the only writer of the running map.
func (s *Scheduler) reconcile(ctx context.Context) {
	logger := zap.L()
	rules, err := s.store.GetEnabledRules(ctx)
	if err != nil {
		logger.Error("failed to load enabled rules", zap.Error(err))
		return
	}

	enabled := make(map[uint]model.Rule, len(rules))
	for _, r := range rules {
		enabled[r.ID] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.running {
		if _, ok := enabled[id]; !ok {
			logger.Info("stopping rule task", zap.Uint("rule_id", id))
			cancel()
			delete(s.running, id)
		}
	}
	for id, rule := range enabled {
		if _, ok := s.running[id]; ok {
			continue
		}
		logger.Info("starting rule task",
			zap.Uint("rule_id", id),
			zap.String("rule_name", rule.Name),
			zap.Int("interval", rule.Interval))
		ruleCtx, cancel := context.WithCancel(ctx)
		s.running[id] = cancel
		s.wg.Add(1)
		go s.runRule(ruleCtx, rule)
	}
	s.inst.RulesRunning.Set(float64(len(s.running)))
}

// reconcileAndExecute reconciles, then force-executes the rule
// directly if reconcile did not start a task for it. This covers
// triggers for rules whose enable flag flipped between the trigger
// send and the reconcile read.
func (s *Scheduler) reconcileAndExecute(ctx context.Context, id uint) {
	s.reconcile(ctx)

	s.mu.Lock()
	_, isRunning := s.running[id]
	s.mu.Unlock()
	if isRunning {
		// A freshly started task force-executes on its own.
		return
	}

	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		zap.L().Error("failed to load triggered rule", zap.Uint("rule_id", id), zap.Error(err))
		return
	}
	if !rule.Enabled {
		zap.L().Debug("triggered rule is disabled, skipping", zap.Uint("rule_id", id))
		return
	}
	s.execute(ctx, rule, true)
}

// runRule is the per-rule task: one immediate force-execution, then a
// tick at the rule's interval (floored at 10s), reloading the rule on
// every tick so config edits take effect without restart.
func (s *Scheduler) runRule(ctx context.Context, rule model.Rule) {
	defer s.wg.Done()
	logger := zap.L().With(zap.Uint("rule_id", rule.ID), zap.String("rule_name", rule.Name))
	ctx = ctxlog.WithLogger(ctx, logger)

	interval := tickInterval(rule.Interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.executeReloaded(ctx, rule.ID, true)

	for {
		select {
		case <-ctx.Done():
			logger.Info("rule task stopped")
			return
		case <-ticker.C:
			reloaded, err := s.store.GetRule(ctx, rule.ID)
			if err != nil {
				logger.Error("failed to reload rule", zap.Error(err))
				continue
			}
			if next := tickInterval(reloaded.Interval); next != interval {
				interval = next
				ticker.Reset(interval)
				logger.Info("rule interval updated", zap.Duration("interval", interval))
			}
			s.execute(ctx, reloaded, false)
		}
	}
}

func (s *Scheduler) executeReloaded(ctx context.Context, id uint, force bool) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		zap.L().Error("failed to load rule for execution", zap.Uint("rule_id", id), zap.Error(err))
		return
	}
	s.execute(ctx, rule, force)
}

// execute runs one evaluation under the concurrency semaphore. The
// slot is released by the Executor, possibly from its detached
// notification task.
func (s *Scheduler) execute(ctx context.Context, rule *model.Rule, force bool) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		zap.L().Debug("evaluation cancelled while waiting for slot",
			zap.Uint("rule_id", rule.ID))
		return
	}
	release := func() { s.sem.Release(1) }
	if err := s.executor.Execute(ctx, rule, force, release); err != nil {
		zap.L().Error("rule evaluation failed",
			zap.Uint("rule_id", rule.ID),
			zap.String("rule_name", rule.Name),
			zap.Bool("force", force),
			zap.Error(err))
	}
}

func tickInterval(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if d < minTickInterval {
		d = minTickInterval
	}
	return d
}

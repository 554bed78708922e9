package alerter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"                         // Evaluation IDs.
	gocache "github.com/patrickmn/go-cache"          // In-memory client cache.
	"github.com/pkg/errors"                          // Wrap errors with stacktrace.
	"github.com/prometheus/client_golang/prometheus" // Prometheus metrics.
	"go.uber.org/zap"                                // Logging.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/metrics" // Prometheus utilities.
	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"   // Persisted types.
	"github.com/mintel/elasticsearch-alerter/internal/pkg/store"   // Storage layer.
	"github.com/mintel/elasticsearch-alerter/pkg/ctxlog"           // Context-scoped logging.
	"github.com/mintel/elasticsearch-alerter/pkg/es"               // Elasticsearch clients.
	"github.com/mintel/elasticsearch-alerter/pkg/lark"             // Alert notifications.
	"github.com/mintel/elasticsearch-alerter/pkg/query"            // Query construction.
)

const (
	// windowOverlap widens each query window backwards past the last
	// cursor so documents with boundary timestamps, or documents that
	// arrived while the previous query ran, are not lost.
	windowOverlap = 2 * time.Second

	// defaultWindow is how far back the first evaluation of a rule
	// looks when no cursor exists yet.
	defaultWindow = 5 * time.Minute

	// Caps on the matched-document sample: maxStoredLogs rows go to
	// the database, maxNotifySample are handed to the notifier.
	maxStoredLogs   = 50
	maxNotifySample = 10

	timeRangeLayout = "2006-01-02 15:04:05"
)

// LogQuerier runs one windowed log query. *es.QueryService implements it.
type LogQuerier interface {
	QueryLogs(ctx context.Context, index string, body interface{}, batchSize int) ([]map[string]interface{}, error)
}

// Notifier delivers one alert message. *lark.Client implements it.
type Notifier interface {
	Send(ctx context.Context, msg lark.Message) error
}

// EvaluatorStore is the slice of the storage layer the Evaluator needs.
type EvaluatorStore interface {
	GetDataSource(ctx context.Context, id uint) (*model.DataSource, error)
	GetDefaultDataSource(ctx context.Context) (*model.DataSource, error)
	GetChannel(ctx context.Context, id uint) (*model.Channel, error)
	UpdateRuleLastRunTime(ctx context.Context, id uint, t time.Time) error
	IncrementRunCount(ctx context.Context, id uint) error
	IncrementAlertCount(ctx context.Context, id uint, n int64) error
	CreateAlert(ctx context.Context, alert *model.Alert) error
	UpdateAlertStatus(ctx context.Context, id uint, status model.AlertStatus, errMsg string) error
}

// Evaluator runs single rule evaluations: window resolution, the
// Elasticsearch query, cursor bookkeeping, alert persistence, and
// notification dispatch.
type Evaluator struct {
	store         EvaluatorStore
	inst          *Instrumentation
	registerer    prometheus.Registerer
	defaultSource *es.Config
	batchSize     int
	sendTimeout   time.Duration

	// Per-data-source query clients, keyed by connection fingerprint.
	clients *gocache.Cache

	// Injection points for tests.
	newQuerier  func(cfg es.Config) (LogQuerier, error)
	newNotifier func(webhookURL string) Notifier
	now         func() time.Time
}

// NewEvaluator returns a new Evaluator. defaultSource may be nil when
// no fallback Elasticsearch connection is configured; r may be nil to
// skip HTTP client instrumentation.
func NewEvaluator(st EvaluatorStore, inst *Instrumentation, r prometheus.Registerer, defaultSource *es.Config, batchSize, retryTimes int, sendTimeout, queryTimeout time.Duration) *Evaluator {
	return &Evaluator{
		store:         st,
		inst:          inst,
		registerer:    r,
		defaultSource: defaultSource,
		batchSize:     batchSize,
		sendTimeout:   sendTimeout,
		clients:       gocache.New(30*time.Minute, 10*time.Minute),
		newQuerier: func(cfg es.Config) (LogQuerier, error) {
			client, err := es.NewClient(cfg)
			if err != nil {
				return nil, err
			}
			return es.NewQueryService(client, queryTimeout), nil
		},
		newNotifier: func(webhookURL string) Notifier {
			return lark.NewClient(webhookURL, retryTimes)
		},
		now: time.Now,
	}
}

// Execute runs one evaluation of rule. force bypasses the interval
// gate. release frees the caller's concurrency slot; Execute calls it
// exactly once, either before returning or from the detached
// notification task when the rule matched.
//
// A query failure leaves the rule's cursor untouched so the window is
// retried (or extended) on the next tick. Notification failures do not
// fail the evaluation; they are recorded on the persisted alert.
func (e *Evaluator) Execute(ctx context.Context, rule *model.Rule, force bool, release func()) error {
	if release == nil {
		release = func() {}
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	logger := ctxlog.L(ctx).With(
		zap.String("evaluation_id", uuid.NewString()),
		zap.Uint("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
	)

	now := e.now()
	if !force && rule.LastRunTime != nil {
		if sinceLast := now.Sub(*rule.LastRunTime); sinceLast < time.Duration(rule.Interval)*time.Second {
			logger.Debug("skipping evaluation, interval not elapsed",
				zap.Duration("since_last_run", sinceLast))
			e.inst.EvaluationsSkipped.Inc()
			return nil
		}
	}

	timer := prometheus.NewTimer(e.inst.EvaluationSeconds)
	defer timer.ObserveDuration()

	to := now
	from := now.Add(-defaultWindow)
	if rule.LastRunTime != nil {
		from = rule.LastRunTime.Add(-windowOverlap)
	}

	webhook, err := e.resolveWebhook(ctx, logger, rule)
	if err != nil {
		e.inst.EvaluationFailures.Inc()
		return err
	}
	querier, err := e.resolveQuerier(ctx, rule)
	if err != nil {
		e.inst.EvaluationFailures.Inc()
		return err
	}

	body, err := query.Build(rule.Queries, from, to)
	if err != nil {
		e.inst.EvaluationFailures.Inc()
		return errors.Wrapf(err, "build query for rule %d", rule.ID)
	}

	logger.Debug("querying logs",
		zap.String("index_pattern", rule.IndexPattern),
		zap.Time("from", from),
		zap.Time("to", to))
	logs, err := querier.QueryLogs(ctx, rule.IndexPattern, body, e.batchSize)
	if err != nil {
		e.inst.EvaluationFailures.Inc()
		return errors.Wrapf(err, "query logs for rule %d", rule.ID)
	}
	e.inst.Evaluations.Inc()

	// Advance the cursor synchronously so the next window starts from
	// here whether or not anything matched. A failed write extends the
	// next window instead of losing data.
	if err := e.store.UpdateRuleLastRunTime(ctx, rule.ID, to); err != nil {
		logger.Warn("failed to advance rule cursor", zap.Error(err))
	}
	go func() {
		if err := e.store.IncrementRunCount(context.Background(), rule.ID); err != nil {
			logger.Warn("failed to increment run_count", zap.Error(err))
		}
	}()

	if len(logs) == 0 {
		logger.Debug("no matches")
		return nil
	}

	logger.Info("rule matched, dispatching alert", zap.Int("log_count", len(logs)))
	handedOff = true
	go e.dispatch(ctx, logger, rule.ID, rule.Name, rule.IndexPattern, webhook, logs, from, to, release)
	return nil
}

// dispatch persists the alert and delivers the notification. It runs
// detached from Execute but still holds the caller's concurrency slot
// until it finishes, keeping the concurrency limit a real ceiling on
// outbound load.
func (e *Evaluator) dispatch(ctx context.Context, logger *zap.Logger, ruleID uint, ruleName, indexPattern, webhook string, logs []map[string]interface{}, from, to time.Time, release func()) {
	defer release()

	logCount := len(logs)
	timeRange := fmt.Sprintf("%s ~ %s", from.Format(timeRangeLayout), to.Format(timeRangeLayout))

	stored := logs
	if len(stored) > maxStoredLogs {
		stored = stored[:maxStoredLogs]
	}
	alert := &model.Alert{
		RuleID:    ruleID,
		IndexName: indexPattern,
		LogCount:  logCount,
		Logs:      model.LogData(stored),
		TimeRange: timeRange,
		Status:    model.AlertStatusSent,
	}
	// Persistence uses a fresh context: the record must survive even
	// when the per-rule task is being cancelled.
	persisted := true
	if err := e.store.CreateAlert(context.Background(), alert); err != nil {
		persisted = false
		logger.Error("failed to persist alert", zap.Error(err))
	}

	sample := logs
	if len(sample) > maxNotifySample {
		sample = sample[:maxNotifySample]
	}
	card := lark.BuildAlertCard(ruleName, indexPattern, sample, logCount, from, to)

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	sendErr := e.newNotifier(webhook).Send(sendCtx, card)

	if sendErr == nil {
		e.inst.AlertsSent.Inc()
		logger.Info("alert sent", zap.Uint("alert_id", alert.ID), zap.Int("log_count", logCount))
		if persisted {
			if err := e.store.IncrementAlertCount(context.Background(), ruleID, 1); err != nil {
				logger.Warn("failed to increment alert_count", zap.Error(err))
			}
		}
		return
	}

	e.inst.AlertsFailed.Inc()
	logger.Error("alert delivery failed", zap.Error(sendErr))
	if persisted {
		if err := e.store.UpdateAlertStatus(context.Background(), alert.ID, model.AlertStatusFailed, sendErr.Error()); err != nil {
			logger.Warn("failed to record alert failure", zap.Error(err))
		}
	}
}

// resolveWebhook picks the notification target: the linked channel
// when present and enabled, else the rule's inline webhook.
func (e *Evaluator) resolveWebhook(ctx context.Context, logger *zap.Logger, rule *model.Rule) (string, error) {
	if rule.ChannelID != nil {
		ch, err := e.store.GetChannel(ctx, *rule.ChannelID)
		switch {
		case err != nil:
			logger.Warn("failed to load channel, falling back to inline webhook",
				zap.Uint("channel_id", *rule.ChannelID), zap.Error(err))
		case ch.Enabled && ch.WebhookURL != "":
			return ch.WebhookURL, nil
		}
	}
	if rule.Webhook != "" {
		return rule.Webhook, nil
	}
	return "", errors.Errorf("rule %d has no webhook configured", rule.ID)
}

// resolveQuerier builds (or reuses) the query client for the rule's
// data source, falling back to the stored default source and then to
// the environment-configured one.
func (e *Evaluator) resolveQuerier(ctx context.Context, rule *model.Rule) (LogQuerier, error) {
	var cfg es.Config
	if rule.DataSourceID != nil {
		src, err := e.store.GetDataSource(ctx, *rule.DataSourceID)
		if err != nil {
			return nil, errors.Wrapf(err, "load data source for rule %d", rule.ID)
		}
		if !src.Enabled {
			return nil, errors.Errorf("data source %d is disabled", src.ID)
		}
		cfg = sourceConfig(src)
	} else {
		src, err := e.store.GetDefaultDataSource(ctx)
		switch {
		case err == nil:
			cfg = sourceConfig(src)
		case errors.Is(err, store.ErrNotFound) && e.defaultSource != nil:
			cfg = *e.defaultSource
		case errors.Is(err, store.ErrNotFound):
			return nil, errors.Errorf("rule %d has no data source and no default is configured", rule.ID)
		default:
			return nil, errors.Wrapf(err, "load default data source for rule %d", rule.ID)
		}
	}
	return e.querierFor(cfg)
}

func (e *Evaluator) querierFor(cfg es.Config) (LogQuerier, error) {
	key := fmt.Sprintf("%s|%s|%s|%t|%t|%s",
		cfg.URL, cfg.Username, cfg.Password, cfg.UseTLS, cfg.SkipVerify, cfg.CACertPEM)
	if cached, ok := e.clients.Get(key); ok {
		return cached.(LogQuerier), nil
	}
	if e.registerer != nil {
		r := e.registerer
		cfg.WrapHTTPClient = func(c *http.Client) (*http.Client, error) {
			return metrics.InstrumentHTTP(c, r, "", nil)
		}
	}
	querier, err := e.newQuerier(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create Elasticsearch client")
	}
	e.clients.Set(key, querier, gocache.DefaultExpiration)
	return querier, nil
}

func sourceConfig(src *model.DataSource) es.Config {
	return es.Config{
		URL:        src.URL,
		Username:   src.Username,
		Password:   src.Password,
		UseTLS:     src.UseTLS,
		SkipVerify: src.SkipVerify,
		CACertPEM:  src.CACert,
	}
}

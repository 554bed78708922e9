package alerter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
	"github.com/mintel/elasticsearch-alerter/internal/pkg/store"
	"github.com/mintel/elasticsearch-alerter/internal/pkg/testutil"
	"github.com/mintel/elasticsearch-alerter/pkg/es"
	"github.com/mintel/elasticsearch-alerter/pkg/lark"
	"github.com/mintel/elasticsearch-alerter/pkg/query"
)

type statusUpdate struct {
	id     uint
	status model.AlertStatus
	errMsg string
}

// fakeStore implements EvaluatorStore, SchedulerStore and CleanerStore
// in memory.
type fakeStore struct {
	mu sync.Mutex

	rules    map[uint]*model.Rule
	sources  map[uint]*model.DataSource
	defSrc   *model.DataSource
	channels map[uint]*model.Channel

	alerts         []*model.Alert
	createAlertErr error
	statusUpdates  []statusUpdate

	lastRunTimes   map[uint]time.Time
	runCounts      map[uint]int
	alertCounts    map[uint]int64
	updateCursorOK bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:          make(map[uint]*model.Rule),
		sources:        make(map[uint]*model.DataSource),
		channels:       make(map[uint]*model.Channel),
		lastRunTimes:   make(map[uint]time.Time),
		runCounts:      make(map[uint]int),
		alertCounts:    make(map[uint]int64),
		updateCursorOK: true,
	}
}

func (f *fakeStore) GetDataSource(_ context.Context, id uint) (*model.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if src, ok := f.sources[id]; ok {
		return src, nil
	}
	return nil, errors.Wrap(store.ErrNotFound, "data source")
}

func (f *fakeStore) GetDefaultDataSource(context.Context) (*model.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.defSrc != nil {
		return f.defSrc, nil
	}
	return nil, errors.Wrap(store.ErrNotFound, "default data source")
}

func (f *fakeStore) GetChannel(_ context.Context, id uint) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[id]; ok {
		return ch, nil
	}
	return nil, errors.Wrap(store.ErrNotFound, "channel")
}

func (f *fakeStore) UpdateRuleLastRunTime(_ context.Context, id uint, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.updateCursorOK {
		return errors.New("cursor write failed")
	}
	f.lastRunTimes[id] = t
	return nil
}

func (f *fakeStore) IncrementRunCount(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCounts[id]++
	return nil
}

func (f *fakeStore) IncrementAlertCount(_ context.Context, id uint, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCounts[id] += n
	return nil
}

func (f *fakeStore) CreateAlert(_ context.Context, alert *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAlertErr != nil {
		return f.createAlertErr
	}
	alert.ID = uint(len(f.alerts) + 1)
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeStore) UpdateAlertStatus(_ context.Context, id uint, status model.AlertStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, statusUpdate{id, status, errMsg})
	return nil
}

func (f *fakeStore) GetEnabledRules(context.Context) ([]model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rules []model.Rule
	for _, r := range f.rules {
		if r.Enabled {
			rules = append(rules, *r)
		}
	}
	return rules, nil
}

func (f *fakeStore) GetRule(_ context.Context, id uint) (*model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rules[id]; ok {
		rule := *r
		return &rule, nil
	}
	return nil, errors.Wrap(store.ErrNotFound, "rule")
}

func (f *fakeStore) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeQuerier struct {
	mu     sync.Mutex
	docs   []map[string]interface{}
	err    error
	bodies []interface{}
}

func (q *fakeQuerier) QueryLogs(_ context.Context, _ string, body interface{}, _ int) ([]map[string]interface{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, body)
	if q.err != nil {
		return nil, q.err
	}
	return q.docs, nil
}

func (q *fakeQuerier) calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bodies)
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	waitCtx  bool // if set, Send blocks until ctx is done and returns ctx.Err()
	urls     []string
	messages []lark.Message
}

func (n *fakeNotifier) factory() func(string) Notifier {
	return func(url string) Notifier {
		n.mu.Lock()
		n.urls = append(n.urls, url)
		n.mu.Unlock()
		return n
	}
}

func (n *fakeNotifier) Send(ctx context.Context, msg lark.Message) error {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	waitCtx, err := n.waitCtx, n.err
	n.mu.Unlock()
	if waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (n *fakeNotifier) sends() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newTestEvaluator(st *fakeStore, q *fakeQuerier, n *fakeNotifier, at time.Time) *Evaluator {
	e := NewEvaluator(st, NewInstrumentation("test"), nil, nil, 200, 3, time.Second, time.Second)
	e.newQuerier = func(es.Config) (LogQuerier, error) { return q, nil }
	e.newNotifier = n.factory()
	e.now = func() time.Time { return at }
	return e
}

func testRule() *model.Rule {
	return &model.Rule{
		ID:           1,
		Name:         "nginx-5xx",
		IndexPattern: "prod-nginx-*",
		Queries: query.Conditions{
			{Field: "response_code", Operator: ">=", Value: 500},
		},
		Enabled:  true,
		Interval: 60,
		Webhook:  "https://open.larksuite.com/hook/abc",
	}
}

// releaseTracker observes slot release for assertions.
type releaseTracker struct {
	ch chan struct{}
}

func newReleaseTracker() *releaseTracker {
	return &releaseTracker{ch: make(chan struct{})}
}

func (r *releaseTracker) release() { close(r.ch) }

func (r *releaseTracker) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrency slot was not released")
	}
}

func TestExecuteBasicMatch(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{docs: []map[string]interface{}{
		{"response_code": 500}, {"response_code": 502}, {"response_code": 504},
	}}
	n := &fakeNotifier{}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	e := newTestEvaluator(st, q, n, now)

	rule := testRule()
	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), rule, false, tracker.release))
	tracker.wait(t)

	// Cursor advanced to the window end.
	st.mu.Lock()
	assert.Equal(t, now, st.lastRunTimes[1])
	st.mu.Unlock()

	require.Equal(t, 1, st.alertCount())
	st.mu.Lock()
	alert := st.alerts[0]
	st.mu.Unlock()
	assert.Equal(t, uint(1), alert.RuleID)
	assert.Equal(t, "prod-nginx-*", alert.IndexName)
	assert.Equal(t, 3, alert.LogCount)
	assert.Equal(t, model.AlertStatusSent, alert.Status)
	assert.Equal(t, "2026-08-26 11:55:00 ~ 2026-08-26 12:00:00", alert.TimeRange)

	assert.Equal(t, 1, n.sends())
	assert.Equal(t, []string{"https://open.larksuite.com/hook/abc"}, n.urls)

	// One successful send increments alert_count by exactly 1.
	st.mu.Lock()
	assert.Equal(t, int64(1), st.alertCounts[1])
	st.mu.Unlock()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.runCounts[1] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteSkippedByGate(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	q := &fakeQuerier{}
	n := &fakeNotifier{}
	now := time.Now()
	e := newTestEvaluator(st, q, n, now)

	rule := testRule()
	lastRun := now.Add(-30 * time.Second) // interval is 60s
	rule.LastRunTime = &lastRun

	released := false
	require.NoError(t, e.Execute(context.Background(), rule, false, func() { released = true }))
	assert.True(t, released)
	assert.Zero(t, q.calls())
	assert.Zero(t, st.alertCount())
}

func TestExecuteForceBypassesGate(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{}
	n := &fakeNotifier{}
	now := time.Now()
	e := newTestEvaluator(st, q, n, now)

	rule := testRule()
	lastRun := now.Add(-30 * time.Second)
	rule.LastRunTime = &lastRun

	require.NoError(t, e.Execute(context.Background(), rule, true, nil))
	assert.Equal(t, 1, q.calls())
}

func TestExecuteWindowOverlap(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{}
	n := &fakeNotifier{}
	now := time.Date(2026, 8, 26, 12, 1, 0, 0, time.UTC)
	e := newTestEvaluator(st, q, n, now)

	rule := testRule()
	lastRun := now.Add(-2 * time.Minute)
	rule.LastRunTime = &lastRun

	require.NoError(t, e.Execute(context.Background(), rule, false, nil))
	require.Equal(t, 1, q.calls())

	body := q.bodies[0].(map[string]interface{})
	boolQ := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	must := boolQ["must"].([]map[string]interface{})
	timeRange := must[0]["range"].(map[string]interface{})["@timestamp"].(map[string]interface{})

	// Window starts 2s before the stored cursor, ends at now.
	assert.Equal(t, lastRun.Add(-2*time.Second).UTC().Format(time.RFC3339), timeRange["gte"])
	assert.Equal(t, now.UTC().Format(time.RFC3339), timeRange["lt"])
}

func TestExecuteNoMatchAdvancesCursor(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{} // zero docs
	n := &fakeNotifier{}
	now := time.Now()
	e := newTestEvaluator(st, q, n, now)

	released := false
	require.NoError(t, e.Execute(context.Background(), testRule(), false, func() { released = true }))

	assert.True(t, released)
	assert.Zero(t, st.alertCount())
	assert.Zero(t, n.sends())
	st.mu.Lock()
	assert.Equal(t, now, st.lastRunTimes[1])
	st.mu.Unlock()
}

func TestExecuteQueryFailureKeepsCursor(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{err: errors.New("es unavailable")}
	n := &fakeNotifier{}
	e := newTestEvaluator(st, q, n, time.Now())

	released := false
	err := e.Execute(context.Background(), testRule(), false, func() { released = true })
	require.Error(t, err)

	assert.True(t, released)
	assert.Zero(t, st.alertCount())
	st.mu.Lock()
	_, cursorMoved := st.lastRunTimes[1]
	st.mu.Unlock()
	assert.False(t, cursorMoved)
}

func TestExecuteSendFailureRecordsFailedStatus(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{docs: []map[string]interface{}{{"message": "boom"}}}
	n := &fakeNotifier{err: errors.New("webhook returned status 500")}
	e := newTestEvaluator(st, q, n, time.Now())

	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), testRule(), false, tracker.release))
	tracker.wait(t)

	require.Equal(t, 1, st.alertCount())
	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.statusUpdates, 1)
	assert.Equal(t, st.alerts[0].ID, st.statusUpdates[0].id)
	assert.Equal(t, model.AlertStatusFailed, st.statusUpdates[0].status)
	assert.Contains(t, st.statusUpdates[0].errMsg, "webhook returned status 500")
	assert.Zero(t, st.alertCounts[1])
}

func TestExecutePersistFailureStillNotifies(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	st.createAlertErr = errors.New("db unavailable")
	q := &fakeQuerier{docs: []map[string]interface{}{{"message": "boom"}}}
	n := &fakeNotifier{}
	e := newTestEvaluator(st, q, n, time.Now())

	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), testRule(), false, tracker.release))
	tracker.wait(t)

	assert.Equal(t, 1, n.sends())
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.statusUpdates)
	assert.Zero(t, st.alertCounts[1]) // no increment without a persisted alert
}

func TestExecuteSampleCaps(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	docs := make([]map[string]interface{}, 120)
	for i := range docs {
		docs[i] = map[string]interface{}{"message": "boom", "seq": i}
	}
	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{docs: docs}
	n := &fakeNotifier{}
	e := newTestEvaluator(st, q, n, time.Now())

	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), testRule(), false, tracker.release))
	tracker.wait(t)

	require.Equal(t, 1, st.alertCount())
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 120, st.alerts[0].LogCount)
	assert.Len(t, st.alerts[0].Logs, 50)
}

func TestExecuteChannelPreferredOverInlineWebhook(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	chID := uint(2)
	st.channels[chID] = &model.Channel{
		ID: chID, Enabled: true,
		WebhookURL: "https://open.larksuite.com/hook/channel",
	}
	q := &fakeQuerier{docs: []map[string]interface{}{{"message": "boom"}}}
	n := &fakeNotifier{}
	e := newTestEvaluator(st, q, n, time.Now())

	rule := testRule()
	rule.ChannelID = &chID

	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), rule, false, tracker.release))
	tracker.wait(t)

	assert.Equal(t, []string{"https://open.larksuite.com/hook/channel"}, n.urls)
}

func TestExecuteDisabledChannelFallsBackToInline(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	chID := uint(2)
	st.channels[chID] = &model.Channel{ID: chID, Enabled: false, WebhookURL: "https://disabled"}
	q := &fakeQuerier{docs: []map[string]interface{}{{"message": "boom"}}}
	n := &fakeNotifier{}
	e := newTestEvaluator(st, q, n, time.Now())

	rule := testRule()
	rule.ChannelID = &chID

	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(context.Background(), rule, false, tracker.release))
	tracker.wait(t)

	assert.Equal(t, []string{"https://open.larksuite.com/hook/abc"}, n.urls)
}

func TestExecuteNoWebhookFailsBeforeQuery(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{}
	e := newTestEvaluator(st, q, &fakeNotifier{}, time.Now())

	rule := testRule()
	rule.Webhook = ""

	err := e.Execute(context.Background(), rule, false, nil)
	require.Error(t, err)
	assert.Zero(t, q.calls())
}

func TestExecuteDisabledDataSource(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	srcID := uint(3)
	st.sources[srcID] = &model.DataSource{ID: srcID, URL: "http://es:9200", Enabled: false}
	q := &fakeQuerier{}
	e := newTestEvaluator(st, q, &fakeNotifier{}, time.Now())

	rule := testRule()
	rule.DataSourceID = &srcID

	err := e.Execute(context.Background(), rule, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	assert.Zero(t, q.calls())
}

func TestExecuteNoDataSourceAnywhere(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore() // no stored default, nil env default
	e := newTestEvaluator(st, &fakeQuerier{}, &fakeNotifier{}, time.Now())

	err := e.Execute(context.Background(), testRule(), false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data source")
}

func TestDispatchCancelledMidSend(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	q := &fakeQuerier{docs: []map[string]interface{}{{"message": "boom"}}}
	n := &fakeNotifier{waitCtx: true}
	now := time.Now()
	e := newTestEvaluator(st, q, n, now)
	e.sendTimeout = time.Minute // cancellation, not the budget, must end the send

	ctx, cancel := context.WithCancel(context.Background())
	tracker := newReleaseTracker()
	require.NoError(t, e.Execute(ctx, testRule(), false, tracker.release))

	require.Eventually(t, func() bool { return n.sends() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel() // rule disabled mid-tick
	tracker.wait(t)

	st.mu.Lock()
	defer st.mu.Unlock()
	// Cursor already advanced; the persisted alert records the failure.
	assert.Equal(t, now, st.lastRunTimes[1])
	require.Len(t, st.statusUpdates, 1)
	assert.Equal(t, model.AlertStatusFailed, st.statusUpdates[0].status)
	assert.Zero(t, st.alertCounts[1])
}

func TestQuerierCacheReusesClients(t *testing.T) {
	_, teardown := testutil.TestLogger(t)
	defer teardown()

	st := newFakeStore()
	st.defSrc = &model.DataSource{ID: 1, URL: "http://es:9200", Enabled: true}
	e := newTestEvaluator(st, &fakeQuerier{}, &fakeNotifier{}, time.Now())

	built := 0
	e.newQuerier = func(es.Config) (LogQuerier, error) {
		built++
		return &fakeQuerier{}, nil
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Execute(context.Background(), testRule(), true, nil))
	}
	assert.Equal(t, 1, built)
}

var _ prometheus.Collector = (*Instrumentation)(nil)

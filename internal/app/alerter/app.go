package alerter

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"                        // SQL database extensions.
	"github.com/prometheus/client_golang/prometheus" // Prometheus metrics.
	"go.uber.org/zap"                                // Logging.
	"golang.org/x/sync/errgroup"                     // Cancelable goroutine groups.
	kingpin "gopkg.in/alecthomas/kingpin.v2"         // Command line flag parsing.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/cmd"     // Common command line app tools.
	"github.com/mintel/elasticsearch-alerter/internal/pkg/secrets" // Credential encryption.
	"github.com/mintel/elasticsearch-alerter/internal/pkg/store"   // Storage layer.
	"github.com/mintel/elasticsearch-alerter/pkg/ctxlog"           // Context-scoped logging.
)

const (
	Name  = "alerter"
	Usage = "Evaluate log alert rules against Elasticsearch and deliver Lark webhook notifications."
)

// App holds application state.
type App struct {
	*kingpin.Application

	flags  *Flags           // Command line flags
	health *Healthchecks    // healthchecks HTTP handler
	inst   *Instrumentation // App-specific Prometheus metrics

	// API clients.
	clients struct {
		DB *sqlx.DB
	}
}

// NewApp returns a new App.
func NewApp(r prometheus.Registerer) (*App, error) {
	namespace := cmd.BuildPromFQName("", Name)

	app := &App{
		Application: kingpin.New(filepath.Base(os.Args[0]), Usage),
	}
	app.flags = NewFlags(app.Application)
	app.inst = NewInstrumentation(namespace)
	if err := r.Register(app.inst); err != nil {
		return nil, err
	}
	app.health = NewHealthchecks(r, namespace)

	return app, nil
}

// Main is the main method of App and should be called
// in main.main() after flag parsing.
func (app *App) Main(g prometheus.Gatherer) {
	logger := app.flags.NewLogger()
	defer func() { _ = logger.Sync() }()
	defer cmd.SetGlobalLogger(logger)()

	// Serve the healthchecks, Prometheus metrics, and pprof traces.
	go func() {
		mux := app.flags.ConfigureMux(http.DefaultServeMux, app.health.Handler, g)
		srv := app.flags.NewServer(mux)
		if err := srv.ListenAndServe(); err != nil {
			logger.Fatal("error serving healthchecks/metrics", zap.Error(err))
		}
	}()

	key, err := secrets.DecodeKey(app.flags.EncryptionKey)
	if err != nil {
		logger.Fatal("invalid encryption key", zap.Error(err))
	}

	db, err := app.flags.NewDB()
	if err != nil {
		logger.Fatal("error connecting to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	app.clients.DB = db
	app.health.DB = db

	st := store.New(db, app.flags.QueryTimeout(), key)

	ctx, cancel := cmd.WithInterrupt(context.Background())
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, logger)

	if !app.flags.WorkerEnabled {
		logger.Info("worker disabled, serving healthchecks and metrics only")
		app.health.WorkerReady = true
		<-ctx.Done()
		return
	}

	evaluator := NewEvaluator(
		st,
		app.inst,
		prometheus.DefaultRegisterer,
		app.flags.DefaultSource(),
		app.flags.BatchSize,
		app.flags.RetryTimes,
		app.flags.SendTimeout(),
		app.flags.ESQueryTimeout(),
	)
	scheduler := NewScheduler(
		st,
		evaluator,
		app.inst,
		app.flags.CheckInterval(),
		app.flags.MaxConcurrency,
		app.flags.ShutdownTimeout(),
	)
	cleaner := NewCleaner(st, app.inst)

	app.health.WorkerReady = true

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return scheduler.Run(ctx) })
	eg.Go(func() error { return cleaner.Run(ctx) })
	if err := eg.Wait(); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
}

package alerter

import (
	"strconv"
	"time"

	"github.com/pkg/errors"                  // Wrap errors with stacktrace.
	kingpin "gopkg.in/alecthomas/kingpin.v2" // Command line flag parsing.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/cmd" // Common command line app tools.
	"github.com/mintel/elasticsearch-alerter/pkg/es"           // Elasticsearch clients.
)

const (
	defaultPort                = 8080
	defaultLogLevel            = "INFO"
	defaultQueryTimeoutSeconds = 5

	defaultCheckIntervalSeconds   = 30
	defaultMaxConcurrency         = 10
	defaultRetryTimes             = 3
	defaultBatchSize              = 200
	defaultSendTimeoutSeconds     = 20
	defaultESQueryTimeoutSeconds  = 30
	defaultShutdownTimeoutSeconds = 30
)

// Flags holds command line flags for the alerter App.
type Flags struct {
	// If false, the scheduler and cleanup worker do not run; only the
	// healthcheck/metrics server is served.
	WorkerEnabled bool

	// How often the scheduler reconciles running rules with storage,
	// in seconds.
	CheckIntervalSeconds int

	// Max rule evaluations (including their notification dispatch)
	// in flight at once.
	MaxConcurrency int

	// Webhook delivery attempts per alert.
	RetryTimes int

	// Scroll page size for Elasticsearch queries.
	BatchSize int

	// Overall budget for one alert notification, in seconds.
	AlertSendTimeoutSeconds int

	// Default Elasticsearch query timeout, in seconds.
	ESQueryTimeoutSeconds int

	// How long shutdown waits for in-flight evaluations, in seconds.
	ShutdownTimeoutSeconds int

	// Base64-encoded 32-byte AES key for stored credentials.
	// Empty disables encryption.
	EncryptionKey string

	// Fallback Elasticsearch connection for rules without a data
	// source, configured from the environment.
	ESURL        string
	ESUsername   string
	ESPassword   string
	ESUseTLS     bool
	ESSkipVerify bool
	ESCACert     string

	*cmd.LoggingFlags
	*cmd.ServerFlags
	*cmd.DatabaseFlags
}

// NewFlags returns a new Flags.
func NewFlags(app *kingpin.Application) *Flags {
	var f Flags

	app.Flag("worker.enabled", "Run the rule scheduler and cleanup worker.").
		Envar("WORKER_ENABLED").
		Default("true").
		BoolVar(&f.WorkerEnabled)

	app.Flag("worker.check-interval", "Rule reconcile interval in seconds.").
		Envar("WORKER_CHECK_INTERVAL").
		Default(strconv.Itoa(defaultCheckIntervalSeconds)).
		IntVar(&f.CheckIntervalSeconds)

	app.Flag("worker.max-concurrency", "Max concurrent rule evaluations.").
		Envar("WORKER_MAX_CONCURRENCY").
		Default(strconv.Itoa(defaultMaxConcurrency)).
		IntVar(&f.MaxConcurrency)

	app.Flag("worker.retry-times", "Webhook delivery attempts per alert.").
		Envar("WORKER_RETRY_TIMES").
		Default(strconv.Itoa(defaultRetryTimes)).
		IntVar(&f.RetryTimes)

	app.Flag("worker.batch-size", "Elasticsearch scroll page size.").
		Envar("WORKER_BATCH_SIZE").
		Default(strconv.Itoa(defaultBatchSize)).
		IntVar(&f.BatchSize)

	app.Flag("worker.send-timeout", "Overall alert notification budget in seconds.").
		Envar("ALERT_SEND_TIMEOUT_SECONDS").
		Default(strconv.Itoa(defaultSendTimeoutSeconds)).
		IntVar(&f.AlertSendTimeoutSeconds)

	app.Flag("worker.query-timeout", "Default Elasticsearch query timeout in seconds.").
		Envar("ES_QUERY_TIMEOUT_SECONDS").
		Default(strconv.Itoa(defaultESQueryTimeoutSeconds)).
		IntVar(&f.ESQueryTimeoutSeconds)

	app.Flag("worker.shutdown-timeout", "Shutdown drain budget in seconds.").
		Envar("WORKER_SHUTDOWN_TIMEOUT_SECONDS").
		Default(strconv.Itoa(defaultShutdownTimeoutSeconds)).
		IntVar(&f.ShutdownTimeoutSeconds)

	app.Flag("encryption-key", "Base64-encoded 32-byte AES key for stored credentials.").
		Envar("APP_ENCRYPTION_KEY").
		StringVar(&f.EncryptionKey)

	app.Flag("es.url", "Fallback Elasticsearch node URLs, semicolon-separated.").
		Envar("ES_URL").
		StringVar(&f.ESURL)

	app.Flag("es.username", "Fallback Elasticsearch username.").
		Envar("ES_USERNAME").
		StringVar(&f.ESUsername)

	app.Flag("es.password", "Fallback Elasticsearch password.").
		Envar("ES_PASSWORD").
		StringVar(&f.ESPassword)

	app.Flag("es.use-ssl", "Use TLS for the fallback Elasticsearch connection.").
		Envar("ES_USE_SSL").
		BoolVar(&f.ESUseTLS)

	app.Flag("es.skip-verify", "Skip TLS certificate verification for the fallback connection.").
		Envar("ES_SKIP_VERIFY").
		BoolVar(&f.ESSkipVerify)

	app.Flag("es.ca-certificate", "PEM CA certificate for the fallback connection.").
		Envar("ES_CA_CERTIFICATE").
		StringVar(&f.ESCACert)

	app.Validate(func(app *kingpin.Application) error {
		if f.MaxConcurrency < 1 {
			return errors.New("--worker.max-concurrency must be at least 1")
		}
		if f.RetryTimes < 1 {
			return errors.New("--worker.retry-times must be at least 1")
		}
		if f.BatchSize < 1 {
			return errors.New("--worker.batch-size must be at least 1")
		}
		return nil
	})

	f.LoggingFlags = cmd.NewLoggingFlags(app, defaultLogLevel)
	f.ServerFlags = cmd.NewServerFlags(app, defaultPort)
	f.DatabaseFlags = cmd.NewDatabaseFlags(app, defaultQueryTimeoutSeconds)

	return &f
}

// CheckInterval returns the reconcile interval as a Duration.
func (f *Flags) CheckInterval() time.Duration {
	if f.CheckIntervalSeconds <= 0 {
		return defaultCheckIntervalSeconds * time.Second
	}
	return time.Duration(f.CheckIntervalSeconds) * time.Second
}

// SendTimeout returns the notification budget as a Duration.
func (f *Flags) SendTimeout() time.Duration {
	if f.AlertSendTimeoutSeconds <= 0 {
		return defaultSendTimeoutSeconds * time.Second
	}
	return time.Duration(f.AlertSendTimeoutSeconds) * time.Second
}

// ESQueryTimeout returns the default query timeout as a Duration.
func (f *Flags) ESQueryTimeout() time.Duration {
	if f.ESQueryTimeoutSeconds <= 0 {
		return defaultESQueryTimeoutSeconds * time.Second
	}
	return time.Duration(f.ESQueryTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the drain budget as a Duration.
func (f *Flags) ShutdownTimeout() time.Duration {
	if f.ShutdownTimeoutSeconds <= 0 {
		return defaultShutdownTimeoutSeconds * time.Second
	}
	return time.Duration(f.ShutdownTimeoutSeconds) * time.Second
}

// DefaultSource returns the fallback Elasticsearch connection config,
// or nil when ES_URL is unset.
func (f *Flags) DefaultSource() *es.Config {
	if f.ESURL == "" {
		return nil
	}
	return &es.Config{
		URL:        f.ESURL,
		Username:   f.ESUsername,
		Password:   f.ESPassword,
		UseTLS:     f.ESUseTLS,
		SkipVerify: f.ESSkipVerify,
		CACertPEM:  f.ESCACert,
	}
}

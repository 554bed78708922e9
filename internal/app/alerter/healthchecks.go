package alerter

import (
	"github.com/jmoiron/sqlx"                        // SQL database extensions.
	"github.com/mintel/healthcheck"                  // Healthchecks framework.
	"github.com/pkg/errors"                          // Wrap errors with stacktrace.
	"github.com/prometheus/client_golang/prometheus" // Prometheus metrics.
)

type Healthchecks struct {
	Handler healthcheck.Handler

	// Set once the database connection is established.
	DB *sqlx.DB

	// Flag to be set true once the scheduler has started
	// (or immediately when the worker is disabled).
	WorkerReady bool
}

func NewHealthchecks(r prometheus.Registerer, namespace string) *Healthchecks {
	h := &Healthchecks{
		Handler: healthcheck.NewMetricsHandler(
			r,
			namespace,
		),
	}

	// Add a liveness check that always succeeds just to show we're alive.
	h.Handler.AddLivenessCheck("alive", func() error { return nil })

	h.Handler.AddReadinessCheck("database", func() error {
		if h.DB == nil {
			return errors.New("database connection not yet established")
		}
		return h.DB.Ping()
	})

	h.Handler.AddReadinessCheck("worker", func() error {
		if !h.WorkerReady {
			return errors.New("worker not yet started")
		}
		return nil
	})

	return h
}

// Package testutil contains miscellaneous testing utilities.
package testutil

import (
	"net/http"
	"net/http/httputil"
	"testing"

	"go.uber.org/zap" // Logging.
	"go.uber.org/zap/zaptest"
	gock "gopkg.in/h2non/gock.v1" // HTTP request mocking.
)

// TestLogger returns a zap Logger that logs all messages to the given testing.TB.
// It replaces the zap global Logger and redirects the stdlib log to the test Logger.
func TestLogger(t *testing.T) (logger *zap.Logger, teardown func()) {
	logger = zaptest.NewLogger(t)
	teardownLogger1 := zap.ReplaceGlobals(logger)
	teardownLogger2 := zap.RedirectStdLog(logger)
	teardown = func() {
		teardownLogger2()
		teardownLogger1()
		_ = logger.Sync()
	}
	return
}

// GockLogObserver returns a gock.ObserverFunc that logs HTTP requests to a zap Logger.
func GockLogObserver(logger *zap.Logger) gock.ObserverFunc {
	return func(request *http.Request, mock gock.Mock) {
		bytes, _ := httputil.DumpRequestOut(request, true)
		logger.Debug("gock intercepted http request",
			zap.String("request", string(bytes)),
			zap.Bool("matches_mock", mock != nil),
		)
	}
}

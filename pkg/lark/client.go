package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4" // Exponential retry backoff.
	"github.com/pkg/errors"                  // Wrap errors with context.
	"github.com/tidwall/gjson"               // Dynamic JSON field access.
	"go.uber.org/zap"                        // Logging.
)

const (
	attemptTimeout  = 10 * time.Second
	backoffInitial  = time.Second
	backoffMax      = 8 * time.Second
	jitterMaxMillis = 250
)

// DefaultAttempts is used when a Client is built with a non-positive
// attempt count.
const DefaultAttempts = 3

// Client posts alert cards to a Lark custom-bot webhook, retrying
// failed deliveries with exponential backoff.
type Client struct {
	webhookURL  string
	maxAttempts int
	httpClient  *http.Client
}

// NewClient returns a Client for webhookURL that gives up after
// maxAttempts tries.
func NewClient(webhookURL string, maxAttempts int) *Client {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	return &Client{
		webhookURL:  webhookURL,
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Timeout: attemptTimeout},
	}
}

// Send delivers msg, retrying transient failures with 1s, 2s, 4s, 8s...
// waits plus up to 250ms of jitter. Delivery succeeds only when the
// webhook answers HTTP 200 with a body whose "code" field is 0. ctx
// cancellation aborts between attempts and cuts the in-flight request.
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal Lark message")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.MaxInterval = backoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0 // jitter is added separately below
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			zap.L().Debug("Sent Lark notification",
				zap.String("webhook_url", c.webhookURL),
				zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "send Lark notification")
		}
		zap.L().Warn("Lark delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Error(lastErr))

		if attempt == c.maxAttempts {
			break
		}
		wait := b.NextBackOff() + time.Duration(rand.Intn(jitterMaxMillis))*time.Millisecond
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "send Lark notification")
		case <-time.After(wait):
		}
	}
	return errors.Wrapf(lastErr, "send Lark notification after %d attempts", c.maxAttempts)
}

// post runs a single delivery attempt.
func (c *Client) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "post to webhook")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read webhook response")
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("webhook returned status %d: %s", resp.StatusCode, respBody)
	}
	code := gjson.GetBytes(respBody, "code")
	if !code.Exists() {
		return errors.Errorf("webhook response missing code: %s", respBody)
	}
	if code.Int() != 0 {
		return errors.Errorf("webhook returned code %d: %s",
			code.Int(), gjson.GetBytes(respBody, "msg").String())
	}
	return nil
}

// Package es builds Elasticsearch clients for alerting data sources and
// runs the windowed log queries the rule evaluator needs.
package es

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"strings"
	"time"

	elastic "github.com/olivere/elastic/v7" // Elasticsearch client.
	"github.com/pkg/errors"                 // Wrap errors with context.
)

// Connection pool limits sized for many concurrent rule evaluations
// against a handful of clusters.
const (
	maxIdleConns        = 200
	maxIdleConnsPerHost = 100
	maxConnsPerHost     = 200
	idleConnTimeout     = 90 * time.Second
)

// Config describes how to reach one Elasticsearch data source.
type Config struct {
	// One or more node URLs separated by semicolons, e.g.
	// "https://10.0.0.1:9200;https://10.0.0.2:9200". Requests are
	// load-balanced across all of them by the client.
	URL string

	// Optional basic auth credentials (plaintext; decryption of stored
	// secrets happens in the storage layer).
	Username string
	Password string

	// TLS policy. TLS is used when UseTLS is set or any URL is https.
	UseTLS     bool
	SkipVerify bool
	CACertPEM  string // if set, installed as the only trust root

	// WrapHTTPClient, when set, decorates the HTTP client before it is
	// handed to the Elasticsearch client. Used to add Prometheus
	// instrumentation to outbound query traffic.
	WrapHTTPClient func(*http.Client) (*http.Client, error)
}

// Addresses returns the parsed node URLs: split on semicolons,
// trimmed, empties dropped.
func (c Config) Addresses() []string {
	var addrs []string
	for _, part := range strings.Split(c.URL, ";") {
		if a := strings.TrimSpace(part); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func (c Config) needsTLS() bool {
	if c.UseTLS {
		return true
	}
	for _, a := range c.Addresses() {
		if strings.HasPrefix(a, "https://") {
			return true
		}
	}
	return false
}

// NewClient returns an Elasticsearch client for the given source.
//
// Sniffing and healthchecking are disabled: the address list is static
// user config, and nodes may live behind proxies that the sniffed
// addresses would bypass. A failed node is retried transparently on the
// next address by the retrier, up to 3 times.
func NewClient(cfg Config) (*elastic.Client, error) {
	addrs := cfg.Addresses()
	if len(addrs) == 0 {
		return nil, errors.Errorf("no valid Elasticsearch addresses in %q", cfg.URL)
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
	}

	if cfg.needsTLS() {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		}
		if cfg.CACertPEM != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(cfg.CACertPEM)) {
				return nil, errors.New("failed to parse CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}

	httpClient := &http.Client{Transport: transport}
	if cfg.WrapHTTPClient != nil {
		wrapped, err := cfg.WrapHTTPClient(httpClient)
		if err != nil {
			return nil, errors.Wrap(err, "wrap HTTP client")
		}
		httpClient = wrapped
	}

	options := []elastic.ClientOptionFunc{
		elastic.SetURL(addrs...),
		elastic.SetHttpClient(httpClient),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetRetrier(elastic.NewBackoffRetrier(elastic.NewSimpleBackoff(100, 500, 1000))),
	}
	if cfg.Username != "" && cfg.Password != "" {
		options = append(options, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}

	client, err := elastic.NewClient(options...)
	if err != nil {
		return nil, errors.Wrap(err, "create Elasticsearch client")
	}
	return client, nil
}

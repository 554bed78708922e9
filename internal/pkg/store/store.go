// Package store persists rules, alerts and notification config in
// Postgres. Credentials (data source passwords, webhook URLs) are
// decrypted on load so callers never see ciphertext.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx" // SQL extensions.
	"github.com/pkg/errors"   // Wrap errors with context.
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const defaultQueryTimeout = 5 * time.Second

// Store wraps the database handle with a per-query timeout and the
// secrets key used to decrypt stored credentials.
type Store struct {
	db            *sqlx.DB
	queryTimeout  time.Duration
	encryptionKey []byte
}

// New returns a Store. queryTimeout bounds every query; zero or
// negative means the 5s default. encryptionKey may be nil when secrets
// are stored in plaintext.
func New(db *sqlx.DB, queryTimeout time.Duration, encryptionKey []byte) *Store {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Store{
		db:            db,
		queryTimeout:  queryTimeout,
		encryptionKey: encryptionKey,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrapf(err, "get %s", what)
}

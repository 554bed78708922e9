package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
	"github.com/mintel/elasticsearch-alerter/internal/pkg/secrets"
)

const sourceColumns = `id, created_at, updated_at, name, url, username, password,
	use_tls, skip_verify, ca_cert, is_default, enabled, description`

// GetDataSource returns one data source by id with its password
// decrypted, or ErrNotFound.
func (s *Store) GetDataSource(ctx context.Context, id uint) (*model.DataSource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var src model.DataSource
	err := s.db.GetContext(ctx, &src,
		`SELECT `+sourceColumns+` FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "data source")
	}
	if err := s.decryptSource(&src); err != nil {
		return nil, err
	}
	return &src, nil
}

// GetDefaultDataSource returns the enabled source marked as default.
// Rules without an explicit source fall back to it; ErrNotFound means
// no default is configured.
func (s *Store) GetDefaultDataSource(ctx context.Context) (*model.DataSource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var src model.DataSource
	err := s.db.GetContext(ctx, &src,
		`SELECT `+sourceColumns+` FROM data_sources
		 WHERE is_default = true AND enabled = true
		 ORDER BY id LIMIT 1`)
	if err != nil {
		return nil, notFound(err, "default data source")
	}
	if err := s.decryptSource(&src); err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *Store) decryptSource(src *model.DataSource) error {
	password, err := secrets.MaybeDecrypt(src.Password, s.encryptionKey)
	if err != nil {
		return errors.Wrapf(err, "decrypt password for data source %d", src.ID)
	}
	src.Password = password
	return nil
}

package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
	"github.com/mintel/elasticsearch-alerter/internal/pkg/secrets"
)

// GetChannel returns one notification channel by id with its webhook
// URL decrypted, or ErrNotFound.
func (s *Store) GetChannel(ctx context.Context, id uint) (*model.Channel, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ch model.Channel
	err := s.db.GetContext(ctx, &ch,
		`SELECT id, created_at, updated_at, name, webhook_url, is_default, enabled, description
		 FROM channels WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	webhook, err := secrets.MaybeDecrypt(ch.WebhookURL, s.encryptionKey)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt webhook for channel %d", ch.ID)
	}
	ch.WebhookURL = webhook
	return &ch, nil
}

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mintel/elasticsearch-alerter/internal/pkg/model"
	"github.com/mintel/elasticsearch-alerter/internal/pkg/secrets"
)

const ruleColumns = `id, created_at, updated_at, name, index_pattern, queries,
	enabled, "interval", description, data_source_id, channel_id, webhook,
	last_run_time, run_count, alert_count`

// GetEnabledRules returns every enabled rule, ordered by id.
func (s *Store) GetEnabledRules(ctx context.Context) ([]model.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rules []model.Rule
	err := s.db.SelectContext(ctx, &rules,
		`SELECT `+ruleColumns+` FROM rules WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select enabled rules")
	}
	for i := range rules {
		if err := s.decryptRule(&rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// GetRule returns one rule by id, or ErrNotFound.
func (s *Store) GetRule(ctx context.Context, id uint) (*model.Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rule model.Rule
	err := s.db.GetContext(ctx, &rule,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "rule")
	}
	if err := s.decryptRule(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpdateRuleLastRunTime moves the rule's evaluation cursor to t.
func (s *Store) UpdateRuleLastRunTime(ctx context.Context, id uint, t time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET last_run_time = $1, updated_at = now() WHERE id = $2`, t, id)
	return errors.Wrap(err, "update rule last_run_time")
}

// IncrementRunCount records one completed evaluation.
func (s *Store) IncrementRunCount(ctx context.Context, id uint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET run_count = run_count + 1 WHERE id = $1`, id)
	return errors.Wrap(err, "increment rule run_count")
}

// IncrementAlertCount adds n fired alerts to the rule's total.
func (s *Store) IncrementAlertCount(ctx context.Context, id uint, n int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET alert_count = alert_count + $1 WHERE id = $2`, n, id)
	return errors.Wrap(err, "increment rule alert_count")
}

// DeleteRule removes a rule and all of its alerts in one transaction.
func (s *Store) DeleteRule(ctx context.Context, id uint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete rule")
	}
	defer tx.Rollback() // nolint: errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE rule_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete rule alerts")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete rule")
	}
	return errors.Wrap(tx.Commit(), "commit delete rule")
}

func (s *Store) decryptRule(rule *model.Rule) error {
	webhook, err := secrets.MaybeDecrypt(rule.Webhook, s.encryptionKey)
	if err != nil {
		return errors.Wrapf(err, "decrypt webhook for rule %d", rule.ID)
	}
	rule.Webhook = webhook
	return nil
}

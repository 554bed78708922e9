package model

import "time"

// Channel is a named notification target, currently always a Lark
// custom-bot webhook. WebhookURL is encrypted at rest; the storage
// layer decrypts it on load.
type Channel struct {
	ID        uint      `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Name        string `db:"name" json:"name"`
	WebhookURL  string `db:"webhook_url" json:"-"`
	IsDefault   bool   `db:"is_default" json:"is_default"`
	Enabled     bool   `db:"enabled" json:"enabled"`
	Description string `db:"description" json:"description,omitempty"`
}

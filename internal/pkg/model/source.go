package model

import "time"

// DataSource is an Elasticsearch cluster rules can query. Password is
// encrypted at rest; the storage layer decrypts it on load.
type DataSource struct {
	ID        uint      `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Name string `db:"name" json:"name"`

	// URL holds one or more node addresses separated by semicolons.
	URL      string `db:"url" json:"url"`
	Username string `db:"username" json:"username,omitempty"`
	Password string `db:"password" json:"-"`

	UseTLS     bool   `db:"use_tls" json:"use_tls"`
	SkipVerify bool   `db:"skip_verify" json:"skip_verify"`
	CACert     string `db:"ca_cert" json:"-"`

	IsDefault   bool   `db:"is_default" json:"is_default"`
	Enabled     bool   `db:"enabled" json:"enabled"`
	Description string `db:"description" json:"description,omitempty"`
}

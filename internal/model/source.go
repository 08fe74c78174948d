package model

import "time"

// Source is a backend system a point-in-time backup artifact can be produced
// from and restored into. Password and APIKey are stored encrypted at rest;
// only the credential vault and the consuming adapter ever see plaintext.
type Source struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	Login     *string   `json:"login,omitempty"`
	Password  *string   `json:"-"`
	APIKey    *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SourceTypePostgres      = "postgres"
	SourceTypeElasticsearch = "elasticsearch"
	SourceTypeQdrant        = "qdrant"
)

package model

import "time"

// Destination is a storage backend capable of durably holding, listing,
// fetching and removing backup artifacts.
type Destination struct {
	ID       int64   `json:"id"`
	TenantID string  `json:"tenant_id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	URL      string  `json:"url"`
	Login    *string `json:"login,omitempty"`
	Password *string `json:"-"`
	APIKey   *string `json:"-"`
	// Config carries backend-specific settings as free-form key/value pairs
	// (stored as jsonb).
	Config    map[string]string `json:"config,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

const (
	DestinationTypeS3      = "s3"
	DestinationTypeSFTP    = "sftp"
	DestinationTypeLocalFS = "local_fs"
	DestinationTypeWebDAV  = "webdav"
)

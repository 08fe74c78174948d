package model

import "time"

// Artifact describes one backup file at a destination. It is reconstructed on
// every listing by parsing the structured artifact filename; it is never
// stored as its own row.
type Artifact struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	// Fields recovered from the filename.
	SourceType string `json:"source_type"`
	TenantID   string `json:"tenant_id"`
	ScheduleID *int64 `json:"schedule_id,omitempty"`
	SourceID   int64  `json:"source_id"`
}

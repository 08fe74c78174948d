package model

import "time"

// Schedule is a recurring backup definition owned by a tenant. The cron
// expression uses the classic 5-field form (minute, hour, day-of-month,
// month, day-of-week).
type Schedule struct {
	ID            int64  `json:"id"`
	TenantID      string `json:"tenant_id"`
	Name          string `json:"name"`
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	// KeepN is the number of most-recent same-source-type artifacts kept at
	// the destination after a run. Zero disables pruning.
	KeepN     int        `json:"keep_n"`
	CronExpr  string     `json:"cron_expr"`
	IsActive  bool       `json:"is_active"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/notify"
)

// ScheduleService manages recurring backup schedules. Every mutation that
// changes what or when the dispatcher should fire publishes a reload
// notification. Recording a run via UpdateLastRun deliberately does not:
// the dispatcher itself writes it after every fire, and a reload there
// would rebuild the cron table on each run for nothing.
type ScheduleService struct {
	db  DB
	pub notify.Publisher
}

func NewScheduleService(db DB, pub notify.Publisher) *ScheduleService {
	return &ScheduleService{db: db, pub: pub}
}

func (s *ScheduleService) publishReload(ctx context.Context) error {
	if err := s.pub.PublishReload(ctx); err != nil {
		return fmt.Errorf("publish schedule reload: %w", err)
	}
	return nil
}

func (s *ScheduleService) Create(ctx context.Context, sched *model.Schedule) error {
	if err := ValidateCronExpr(sched.CronExpr); err != nil {
		return err
	}

	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	next, err := NextRun(sched.CronExpr, now)
	if err != nil {
		return err
	}
	sched.NextRun = &next

	err = s.db.QueryRow(ctx,
		`INSERT INTO backup_schedules (tenant_id, name, source_id, destination_id, keep_n, cron_expr, is_active, next_run, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		sched.TenantID, sched.Name, sched.SourceID, sched.DestinationID, sched.KeepN,
		sched.CronExpr, sched.IsActive, sched.NextRun, sched.CreatedAt, sched.UpdatedAt,
	).Scan(&sched.ID)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	return s.publishReload(ctx)
}

func (s *ScheduleService) GetByID(ctx context.Context, tenantID string, id int64) (*model.Schedule, error) {
	var sched model.Schedule
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, source_id, destination_id, keep_n, cron_expr, is_active, last_run, next_run, created_at, updated_at
		 FROM backup_schedules WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&sched.ID, &sched.TenantID, &sched.Name, &sched.SourceID, &sched.DestinationID,
		&sched.KeepN, &sched.CronExpr, &sched.IsActive, &sched.LastRun, &sched.NextRun,
		&sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return &sched, nil
}

func (s *ScheduleService) ListByTenant(ctx context.Context, tenantID string) ([]model.Schedule, error) {
	return s.list(ctx,
		`SELECT id, tenant_id, name, source_id, destination_id, keep_n, cron_expr, is_active, last_run, next_run, created_at, updated_at
		 FROM backup_schedules WHERE tenant_id = $1 ORDER BY id`, tenantID)
}

// ListActive returns every active schedule across all tenants. The
// dispatcher builds its cron table from this.
func (s *ScheduleService) ListActive(ctx context.Context) ([]model.Schedule, error) {
	return s.list(ctx,
		`SELECT id, tenant_id, name, source_id, destination_id, keep_n, cron_expr, is_active, last_run, next_run, created_at, updated_at
		 FROM backup_schedules WHERE is_active ORDER BY id`)
}

func (s *ScheduleService) list(ctx context.Context, query string, args ...any) ([]model.Schedule, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		var sched model.Schedule
		if err := rows.Scan(&sched.ID, &sched.TenantID, &sched.Name, &sched.SourceID,
			&sched.DestinationID, &sched.KeepN, &sched.CronExpr, &sched.IsActive,
			&sched.LastRun, &sched.NextRun, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

func (s *ScheduleService) Update(ctx context.Context, sched *model.Schedule) error {
	if err := ValidateCronExpr(sched.CronExpr); err != nil {
		return err
	}
	sched.UpdatedAt = time.Now().UTC()

	next, err := NextRun(sched.CronExpr, sched.UpdatedAt)
	if err != nil {
		return err
	}
	sched.NextRun = &next

	tag, err := s.db.Exec(ctx,
		`UPDATE backup_schedules
		 SET name = $1, source_id = $2, destination_id = $3, keep_n = $4, cron_expr = $5, is_active = $6, next_run = $7, updated_at = $8
		 WHERE id = $9 AND tenant_id = $10`,
		sched.Name, sched.SourceID, sched.DestinationID, sched.KeepN, sched.CronExpr,
		sched.IsActive, sched.NextRun, sched.UpdatedAt, sched.ID, sched.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", sched.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update schedule %d: %w", sched.ID, errNoRows)
	}

	return s.publishReload(ctx)
}

func (s *ScheduleService) Delete(ctx context.Context, tenantID string, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_schedules WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete schedule %d: %w", id, errNoRows)
	}

	return s.publishReload(ctx)
}

// SetActive toggles a schedule on or off.
func (s *ScheduleService) SetActive(ctx context.Context, tenantID string, id int64, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_schedules SET is_active = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		active, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("toggle schedule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("toggle schedule %d: %w", id, errNoRows)
	}

	return s.publishReload(ctx)
}

// UpdateLastRun records a fire time and the next computed fire time. It is
// the one schedule write that must not publish a reload.
func (s *ScheduleService) UpdateLastRun(ctx context.Context, id int64, lastRun time.Time) error {
	var sched model.Schedule
	err := s.db.QueryRow(ctx,
		`SELECT cron_expr FROM backup_schedules WHERE id = $1`, id,
	).Scan(&sched.CronExpr)
	if err != nil {
		return fmt.Errorf("get schedule %d: %w", id, err)
	}

	var nextRun *time.Time
	if next, err := NextRun(sched.CronExpr, lastRun); err == nil {
		nextRun = &next
	}

	_, err = s.db.Exec(ctx,
		`UPDATE backup_schedules SET last_run = $1, next_run = $2, updated_at = $3 WHERE id = $4`,
		lastRun, nextRun, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record schedule run %d: %w", id, err)
	}
	return nil
}

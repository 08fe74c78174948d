// Package dispatch turns the schedule table into timed backup runs. The
// dispatcher keeps a live cron table built from the active schedules and
// rebuilds it whenever a reload notification arrives, so schedule changes
// take effect without restarting the worker.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/notify"
	"github.com/edvin/backupd/internal/task"
)

// Invoker fires one backup run. The production implementation starts a
// CreateBackupWorkflow on the task queue.
type Invoker interface {
	InvokeBackup(ctx context.Context, req task.BackupRequest) error
}

type scheduleStore interface {
	ListActive(ctx context.Context) ([]model.Schedule, error)
	UpdateLastRun(ctx context.Context, id int64, lastRun time.Time) error
}

// Dispatcher owns the live cron table.
type Dispatcher struct {
	logger  zerolog.Logger
	store   scheduleStore
	sub     notify.Subscriber
	invoker Invoker

	mu   sync.Mutex
	cron *cron.Cron
}

func New(logger zerolog.Logger, store scheduleStore, sub notify.Subscriber, invoker Invoker) *Dispatcher {
	return &Dispatcher{
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		store:   store,
		sub:     sub,
		invoker: invoker,
	}
}

// Run builds the initial cron table, then blocks serving reload
// notifications until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Reload(ctx); err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- d.sub.Listen(ctx, func(ctx context.Context) {
			if err := d.Reload(ctx); err != nil {
				d.logger.Error().Err(err).Msg("schedule reload failed, keeping previous cron table")
			}
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil && ctx.Err() == nil {
			d.stop()
			return err
		}
	}

	d.stop()
	return nil
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		<-d.cron.Stop().Done()
		d.cron = nil
	}
}

// Reload re-reads the active schedules and swaps in a freshly built cron
// table. A malformed cron expression skips that one schedule; the rest of
// the table still loads. Reloading is idempotent.
func (d *Dispatcher) Reload(ctx context.Context) error {
	schedules, err := d.store.ListActive(ctx)
	if err != nil {
		return err
	}

	table := cron.New()
	registered := 0
	for _, sched := range schedules {
		sched := sched
		_, err := table.AddFunc(sched.CronExpr, func() { d.fire(sched) })
		if err != nil {
			d.logger.Error().
				Err(err).
				Int64("schedule_id", sched.ID).
				Str("cron_expr", sched.CronExpr).
				Msg("skipping schedule with malformed cron expression")
			continue
		}
		registered++
	}

	// The old table must be fully stopped before the new one starts, so a
	// tick landing mid-swap cannot fire the same schedule twice.
	d.mu.Lock()
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	d.cron = table
	table.Start()
	d.mu.Unlock()

	metrics.DispatchReloadsTotal.Inc()
	metrics.ActiveSchedules.Set(float64(registered))
	d.logger.Info().Int("schedules", registered).Msg("rebuilt cron table")
	return nil
}

// fire starts one backup run and records the fire time. The run itself
// executes on the task queue; a failure to start it is logged and the next
// tick tries again.
func (d *Dispatcher) fire(sched model.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := d.logger.With().
		Int64("schedule_id", sched.ID).
		Str("tenant_id", sched.TenantID).
		Logger()

	id := sched.ID
	err := d.invoker.InvokeBackup(ctx, task.BackupRequest{
		TenantID:      sched.TenantID,
		SourceID:      sched.SourceID,
		DestinationID: sched.DestinationID,
		ScheduleID:    &id,
		KeepN:         sched.KeepN,
	})
	if err != nil {
		metrics.BackupRunsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("failed to start backup run")
		return
	}
	metrics.BackupRunsTotal.WithLabelValues("started").Inc()
	log.Info().Msg("backup run started")

	if err := d.store.UpdateLastRun(ctx, sched.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("failed to record schedule run")
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackupRunsTotal counts scheduled backup fires by outcome.
	BackupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_runs_total",
			Help: "Total number of dispatched backup runs",
		},
		[]string{"result"},
	)

	// DispatchReloadsTotal counts cron table rebuilds.
	DispatchReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_reloads_total",
			Help: "Total number of schedule table reloads",
		},
	)

	// ArtifactsPrunedTotal counts artifacts deleted by retention.
	ArtifactsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_artifacts_pruned_total",
			Help: "Total number of artifacts deleted by retention pruning",
		},
	)

	// ActiveSchedules reports the size of the live cron table.
	ActiveSchedules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_active_schedules",
			Help: "Number of schedules currently registered in the dispatcher",
		},
	)
)

// Package workflow defines the task-queue entry points for the four backup
// operations. Each workflow is deliberately thin: one activity invocation
// with a retry policy that backs off on transient backend failures and stops
// immediately on terminal ones.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/backupd/internal/activity"
	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/task"
)

// TaskQueue is the queue every backup workflow and activity runs on.
const TaskQueue = "backupd"

func activityCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    1 * time.Minute,
			BackoffCoefficient: 2.0,
			NonRetryableErrorTypes: []string{
				activity.ErrTypeNotFound,
				activity.ErrTypeDecryption,
				activity.ErrTypeUnsupportedType,
				activity.ErrTypeMalformedName,
			},
		},
	})
}

// CreateBackupWorkflow runs one backup end to end and returns the remote
// path of the uploaded artifact. Dumps of large sources can take a while,
// hence the generous timeout.
func CreateBackupWorkflow(ctx workflow.Context, req task.BackupRequest) (string, error) {
	ctx = activityCtx(ctx, time.Hour)

	var remotePath string
	err := workflow.ExecuteActivity(ctx, "ExecuteBackup", req).Get(ctx, &remotePath)
	if err != nil {
		return "", err
	}
	return remotePath, nil
}

// ListBackupsWorkflow enumerates a tenant's artifacts at one destination.
func ListBackupsWorkflow(ctx workflow.Context, params activity.ListBackupsParams) ([]model.Artifact, error) {
	ctx = activityCtx(ctx, 5*time.Minute)

	var artifacts []model.Artifact
	err := workflow.ExecuteActivity(ctx, "ListBackups", params).Get(ctx, &artifacts)
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// DeleteBackupWorkflow removes one artifact from a destination.
func DeleteBackupWorkflow(ctx workflow.Context, params activity.DeleteBackupParams) error {
	ctx = activityCtx(ctx, 5*time.Minute)
	return workflow.ExecuteActivity(ctx, "DeleteBackup", params).Get(ctx, nil)
}

// RestoreBackupWorkflow restores a source from a stored artifact.
func RestoreBackupWorkflow(ctx workflow.Context, params activity.RestoreBackupParams) (bool, error) {
	ctx = activityCtx(ctx, time.Hour)

	var restored bool
	err := workflow.ExecuteActivity(ctx, "RestoreBackup", params).Get(ctx, &restored)
	if err != nil {
		return false, err
	}
	return restored, nil
}

package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/backupd/internal/task"
	"github.com/edvin/backupd/internal/workflow"
)

// TemporalInvoker starts backup runs as workflows on the task queue.
type TemporalInvoker struct {
	tc temporalclient.Client
}

func NewTemporalInvoker(tc temporalclient.Client) *TemporalInvoker {
	return &TemporalInvoker{tc: tc}
}

func (i *TemporalInvoker) InvokeBackup(ctx context.Context, req task.BackupRequest) error {
	workflowID := fmt.Sprintf("backup-manual-%s-%s", req.TenantID, uuid.NewString())
	if req.ScheduleID != nil {
		workflowID = fmt.Sprintf("backup-schedule-%d-%s", *req.ScheduleID, uuid.NewString())
	}

	_, err := i.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: workflow.TaskQueue,
	}, workflow.CreateBackupWorkflow, req)
	if err != nil {
		return fmt.Errorf("start CreateBackupWorkflow: %w", err)
	}
	return nil
}

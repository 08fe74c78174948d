// Package activity exposes the backup operations to the task queue. Each
// activity is a thin wrapper over the executor; the one policy decision made
// here is which failures are terminal and must not be retried.
package activity

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/task"
)

// Error types surfaced to workflows for terminal failures. Workflows name
// them in their retry policies.
const (
	ErrTypeNotFound        = "NotFound"
	ErrTypeDecryption      = "DecryptionError"
	ErrTypeUnsupportedType = "UnsupportedAdapterType"
	ErrTypeMalformedName   = "MalformedArtifactName"
)

// Backup contains the four backup operations.
type Backup struct {
	exec *task.Executor
}

func NewBackup(exec *task.Executor) *Backup {
	return &Backup{exec: exec}
}

// asTerminal converts known-permanent failures into non-retryable
// application errors. A missing row, a bad vault key, an unknown adapter tag
// or a corrupt artifact name will not get better on retry. Everything else
// (transport, backend outages) stays retryable.
func asTerminal(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, task.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeDecryption, err)
	case errors.Is(err, adapter.ErrUnsupportedType):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnsupportedType, err)
	case errors.Is(err, adapter.ErrMalformedArtifactName):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeMalformedName, err)
	default:
		return err
	}
}

// ExecuteBackup runs one backup: create, upload, prune.
func (a *Backup) ExecuteBackup(ctx context.Context, req task.BackupRequest) (string, error) {
	remotePath, err := a.exec.ExecuteBackup(ctx, req)
	return remotePath, asTerminal(err)
}

// ListBackupsParams identifies a destination listing.
type ListBackupsParams struct {
	TenantID      string `json:"tenant_id"`
	DestinationID int64  `json:"destination_id"`
}

// ListBackups enumerates a tenant's artifacts at one destination.
func (a *Backup) ListBackups(ctx context.Context, params ListBackupsParams) ([]model.Artifact, error) {
	artifacts, err := a.exec.ListBackups(ctx, params.TenantID, params.DestinationID)
	return artifacts, asTerminal(err)
}

// DeleteBackupParams identifies one artifact to remove.
type DeleteBackupParams struct {
	TenantID      string `json:"tenant_id"`
	DestinationID int64  `json:"destination_id"`
	RemotePath    string `json:"remote_path"`
}

// DeleteBackup removes one artifact from a destination.
func (a *Backup) DeleteBackup(ctx context.Context, params DeleteBackupParams) error {
	return asTerminal(a.exec.DeleteBackup(ctx, params.TenantID, params.DestinationID, params.RemotePath))
}

// RestoreBackupParams identifies an artifact and the source to restore.
type RestoreBackupParams struct {
	TenantID      string `json:"tenant_id"`
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	RemotePath    string `json:"remote_path"`
}

// RestoreBackup restores a source from a stored artifact.
func (a *Backup) RestoreBackup(ctx context.Context, params RestoreBackupParams) (bool, error) {
	ok, err := a.exec.RestoreBackup(ctx, params.TenantID, params.SourceID, params.DestinationID, params.RemotePath)
	return ok, asTerminal(err)
}

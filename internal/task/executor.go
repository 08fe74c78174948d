// Package task implements the four backup operations behind the task queue:
// execute, list, delete and restore. The executor is plain logic over the
// stores and the adapter registry; retry and scheduling policy live with the
// workflow layer.
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/model"
)

// ErrNotFound is returned when a referenced source or destination does not
// exist for the requesting tenant. Another tenant's row is indistinguishable
// from a missing one.
var ErrNotFound = errors.New("resource not found")

type sourceStore interface {
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Source, error)
	Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error)
}

type destinationStore interface {
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Destination, error)
	Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error)
}

// BackupRequest identifies one backup run. ScheduleID is nil for manual
// runs; KeepN comes from the triggering schedule and zero disables pruning.
type BackupRequest struct {
	TenantID      string `json:"tenant_id"`
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	ScheduleID    *int64 `json:"schedule_id,omitempty"`
	KeepN         int    `json:"keep_n"`
}

// Executor runs backup operations against resolved adapters.
type Executor struct {
	logger       zerolog.Logger
	sources      sourceStore
	destinations destinationStore
	registry     *adapter.Registry
}

func NewExecutor(logger zerolog.Logger, sources sourceStore, destinations destinationStore, registry *adapter.Registry) *Executor {
	return &Executor{
		logger:       logger.With().Str("component", "task-executor").Logger(),
		sources:      sources,
		destinations: destinations,
		registry:     registry,
	}
}

func notFoundErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (e *Executor) resolveSource(ctx context.Context, tenantID string, id int64) (*model.Source, adapter.Source, error) {
	src, err := e.sources.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, nil, notFoundErr(err)
	}
	creds, err := e.sources.Credentials(ctx, tenantID, id)
	if err != nil {
		return nil, nil, notFoundErr(err)
	}
	sa, err := e.registry.NewSource(src.Type, creds)
	if err != nil {
		return nil, nil, err
	}
	return src, sa, nil
}

func (e *Executor) resolveDestination(ctx context.Context, tenantID string, id int64) (*model.Destination, adapter.Destination, error) {
	dst, err := e.destinations.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, nil, notFoundErr(err)
	}
	creds, err := e.destinations.Credentials(ctx, tenantID, id)
	if err != nil {
		return nil, nil, notFoundErr(err)
	}
	da, err := e.registry.NewDestination(dst.Type, creds, dst.Config)
	if err != nil {
		return nil, nil, err
	}
	return dst, da, nil
}

// ExecuteBackup produces an artifact from the source and uploads it to the
// destination. Retention pruning runs after the upload attempt whether or
// not the upload succeeded, so a destination stuck at quota still gets
// relieved by expired artifacts. The local artifact is always removed.
func (e *Executor) ExecuteBackup(ctx context.Context, req BackupRequest) (string, error) {
	log := e.logger.With().
		Str("tenant_id", req.TenantID).
		Int64("source_id", req.SourceID).
		Int64("destination_id", req.DestinationID).
		Logger()

	src, sa, err := e.resolveSource(ctx, req.TenantID, req.SourceID)
	if err != nil {
		return "", err
	}
	_, da, err := e.resolveDestination(ctx, req.TenantID, req.DestinationID)
	if err != nil {
		return "", err
	}

	localPath, err := sa.CreateBackup(ctx, req.TenantID, req.SourceID, req.ScheduleID)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(localPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", localPath).Msg("failed to remove local artifact")
		}
	}()

	remotePath, uploadErr := da.UploadBackup(ctx, localPath)
	if uploadErr == nil {
		log.Info().Str("remote_path", remotePath).Msg("backup uploaded")
	}

	if req.KeepN > 0 {
		e.prune(ctx, log, da, req, src.Type)
	}

	if uploadErr != nil {
		return "", fmt.Errorf("upload backup: %w", uploadErr)
	}
	return remotePath, nil
}

// prune removes the oldest same-type artifacts of this tenant beyond the
// retention count. Failures are logged and skipped; pruning never fails the
// run.
func (e *Executor) prune(ctx context.Context, log zerolog.Logger, da adapter.Destination, req BackupRequest, sourceType string) {
	artifacts, err := da.ListBackups(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("retention listing failed, skipping prune")
		return
	}

	var matching []model.Artifact
	for _, a := range artifacts {
		if a.TenantID == req.TenantID && a.SourceType == sourceType {
			matching = append(matching, a)
		}
	}
	if len(matching) <= req.KeepN {
		return
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].Modified.Before(matching[j].Modified)
	})

	for _, a := range matching[:len(matching)-req.KeepN] {
		if err := da.DeleteBackup(ctx, a.Path); err != nil {
			log.Warn().Err(err).Str("path", a.Path).Msg("failed to prune artifact")
			continue
		}
		metrics.ArtifactsPrunedTotal.Inc()
		log.Info().Str("path", a.Path).Msg("pruned expired artifact")
	}
}

// ListBackups enumerates the tenant's artifacts at one destination.
func (e *Executor) ListBackups(ctx context.Context, tenantID string, destinationID int64) ([]model.Artifact, error) {
	_, da, err := e.resolveDestination(ctx, tenantID, destinationID)
	if err != nil {
		return nil, err
	}

	artifacts, err := da.ListBackups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	// A destination may be shared; only this tenant's artifacts come back.
	var own []model.Artifact
	for _, a := range artifacts {
		if a.TenantID == tenantID {
			own = append(own, a)
		}
	}
	return own, nil
}

// DeleteBackup removes one artifact from a destination.
func (e *Executor) DeleteBackup(ctx context.Context, tenantID string, destinationID int64, remotePath string) error {
	_, da, err := e.resolveDestination(ctx, tenantID, destinationID)
	if err != nil {
		return err
	}
	if err := da.DeleteBackup(ctx, remotePath); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// RestoreBackup downloads an artifact from the destination and restores the
// source from it. Returns true only when the restore completed.
func (e *Executor) RestoreBackup(ctx context.Context, tenantID string, sourceID, destinationID int64, remotePath string) (bool, error) {
	_, sa, err := e.resolveSource(ctx, tenantID, sourceID)
	if err != nil {
		return false, err
	}
	_, da, err := e.resolveDestination(ctx, tenantID, destinationID)
	if err != nil {
		return false, err
	}

	localPath, err := da.GetBackup(ctx, remotePath, "")
	if err != nil {
		return false, fmt.Errorf("download backup: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(localPath); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn().Err(rmErr).Str("path", localPath).Msg("failed to remove local artifact")
		}
	}()

	// A restore that does not complete is a reportable outcome, not a fault.
	// Resolution, decryption and download errors above still propagate.
	if err := sa.RestoreFromBackup(ctx, localPath); err != nil {
		e.logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Int64("source_id", sourceID).
			Str("remote_path", remotePath).
			Msg("restore failed")
		return false, nil
	}

	e.logger.Info().
		Str("tenant_id", tenantID).
		Int64("source_id", sourceID).
		Str("remote_path", remotePath).
		Msg("backup restored")
	return true, nil
}

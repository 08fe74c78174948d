package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/model"
)

// ---------- Stub stores ----------

type stubSourceStore struct {
	sources map[int64]*model.Source
}

func (s *stubSourceStore) GetByID(ctx context.Context, tenantID string, id int64) (*model.Source, error) {
	src, ok := s.sources[id]
	if !ok || src.TenantID != tenantID {
		return nil, fmt.Errorf("get source %d: %w", id, pgx.ErrNoRows)
	}
	return src, nil
}

func (s *stubSourceStore) Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error) {
	src, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{URL: src.URL}, nil
}

type stubDestinationStore struct {
	destinations map[int64]*model.Destination
}

func (s *stubDestinationStore) GetByID(ctx context.Context, tenantID string, id int64) (*model.Destination, error) {
	dst, ok := s.destinations[id]
	if !ok || dst.TenantID != tenantID {
		return nil, fmt.Errorf("get destination %d: %w", id, pgx.ErrNoRows)
	}
	return dst, nil
}

func (s *stubDestinationStore) Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error) {
	dst, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{URL: dst.URL}, nil
}

// ---------- Fake adapters ----------

type fakeSource struct {
	createErr  error
	restoreErr error
	restored   []string
}

func (f *fakeSource) CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	name := adapter.FormatArtifactName("postgres", tenantID, scheduleID, sourceID, time.Now().UTC(), "dump")
	path := filepath.Join(os.TempDir(), name)
	if err := os.WriteFile(path, []byte("dump"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeSource) RestoreFromBackup(ctx context.Context, localPath string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, localPath)
	return nil
}

func (f *fakeSource) TestConnection(ctx context.Context) bool { return true }

type fakeDestination struct {
	uploadErr error
	getErr    error
	uploads   []string
	deleted   []string
	artifacts []model.Artifact
}

func (f *fakeDestination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	remote := "/remote/" + filepath.Base(localPath)
	f.uploads = append(f.uploads, remote)
	return remote, nil
}

func (f *fakeDestination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeDestination) DeleteBackup(ctx context.Context, remotePath string) error {
	f.deleted = append(f.deleted, remotePath)
	return nil
}

func (f *fakeDestination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), filepath.Base(remotePath))
	}
	if err := os.WriteFile(localPath, []byte("dump"), 0o600); err != nil {
		return "", err
	}
	return localPath, nil
}

func (f *fakeDestination) TestConnection(ctx context.Context) bool { return true }

// ---------- Harness ----------

func newTestExecutor(t *testing.T, src *fakeSource, dst *fakeDestination) *Executor {
	t.Helper()

	registry := adapter.NewRegistry()
	registry.RegisterSource("postgres", func(creds model.Credentials) (adapter.Source, error) {
		return src, nil
	})
	registry.RegisterDestination("local_fs", func(creds model.Credentials, cfg map[string]string) (adapter.Destination, error) {
		return dst, nil
	})

	sources := &stubSourceStore{sources: map[int64]*model.Source{
		1: {ID: 1, TenantID: "tenant-a", Type: "postgres", URL: "postgresql://db"},
		9: {ID: 9, TenantID: "tenant-a", Type: "cassandra", URL: "cassandra://db"},
	}}
	destinations := &stubDestinationStore{destinations: map[int64]*model.Destination{
		2: {ID: 2, TenantID: "tenant-a", Type: "local_fs", URL: "/backups"},
	}}

	return NewExecutor(zerolog.Nop(), sources, destinations, registry)
}

func artifact(tenant, sourceType string, sourceID int64, path string, age time.Duration) model.Artifact {
	return model.Artifact{
		Name:       filepath.Base(path),
		Path:       path,
		Modified:   time.Now().Add(-age),
		SourceType: sourceType,
		TenantID:   tenant,
		SourceID:   sourceID,
	}
}

// ---------- ExecuteBackup ----------

func TestExecuteBackup_Success(t *testing.T) {
	src := &fakeSource{}
	dst := &fakeDestination{}
	exec := newTestExecutor(t, src, dst)

	remote, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 1, DestinationID: 2,
	})
	require.NoError(t, err)
	require.Len(t, dst.uploads, 1)
	assert.Equal(t, dst.uploads[0], remote)

	// The local artifact must be gone after the run.
	_, statErr := os.Stat(filepath.Join(os.TempDir(), filepath.Base(remote)))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteBackup_UnknownSourceIsNotFound(t *testing.T) {
	exec := newTestExecutor(t, &fakeSource{}, &fakeDestination{})

	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 777, DestinationID: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestExecuteBackup_OtherTenantIsNotFound(t *testing.T) {
	exec := newTestExecutor(t, &fakeSource{}, &fakeDestination{})

	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-b", SourceID: 1, DestinationID: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestExecuteBackup_UnsupportedSourceType(t *testing.T) {
	exec := newTestExecutor(t, &fakeSource{}, &fakeDestination{})

	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 9, DestinationID: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrUnsupportedType))
}

func TestExecuteBackup_PrunesOldestBeyondRetention(t *testing.T) {
	src := &fakeSource{}
	dst := &fakeDestination{artifacts: []model.Artifact{
		artifact("tenant-a", "postgres", 1, "/remote/old1", 72*time.Hour),
		artifact("tenant-a", "postgres", 1, "/remote/old2", 48*time.Hour),
		artifact("tenant-a", "postgres", 1, "/remote/new1", 24*time.Hour),
		artifact("tenant-a", "postgres", 1, "/remote/new2", time.Hour),
		// Retention groups by source type within the tenant, so an artifact
		// from another source of the same type is counted too.
		artifact("tenant-a", "postgres", 5, "/remote/same-type", 96*time.Hour),
		// Other tenants and other types must never be touched.
		artifact("tenant-b", "postgres", 1, "/remote/other-tenant", 120*time.Hour),
		artifact("tenant-a", "elasticsearch", 1, "/remote/other-type", 120*time.Hour),
	}}
	exec := newTestExecutor(t, src, dst)

	prunedBefore := testutil.ToFloat64(metrics.ArtifactsPrunedTotal)
	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 1, DestinationID: 2, KeepN: 2,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/remote/same-type", "/remote/old1", "/remote/old2"}, dst.deleted)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ArtifactsPrunedTotal)-prunedBefore)
}

func TestExecuteBackup_UploadFailureStillPrunes(t *testing.T) {
	src := &fakeSource{}
	dst := &fakeDestination{
		uploadErr: errors.New("bucket full"),
		artifacts: []model.Artifact{
			artifact("tenant-a", "postgres", 1, "/remote/old", 48*time.Hour),
			artifact("tenant-a", "postgres", 1, "/remote/new", time.Hour),
		},
	}
	exec := newTestExecutor(t, src, dst)

	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 1, DestinationID: 2, KeepN: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket full")
	assert.Equal(t, []string{"/remote/old"}, dst.deleted, "retention must run even when the upload fails")
}

func TestExecuteBackup_ZeroKeepNDisablesPruning(t *testing.T) {
	src := &fakeSource{}
	dst := &fakeDestination{artifacts: []model.Artifact{
		artifact("tenant-a", "postgres", 1, "/remote/old", 48*time.Hour),
	}}
	exec := newTestExecutor(t, src, dst)

	_, err := exec.ExecuteBackup(context.Background(), BackupRequest{
		TenantID: "tenant-a", SourceID: 1, DestinationID: 2, KeepN: 0,
	})
	require.NoError(t, err)
	assert.Empty(t, dst.deleted)
}

// ---------- List / Delete / Restore ----------

func TestListBackups_FiltersTenant(t *testing.T) {
	dst := &fakeDestination{artifacts: []model.Artifact{
		artifact("tenant-a", "postgres", 1, "/remote/mine", time.Hour),
		artifact("tenant-b", "postgres", 1, "/remote/theirs", time.Hour),
	}}
	exec := newTestExecutor(t, &fakeSource{}, dst)

	artifacts, err := exec.ListBackups(context.Background(), "tenant-a", 2)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "/remote/mine", artifacts[0].Path)
}

func TestDeleteBackup(t *testing.T) {
	dst := &fakeDestination{}
	exec := newTestExecutor(t, &fakeSource{}, dst)

	require.NoError(t, exec.DeleteBackup(context.Background(), "tenant-a", 2, "/remote/x"))
	assert.Equal(t, []string{"/remote/x"}, dst.deleted)
}

func TestRestoreBackup(t *testing.T) {
	src := &fakeSource{}
	exec := newTestExecutor(t, src, &fakeDestination{})

	ok, err := exec.RestoreBackup(context.Background(), "tenant-a", 1, 2, "/remote/x.dump")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, src.restored, 1)
}

func TestRestoreBackup_SourceFailureReportsFalse(t *testing.T) {
	src := &fakeSource{restoreErr: errors.New("corrupt artifact")}
	exec := newTestExecutor(t, src, &fakeDestination{})

	// A failed restore is an outcome, not an error.
	ok, err := exec.RestoreBackup(context.Background(), "tenant-a", 1, 2, "/remote/x.dump")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreBackup_DownloadFailurePropagates(t *testing.T) {
	dst := &fakeDestination{getErr: errors.New("network down")}
	exec := newTestExecutor(t, &fakeSource{}, dst)

	_, err := exec.RestoreBackup(context.Background(), "tenant-a", 1, 2, "/remote/x.dump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

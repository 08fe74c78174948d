package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/model"
)

type connSource struct {
	reachable bool
}

func (p *connSource) CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error) {
	return "", nil
}
func (p *connSource) RestoreFromBackup(ctx context.Context, localPath string) error { return nil }
func (p *connSource) TestConnection(ctx context.Context) bool                       { return p.reachable }

type connDestination struct {
	reachable bool
}

func (p *connDestination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	return "", nil
}
func (p *connDestination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	return nil, nil
}
func (p *connDestination) DeleteBackup(ctx context.Context, remotePath string) error { return nil }
func (p *connDestination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	return "", nil
}
func (p *connDestination) TestConnection(ctx context.Context) bool { return p.reachable }

func sourceRow(src model.Source) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*int64) = src.ID
		*dest[1].(*string) = src.TenantID
		*dest[2].(*string) = src.Name
		*dest[3].(*string) = src.Type
		*dest[4].(*string) = src.URL
		*dest[5].(**string) = src.Login
		*dest[6].(**string) = src.Password
		*dest[7].(**string) = src.APIKey
		*dest[8].(*time.Time) = src.CreatedAt
		*dest[9].(*time.Time) = src.UpdatedAt
		return nil
	}}
}

func destinationRow(dst model.Destination) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*int64) = dst.ID
		*dest[1].(*string) = dst.TenantID
		*dest[2].(*string) = dst.Name
		*dest[3].(*string) = dst.Type
		*dest[4].(*string) = dst.URL
		*dest[5].(**string) = dst.Login
		*dest[6].(**string) = dst.Password
		*dest[7].(**string) = dst.APIKey
		*dest[8].(*map[string]string) = dst.Config
		*dest[9].(*time.Time) = dst.CreatedAt
		*dest[10].(*time.Time) = dst.UpdatedAt
		return nil
	}}
}

func TestSourceServiceTestConnection(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(sourceRow(model.Source{
		ID: 1, TenantID: "tenant-a", Type: "postgres", URL: "postgresql://db",
	}))

	var gotURL string
	registry := adapter.NewRegistry()
	registry.RegisterSource("postgres", func(creds model.Credentials) (adapter.Source, error) {
		gotURL = creds.URL
		return &connSource{reachable: true}, nil
	})

	svc := NewSourceService(db, crypto.NewVault("secret"), registry)
	ok, err := svc.TestConnection(context.Background(), "tenant-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "postgresql://db", gotURL)
}

func TestSourceServiceTestConnectionUnknownType(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(sourceRow(model.Source{
		ID: 1, TenantID: "tenant-a", Type: "cassandra", URL: "cassandra://db",
	}))

	svc := NewSourceService(db, crypto.NewVault("secret"), adapter.NewRegistry())
	_, err := svc.TestConnection(context.Background(), "tenant-a", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrUnsupportedType))
}

func TestDestinationServiceTestConnection(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(destinationRow(model.Destination{
		ID: 2, TenantID: "tenant-a", Type: "local_fs", URL: "/backups",
	}))

	registry := adapter.NewRegistry()
	registry.RegisterDestination("local_fs", func(creds model.Credentials, cfg map[string]string) (adapter.Destination, error) {
		return &connDestination{reachable: false}, nil
	})

	svc := NewDestinationService(db, crypto.NewVault("secret"), registry)
	ok, err := svc.TestConnection(context.Background(), "tenant-a", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

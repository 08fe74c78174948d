// Package adapter defines the capability contract between the backup
// orchestration engine and the heterogeneous backends it drives. Sources
// produce a single transportable artifact and can restore from one;
// destinations durably store, enumerate, fetch and remove artifacts. The
// registry is the single polymorphism point in the system: everything
// downstream depends only on the two capability interfaces.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/model"
)

// ErrUnsupportedType is returned by the registry for an unknown type tag.
// It signals a configuration error and is never retried.
var ErrUnsupportedType = errors.New("unsupported adapter type")

// TransportError wraps an underlying backend failure from a create, upload,
// list, delete or get call. The backend detail is preserved; retry policy,
// if any, belongs to the task-queue layer.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(backend, op string, err error) error {
	return &TransportError{Backend: backend, Op: op, Err: err}
}

// Source produces and restores backup artifacts for one backing system.
type Source interface {
	// CreateBackup snapshots the source into a single local artifact file
	// and returns its path. The artifact name follows the structured
	// filename convention so destinations can attribute it on listing.
	CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error)

	// RestoreFromBackup restores the source from a local artifact. Corrupt
	// or incompatible artifacts fail with an error.
	RestoreFromBackup(ctx context.Context, localPath string) error

	// TestConnection reports whether the source is reachable.
	TestConnection(ctx context.Context) bool
}

// Destination stores artifacts at one storage backend. Uploads are atomic:
// a concurrent listing never observes a partially written final artifact.
type Destination interface {
	// UploadBackup stores a local artifact and returns its remote key.
	UploadBackup(ctx context.Context, localPath string) (string, error)

	// ListBackups enumerates all artifacts. Provisional (in-progress) names
	// are excluded; any other name that does not parse fails the listing so
	// retention never operates on misattributed artifacts.
	ListBackups(ctx context.Context) ([]model.Artifact, error)

	// DeleteBackup removes one artifact by remote key.
	DeleteBackup(ctx context.Context, remotePath string) error

	// GetBackup downloads one artifact to localPath (a generated path when
	// empty) and returns the local path.
	GetBackup(ctx context.Context, remotePath, localPath string) (string, error)

	// TestConnection reports whether the destination is reachable and usable.
	TestConnection(ctx context.Context) bool
}

// SourceConstructor builds a source adapter from decrypted credentials.
type SourceConstructor func(creds model.Credentials) (Source, error)

// DestinationConstructor builds a destination adapter from decrypted
// credentials plus the destination's free-form config.
type DestinationConstructor func(creds model.Credentials, cfg map[string]string) (Destination, error)

// Registry maps type tags to adapter constructors. Registration happens at
// startup; lookups are read-only afterwards.
type Registry struct {
	sources      map[string]SourceConstructor
	destinations map[string]DestinationConstructor
}

func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceConstructor),
		destinations: make(map[string]DestinationConstructor),
	}
}

func (r *Registry) RegisterSource(tag string, fn SourceConstructor) {
	r.sources[tag] = fn
}

func (r *Registry) RegisterDestination(tag string, fn DestinationConstructor) {
	r.destinations[tag] = fn
}

func (r *Registry) NewSource(tag string, creds model.Credentials) (Source, error) {
	fn, ok := r.sources[tag]
	if !ok {
		return nil, fmt.Errorf("%w: source %q", ErrUnsupportedType, tag)
	}
	return fn(creds)
}

func (r *Registry) NewDestination(tag string, creds model.Credentials, cfg map[string]string) (Destination, error) {
	fn, ok := r.destinations[tag]
	if !ok {
		return nil, fmt.Errorf("%w: destination %q", ErrUnsupportedType, tag)
	}
	return fn(creds, cfg)
}

// DefaultRegistry registers every built-in adapter.
func DefaultRegistry(logger zerolog.Logger) *Registry {
	r := NewRegistry()

	r.RegisterSource(model.SourceTypePostgres, func(creds model.Credentials) (Source, error) {
		return NewPostgresSource(creds, logger)
	})
	r.RegisterSource(model.SourceTypeElasticsearch, func(creds model.Credentials) (Source, error) {
		return NewElasticsearchSource(creds, logger)
	})
	r.RegisterSource(model.SourceTypeQdrant, func(creds model.Credentials) (Source, error) {
		return NewQdrantSource(creds, logger)
	})

	r.RegisterDestination(model.DestinationTypeS3, func(creds model.Credentials, cfg map[string]string) (Destination, error) {
		return NewS3Destination(creds, logger)
	})
	r.RegisterDestination(model.DestinationTypeSFTP, func(creds model.Credentials, cfg map[string]string) (Destination, error) {
		return NewSFTPDestination(creds, logger)
	})
	r.RegisterDestination(model.DestinationTypeLocalFS, func(creds model.Credentials, cfg map[string]string) (Destination, error) {
		return NewLocalFSDestination(creds, logger)
	})
	r.RegisterDestination(model.DestinationTypeWebDAV, func(creds model.Credentials, cfg map[string]string) (Destination, error) {
		return NewWebDAVDestination(creds, logger)
	})

	return r
}

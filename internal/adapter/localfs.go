package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/edvin/backupd/internal/model"
)

// LocalFSDestination stores artifacts in a directory on the worker host. The
// credential URL is the absolute directory path. Useful for NFS mounts and
// for development.
type LocalFSDestination struct {
	logger zerolog.Logger
	fs     afero.Fs
	dir    string
}

func NewLocalFSDestination(creds model.Credentials, logger zerolog.Logger) (*LocalFSDestination, error) {
	return newLocalFSWithFs(creds, logger, afero.NewOsFs())
}

func newLocalFSWithFs(creds model.Credentials, logger zerolog.Logger, fs afero.Fs) (*LocalFSDestination, error) {
	dir := strings.TrimSpace(creds.URL)
	if dir == "" {
		return nil, fmt.Errorf("local_fs destination requires a directory path")
	}
	return &LocalFSDestination{
		logger: logger.With().Str("component", "localfs-destination").Logger(),
		fs:     fs,
		dir:    filepath.Clean(dir),
	}, nil
}

// resolve joins name onto the base directory and rejects anything that would
// escape it.
func (d *LocalFSDestination) resolve(name string) (string, error) {
	full := filepath.Clean(filepath.Join(d.dir, filepath.Base(name)))
	if full != d.dir && !strings.HasPrefix(full, d.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes destination directory", name)
	}
	return full, nil
}

// UploadBackup copies into a provisional name in the same directory and
// renames it into place, so listings never see a half-written artifact.
func (d *LocalFSDestination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	if err := d.fs.MkdirAll(d.dir, 0o750); err != nil {
		return "", transportErr("local_fs", "mkdir "+d.dir, err)
	}

	finalPath, err := d.resolve(filepath.Base(localPath))
	if err != nil {
		return "", transportErr("local_fs", "upload", err)
	}
	tempPath := finalPath + provisionalSuffix

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer src.Close()

	if err := afero.WriteReader(d.fs, tempPath, src); err != nil {
		_ = d.fs.Remove(tempPath)
		return "", transportErr("local_fs", "write "+tempPath, err)
	}

	if err := d.fs.Rename(tempPath, finalPath); err != nil {
		_ = d.fs.Remove(tempPath)
		return "", transportErr("local_fs", "rename "+finalPath, err)
	}

	d.logger.Info().Str("path", finalPath).Msg("uploaded artifact")
	return finalPath, nil
}

func (d *LocalFSDestination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	entries, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, transportErr("local_fs", "list "+d.dir, err)
	}

	var artifacts []model.Artifact
	for _, entry := range entries {
		if entry.IsDir() || IsProvisional(entry.Name()) {
			continue
		}
		artifact, err := artifactFromEntry(entry.Name(), filepath.Join(d.dir, entry.Name()), entry.Size(), entry.ModTime())
		if err != nil {
			return nil, transportErr("local_fs", "list "+d.dir, err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (d *LocalFSDestination) DeleteBackup(ctx context.Context, remotePath string) error {
	full, err := d.resolve(remotePath)
	if err != nil {
		return transportErr("local_fs", "delete", err)
	}
	if err := d.fs.Remove(full); err != nil {
		return transportErr("local_fs", "delete "+full, err)
	}
	d.logger.Info().Str("path", full).Msg("deleted artifact")
	return nil
}

func (d *LocalFSDestination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	full, err := d.resolve(remotePath)
	if err != nil {
		return "", transportErr("local_fs", "get", err)
	}
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), filepath.Base(full))
	}

	data, err := afero.ReadFile(d.fs, full)
	if err != nil {
		return "", transportErr("local_fs", "get "+full, err)
	}
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write local file %s: %w", localPath, err)
	}
	return localPath, nil
}

func (d *LocalFSDestination) TestConnection(ctx context.Context) bool {
	if err := d.fs.MkdirAll(d.dir, 0o750); err != nil {
		d.logger.Warn().Err(err).Str("dir", d.dir).Msg("local_fs connection test failed")
		return false
	}
	return true
}

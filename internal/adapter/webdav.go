package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/studio-b12/gowebdav"

	"github.com/edvin/backupd/internal/model"
)

// WebDAVDestination stores artifacts on a WebDAV share (Nextcloud, ownCloud
// and plain DAV servers). The credential URL carries the endpoint including
// any base path; login and password authenticate.
type WebDAVDestination struct {
	logger zerolog.Logger
	client *gowebdav.Client
}

func NewWebDAVDestination(creds model.Credentials, logger zerolog.Logger) (*WebDAVDestination, error) {
	u, err := url.Parse(creds.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid webdav url %q", creds.URL)
	}
	return &WebDAVDestination{
		logger: logger.With().Str("component", "webdav-destination").Logger(),
		client: gowebdav.NewClient(creds.URL, creds.Login, creds.Password),
	}, nil
}

// UploadBackup streams to a provisional name and renames into place, the DAV
// MOVE making the final name appear atomically.
func (d *WebDAVDestination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	local, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer local.Close()

	finalPath := "/" + filepath.Base(localPath)
	tempPath := finalPath + provisionalSuffix

	if err := d.client.WriteStream(tempPath, local, 0o640); err != nil {
		return "", transportErr("webdav", "write "+tempPath, err)
	}

	if err := d.client.Rename(tempPath, finalPath, true); err != nil {
		_ = d.client.Remove(tempPath)
		return "", transportErr("webdav", "rename "+finalPath, err)
	}

	d.logger.Info().Str("path", finalPath).Msg("uploaded artifact")
	return finalPath, nil
}

func (d *WebDAVDestination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	entries, err := d.client.ReadDir("/")
	if err != nil {
		return nil, transportErr("webdav", "list", err)
	}

	var artifacts []model.Artifact
	for _, entry := range entries {
		if entry.IsDir() || IsProvisional(entry.Name()) {
			continue
		}
		artifact, err := artifactFromEntry(entry.Name(), "/"+entry.Name(), entry.Size(), entry.ModTime())
		if err != nil {
			return nil, transportErr("webdav", "list", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (d *WebDAVDestination) DeleteBackup(ctx context.Context, remotePath string) error {
	if err := d.client.Remove(remotePath); err != nil {
		return transportErr("webdav", "delete "+remotePath, err)
	}
	d.logger.Info().Str("path", remotePath).Msg("deleted artifact")
	return nil
}

func (d *WebDAVDestination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), path.Base(remotePath))
	}

	stream, err := d.client.ReadStream(remotePath)
	if err != nil {
		return "", transportErr("webdav", "get "+remotePath, err)
	}
	defer stream.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer local.Close()

	if _, err := io.Copy(local, stream); err != nil {
		os.Remove(localPath)
		return "", transportErr("webdav", "download "+remotePath, err)
	}
	return localPath, nil
}

func (d *WebDAVDestination) TestConnection(ctx context.Context) bool {
	if err := d.client.Connect(); err != nil {
		d.logger.Warn().Err(err).Msg("webdav connection test failed")
		return false
	}
	return true
}

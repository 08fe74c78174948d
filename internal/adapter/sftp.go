package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/edvin/backupd/internal/model"
)

// SFTPDestination stores artifacts on a remote host over SFTP. The credential
// URL selects host, port and base directory: "sftp://host[:port]/path".
// A fresh connection is dialed per operation; backup runs are infrequent and
// long idle sessions through NAT are not worth keeping alive.
type SFTPDestination struct {
	logger   zerolog.Logger
	addr     string
	baseDir  string
	login    string
	password string
}

func NewSFTPDestination(creds model.Credentials, logger zerolog.Logger) (*SFTPDestination, error) {
	u, err := url.Parse(creds.URL)
	if err != nil || u.Scheme != "sftp" || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid sftp url %q, expected sftp://host[:port]/path", creds.URL)
	}
	port := u.Port()
	if port == "" {
		port = "22"
	}
	baseDir := u.Path
	if baseDir == "" {
		baseDir = "."
	}

	return &SFTPDestination{
		logger:   logger.With().Str("component", "sftp-destination").Logger(),
		addr:     u.Hostname() + ":" + port,
		baseDir:  baseDir,
		login:    creds.Login,
		password: creds.Password,
	}, nil
}

func (d *SFTPDestination) connect() (*ssh.Client, *sftp.Client, error) {
	sshClient, err := ssh.Dial("tcp", d.addr, &ssh.ClientConfig{
		User:            d.login,
		Auth:            []ssh.AuthMethod{ssh.Password(d.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", d.addr, err)
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("open sftp session: %w", err)
	}
	return sshClient, client, nil
}

// UploadBackup writes to a provisional name and renames into place. The
// rename uses the posix-rename extension so the final name appears
// atomically on servers that support it.
func (d *SFTPDestination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	sshClient, client, err := d.connect()
	if err != nil {
		return "", transportErr("sftp", "connect", err)
	}
	defer sshClient.Close()
	defer client.Close()

	if err := client.MkdirAll(d.baseDir); err != nil {
		return "", transportErr("sftp", "mkdir "+d.baseDir, err)
	}

	local, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer local.Close()

	finalPath := path.Join(d.baseDir, filepath.Base(localPath))
	tempPath := finalPath + provisionalSuffix

	remote, err := client.Create(tempPath)
	if err != nil {
		return "", transportErr("sftp", "create "+tempPath, err)
	}
	if _, err := io.Copy(remote, local); err != nil {
		remote.Close()
		_ = client.Remove(tempPath)
		return "", transportErr("sftp", "write "+tempPath, err)
	}
	if err := remote.Close(); err != nil {
		_ = client.Remove(tempPath)
		return "", transportErr("sftp", "close "+tempPath, err)
	}

	if err := client.PosixRename(tempPath, finalPath); err != nil {
		_ = client.Remove(tempPath)
		return "", transportErr("sftp", "rename "+finalPath, err)
	}

	d.logger.Info().Str("addr", d.addr).Str("path", finalPath).Msg("uploaded artifact")
	return finalPath, nil
}

func (d *SFTPDestination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	sshClient, client, err := d.connect()
	if err != nil {
		return nil, transportErr("sftp", "connect", err)
	}
	defer sshClient.Close()
	defer client.Close()

	entries, err := client.ReadDir(d.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, transportErr("sftp", "list "+d.baseDir, err)
	}

	var artifacts []model.Artifact
	for _, entry := range entries {
		if entry.IsDir() || IsProvisional(entry.Name()) {
			continue
		}
		artifact, err := artifactFromEntry(entry.Name(), path.Join(d.baseDir, entry.Name()), entry.Size(), entry.ModTime())
		if err != nil {
			return nil, transportErr("sftp", "list "+d.baseDir, err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (d *SFTPDestination) DeleteBackup(ctx context.Context, remotePath string) error {
	sshClient, client, err := d.connect()
	if err != nil {
		return transportErr("sftp", "connect", err)
	}
	defer sshClient.Close()
	defer client.Close()

	if err := client.Remove(remotePath); err != nil {
		return transportErr("sftp", "delete "+remotePath, err)
	}
	d.logger.Info().Str("addr", d.addr).Str("path", remotePath).Msg("deleted artifact")
	return nil
}

func (d *SFTPDestination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	sshClient, client, err := d.connect()
	if err != nil {
		return "", transportErr("sftp", "connect", err)
	}
	defer sshClient.Close()
	defer client.Close()

	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), path.Base(remotePath))
	}

	remote, err := client.Open(remotePath)
	if err != nil {
		return "", transportErr("sftp", "open "+remotePath, err)
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		os.Remove(localPath)
		return "", transportErr("sftp", "download "+remotePath, err)
	}
	return localPath, nil
}

func (d *SFTPDestination) TestConnection(ctx context.Context) bool {
	sshClient, client, err := d.connect()
	if err != nil {
		d.logger.Warn().Err(err).Str("addr", d.addr).Msg("sftp connection test failed")
		return false
	}
	defer sshClient.Close()
	defer client.Close()

	if _, err := client.Getwd(); err != nil {
		d.logger.Warn().Err(err).Str("addr", d.addr).Msg("sftp connection test failed")
		return false
	}
	return true
}

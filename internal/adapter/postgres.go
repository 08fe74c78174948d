package adapter

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/model"
)

// PostgresSource snapshots and restores a PostgreSQL database by shelling
// out to pg_dump and pg_restore (custom format).
type PostgresSource struct {
	logger   zerolog.Logger
	host     string
	port     string
	user     string
	password string
	database string
}

func NewPostgresSource(creds model.Credentials, logger zerolog.Logger) (*PostgresSource, error) {
	u, err := url.Parse(creds.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	s := &PostgresSource{
		logger:   logger.With().Str("component", "postgres-source").Logger(),
		host:     u.Hostname(),
		port:     u.Port(),
		user:     creds.Login,
		password: creds.Password,
		database: strings.TrimPrefix(u.Path, "/"),
	}
	if s.host == "" {
		s.host = "localhost"
	}
	if s.port == "" {
		s.port = "5432"
	}
	if s.user == "" {
		s.user = u.User.Username()
	}
	if s.user == "" {
		s.user = "postgres"
	}
	if s.password == "" {
		if pw, ok := u.User.Password(); ok {
			s.password = pw
		}
	}
	if s.database == "" {
		s.database = "postgres"
	}

	return s, nil
}

func (s *PostgresSource) env() []string {
	env := os.Environ()
	if s.password != "" {
		env = append(env, "PGPASSWORD="+s.password)
	}
	return env
}

func (s *PostgresSource) CreateBackup(ctx context.Context, tenantID string, sourceID int64, scheduleID *int64) (string, error) {
	name := FormatArtifactName(model.SourceTypePostgres, tenantID, scheduleID, sourceID, time.Now().UTC(), "dump")
	backupPath := filepath.Join(os.TempDir(), name)

	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", s.host,
		"-p", s.port,
		"-U", s.user,
		"-F", "c",
		"-f", backupPath,
		s.database,
	)
	cmd.Env = s.env()

	s.logger.Info().Str("database", s.database).Str("path", backupPath).Msg("running pg_dump")
	if output, err := cmd.CombinedOutput(); err != nil {
		// A partial dump file may be left behind.
		os.Remove(backupPath)
		return "", transportErr("postgres", "create backup",
			fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(output))))
	}

	if _, err := os.Stat(backupPath); err != nil {
		return "", transportErr("postgres", "create backup",
			fmt.Errorf("dump file was not created: %w", err))
	}

	return backupPath, nil
}

func (s *PostgresSource) RestoreFromBackup(ctx context.Context, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return transportErr("postgres", "restore", fmt.Errorf("backup file not found: %w", err))
	}

	cmd := exec.CommandContext(ctx, "pg_restore",
		"-h", s.host,
		"-p", s.port,
		"-U", s.user,
		"-d", s.database,
		"--clean",
		"--if-exists",
		localPath,
	)
	cmd.Env = s.env()

	s.logger.Info().Str("database", s.database).Str("path", localPath).Msg("running pg_restore")
	if output, err := cmd.CombinedOutput(); err != nil {
		return transportErr("postgres", "restore",
			fmt.Errorf("pg_restore: %w: %s", err, strings.TrimSpace(string(output))))
	}

	return nil
}

func (s *PostgresSource) TestConnection(ctx context.Context) bool {
	dsn := fmt.Sprintf("postgres://%s@%s:%s/%s", url.UserPassword(s.user, s.password), s.host, s.port, s.database)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("postgres connection test failed")
		return false
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		s.logger.Warn().Err(err).Msg("postgres connection test query failed")
		return false
	}
	return true
}

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/model"
)

// SourceService manages backup source definitions. Every query is scoped by
// tenant id; a row belonging to another tenant behaves exactly like a row
// that does not exist. Passwords and API keys are encrypted before they
// touch the database.
type SourceService struct {
	db       DB
	vault    *crypto.Vault
	registry *adapter.Registry
}

func NewSourceService(db DB, vault *crypto.Vault, registry *adapter.Registry) *SourceService {
	return &SourceService{db: db, vault: vault, registry: registry}
}

func (s *SourceService) encryptSecrets(src *model.Source) error {
	var err error
	if src.Password, err = encryptOptional(s.vault, src.Password); err != nil {
		return fmt.Errorf("encrypt source password: %w", err)
	}
	if src.APIKey, err = encryptOptional(s.vault, src.APIKey); err != nil {
		return fmt.Errorf("encrypt source api key: %w", err)
	}
	return nil
}

func (s *SourceService) Create(ctx context.Context, src *model.Source) error {
	if err := s.encryptSecrets(src); err != nil {
		return err
	}

	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	err := s.db.QueryRow(ctx,
		`INSERT INTO backup_sources (tenant_id, name, type, url, login, password, api_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		src.TenantID, src.Name, src.Type, src.URL, src.Login, src.Password, src.APIKey,
		src.CreatedAt, src.UpdatedAt,
	).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *SourceService) GetByID(ctx context.Context, tenantID string, id int64) (*model.Source, error) {
	var src model.Source
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, type, url, login, password, api_key, created_at, updated_at
		 FROM backup_sources WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&src.ID, &src.TenantID, &src.Name, &src.Type, &src.URL, &src.Login,
		&src.Password, &src.APIKey, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	return &src, nil
}

func (s *SourceService) ListByTenant(ctx context.Context, tenantID string) ([]model.Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, type, url, login, password, api_key, created_at, updated_at
		 FROM backup_sources WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.ID, &src.TenantID, &src.Name, &src.Type, &src.URL, &src.Login,
			&src.Password, &src.APIKey, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

func (s *SourceService) Update(ctx context.Context, src *model.Source) error {
	if err := s.encryptSecrets(src); err != nil {
		return err
	}
	src.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx,
		`UPDATE backup_sources
		 SET name = $1, type = $2, url = $3, login = $4, password = $5, api_key = $6, updated_at = $7
		 WHERE id = $8 AND tenant_id = $9`,
		src.Name, src.Type, src.URL, src.Login, src.Password, src.APIKey,
		src.UpdatedAt, src.ID, src.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update source %d: %w", src.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update source %d: %w", src.ID, errNoRows)
	}
	return nil
}

func (s *SourceService) Delete(ctx context.Context, tenantID string, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_sources WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete source %d: %w", id, errNoRows)
	}
	return nil
}

// Credentials returns the decrypted connection settings of one source.
func (s *SourceService) Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error) {
	src, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return model.Credentials{}, err
	}
	return decryptCredentials(s.vault, src.URL, src.Login, src.Password, src.APIKey)
}

// TestConnection checks that one source is reachable with its stored
// credentials.
func (s *SourceService) TestConnection(ctx context.Context, tenantID string, id int64) (bool, error) {
	src, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	creds, err := decryptCredentials(s.vault, src.URL, src.Login, src.Password, src.APIKey)
	if err != nil {
		return false, err
	}
	sa, err := s.registry.NewSource(src.Type, creds)
	if err != nil {
		return false, err
	}
	return sa.TestConnection(ctx), nil
}

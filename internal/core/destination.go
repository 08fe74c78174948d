package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/model"
)

// DestinationService manages backup destination definitions, tenant-scoped
// and with secrets encrypted at rest like SourceService.
type DestinationService struct {
	db       DB
	vault    *crypto.Vault
	registry *adapter.Registry
}

func NewDestinationService(db DB, vault *crypto.Vault, registry *adapter.Registry) *DestinationService {
	return &DestinationService{db: db, vault: vault, registry: registry}
}

func (s *DestinationService) encryptSecrets(dst *model.Destination) error {
	var err error
	if dst.Password, err = encryptOptional(s.vault, dst.Password); err != nil {
		return fmt.Errorf("encrypt destination password: %w", err)
	}
	if dst.APIKey, err = encryptOptional(s.vault, dst.APIKey); err != nil {
		return fmt.Errorf("encrypt destination api key: %w", err)
	}
	return nil
}

func (s *DestinationService) Create(ctx context.Context, dst *model.Destination) error {
	if err := s.encryptSecrets(dst); err != nil {
		return err
	}

	now := time.Now().UTC()
	dst.CreatedAt = now
	dst.UpdatedAt = now

	err := s.db.QueryRow(ctx,
		`INSERT INTO backup_destinations (tenant_id, name, type, url, login, password, api_key, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		dst.TenantID, dst.Name, dst.Type, dst.URL, dst.Login, dst.Password, dst.APIKey,
		dst.Config, dst.CreatedAt, dst.UpdatedAt,
	).Scan(&dst.ID)
	if err != nil {
		return fmt.Errorf("insert destination: %w", err)
	}
	return nil
}

func (s *DestinationService) GetByID(ctx context.Context, tenantID string, id int64) (*model.Destination, error) {
	var dst model.Destination
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, type, url, login, password, api_key, config, created_at, updated_at
		 FROM backup_destinations WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&dst.ID, &dst.TenantID, &dst.Name, &dst.Type, &dst.URL, &dst.Login,
		&dst.Password, &dst.APIKey, &dst.Config, &dst.CreatedAt, &dst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get destination %d: %w", id, err)
	}
	return &dst, nil
}

func (s *DestinationService) ListByTenant(ctx context.Context, tenantID string) ([]model.Destination, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, type, url, login, password, api_key, config, created_at, updated_at
		 FROM backup_destinations WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var destinations []model.Destination
	for rows.Next() {
		var dst model.Destination
		if err := rows.Scan(&dst.ID, &dst.TenantID, &dst.Name, &dst.Type, &dst.URL, &dst.Login,
			&dst.Password, &dst.APIKey, &dst.Config, &dst.CreatedAt, &dst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		destinations = append(destinations, dst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate destinations: %w", err)
	}
	return destinations, nil
}

func (s *DestinationService) Update(ctx context.Context, dst *model.Destination) error {
	if err := s.encryptSecrets(dst); err != nil {
		return err
	}
	dst.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx,
		`UPDATE backup_destinations
		 SET name = $1, type = $2, url = $3, login = $4, password = $5, api_key = $6, config = $7, updated_at = $8
		 WHERE id = $9 AND tenant_id = $10`,
		dst.Name, dst.Type, dst.URL, dst.Login, dst.Password, dst.APIKey, dst.Config,
		dst.UpdatedAt, dst.ID, dst.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update destination %d: %w", dst.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update destination %d: %w", dst.ID, errNoRows)
	}
	return nil
}

func (s *DestinationService) Delete(ctx context.Context, tenantID string, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_destinations WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete destination %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete destination %d: %w", id, errNoRows)
	}
	return nil
}

// Credentials returns the decrypted connection settings of one destination.
func (s *DestinationService) Credentials(ctx context.Context, tenantID string, id int64) (model.Credentials, error) {
	dst, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return model.Credentials{}, err
	}
	return decryptCredentials(s.vault, dst.URL, dst.Login, dst.Password, dst.APIKey)
}

// TestConnection checks that one destination is reachable with its stored
// credentials.
func (s *DestinationService) TestConnection(ctx context.Context, tenantID string, id int64) (bool, error) {
	dst, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	creds, err := decryptCredentials(s.vault, dst.URL, dst.Login, dst.Password, dst.APIKey)
	if err != nil {
		return false, err
	}
	da, err := s.registry.NewDestination(dst.Type, creds, dst.Config)
	if err != nil {
		return false, err
	}
	return da.TestConnection(ctx), nil
}

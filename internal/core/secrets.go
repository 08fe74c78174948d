package core

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/model"
)

// errNoRows is returned when a tenant-scoped mutation matched nothing, so
// callers can treat "wrong tenant" and "no such row" identically.
var errNoRows = pgx.ErrNoRows

func encryptOptional(vault *crypto.Vault, value *string) (*string, error) {
	if value == nil || *value == "" {
		return value, nil
	}
	enc, err := vault.EncryptString(*value)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func decryptOptional(vault *crypto.Vault, value *string) (string, error) {
	if value == nil || *value == "" {
		return "", nil
	}
	return vault.DecryptString(*value)
}

// decryptCredentials assembles the transient credential set for an adapter
// constructor. Login and URL are stored in the clear; password and API key
// are decrypted here and nowhere else.
func decryptCredentials(vault *crypto.Vault, url string, login, password, apiKey *string) (model.Credentials, error) {
	creds := model.Credentials{URL: url}
	if login != nil {
		creds.Login = *login
	}

	var err error
	if creds.Password, err = decryptOptional(vault, password); err != nil {
		return model.Credentials{}, fmt.Errorf("decrypt password: %w", err)
	}
	if creds.APIKey, err = decryptOptional(vault, apiKey); err != nil {
		return model.Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	return creds, nil
}

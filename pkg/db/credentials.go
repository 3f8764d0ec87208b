package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/exchanges/common"
)

// CredentialStore keeps exchange key pairs sealed at rest.
type CredentialStore struct {
	d      *Database
	sealer *crypto.Sealer
}

// Credentials returns a credential store sealing with sealer.
func (d *Database) Credentials(sealer *crypto.Sealer) *CredentialStore {
	return &CredentialStore{d: d, sealer: sealer}
}

// Save seals and upserts the key pair of userID.
func (s *CredentialStore) Save(ctx context.Context, userID string, creds common.Credentials) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	access, err := s.sealer.Seal(creds.AccessKey)
	if err != nil {
		return fmt.Errorf("seal access key: %w", err)
	}
	secret, err := s.sealer.Seal(creds.SecretKey)
	if err != nil {
		return fmt.Errorf("seal secret key: %w", err)
	}
	_, err = s.d.DB.ExecContext(ctx, `
		INSERT INTO credentials (user_id, access_key, secret_key, key_version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_key = excluded.access_key,
			secret_key = excluded.secret_key,
			key_version = excluded.key_version,
			updated_at = excluded.updated_at
	`, userID, access, secret, s.sealer.Version(), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Get returns the opened key pair of userID or ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, userID string) (common.Credentials, error) {
	if userID == "" {
		return common.Credentials{}, ErrUserIDRequired
	}
	var access, secret string
	err := s.d.DB.QueryRowContext(ctx, `SELECT access_key, secret_key FROM credentials WHERE user_id = ?`, userID).
		Scan(&access, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Credentials{}, ErrNotFound
	}
	if err != nil {
		return common.Credentials{}, fmt.Errorf("get credentials: %w", err)
	}
	var creds common.Credentials
	if creds.AccessKey, err = s.sealer.Open(access); err != nil {
		return common.Credentials{}, fmt.Errorf("open access key: %w", err)
	}
	if creds.SecretKey, err = s.sealer.Open(secret); err != nil {
		return common.Credentials{}, fmt.Errorf("open secret key: %w", err)
	}
	return creds, nil
}

// Delete removes the key pair of userID.
func (s *CredentialStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if _, err := s.d.DB.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

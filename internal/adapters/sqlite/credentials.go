package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const credentialColumns = `org_id, collector_id, access_token_ciphertext, access_token_nonce,
	refresh_token_ciphertext, refresh_token_nonce, scope, public_key, live_mode, expires_at, updated_at`

// GetCredential returns the Mercado Pago connection of an organization.
func (s *Store) GetCredential(ctx context.Context, orgID string) (*domain.ProviderCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM mp_credentials WHERE org_id = ?`
	cred, err := scanCredential(s.reader(ctx).QueryRowContext(ctx, query, orgID))
	if err != nil {
		return nil, fmt.Errorf("get credential for org %q: %w", orgID, err)
	}
	return cred, nil
}

// GetCredentialByCollector returns the credential whose seller account is collectorID.
func (s *Store) GetCredentialByCollector(ctx context.Context, collectorID string) (*domain.ProviderCredential, error) {
	if collectorID == "" {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + credentialColumns + ` FROM mp_credentials WHERE collector_id = ? ORDER BY updated_at DESC LIMIT 1`
	cred, err := scanCredential(s.reader(ctx).QueryRowContext(ctx, query, collectorID))
	if err != nil {
		return nil, fmt.Errorf("get credential for collector %q: %w", collectorID, err)
	}
	return cred, nil
}

// UpsertCredential inserts or replaces the single credential row of an organization.
func (s *Store) UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error {
	var refreshCipher, refreshNonce any
	if cred.RefreshToken != nil {
		refreshCipher, refreshNonce = cred.RefreshToken.Ciphertext, cred.RefreshToken.Nonce
	}

	const query = `INSERT INTO mp_credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id) DO UPDATE SET
			collector_id = excluded.collector_id,
			access_token_ciphertext = excluded.access_token_ciphertext,
			access_token_nonce = excluded.access_token_nonce,
			refresh_token_ciphertext = excluded.refresh_token_ciphertext,
			refresh_token_nonce = excluded.refresh_token_nonce,
			scope = excluded.scope,
			public_key = excluded.public_key,
			live_mode = excluded.live_mode,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	_, err := s.writer(ctx).ExecContext(ctx, query,
		cred.OrgID, cred.CollectorID, cred.AccessToken.Ciphertext, cred.AccessToken.Nonce,
		refreshCipher, refreshNonce, cred.Scope, cred.PublicKey, boolInt(cred.LiveMode),
		formatNullTime(cred.ExpiresAt), formatTime(cred.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert credential for org %q: %w", cred.OrgID, err)
	}
	return nil
}

// DeleteCredential removes the credential of an organization. Deleting a
// missing row returns domain.ErrNotFound.
func (s *Store) DeleteCredential(ctx context.Context, orgID string) error {
	res, err := s.writer(ctx).ExecContext(ctx, `DELETE FROM mp_credentials WHERE org_id = ?`, orgID)
	if err != nil {
		return fmt.Errorf("delete credential for org %q: %w", orgID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCredential(row *sql.Row) (*domain.ProviderCredential, error) {
	var (
		cred                        domain.ProviderCredential
		refreshCipher, refreshNonce []byte
		liveMode                    int
		expiresAt                   sql.NullString
		updatedAt                   string
	)
	err := row.Scan(&cred.OrgID, &cred.CollectorID, &cred.AccessToken.Ciphertext, &cred.AccessToken.Nonce,
		&refreshCipher, &refreshNonce, &cred.Scope, &cred.PublicKey, &liveMode, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(refreshCipher) > 0 {
		cred.RefreshToken = &domain.EncryptedSecret{Ciphertext: refreshCipher, Nonce: refreshNonce}
	}
	cred.LiveMode = liveMode == 1
	if cred.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &cred, nil
}

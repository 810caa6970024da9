package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// CreateLink persists a booking link. Only the token hash is stored.
func (s *Store) CreateLink(ctx context.Context, link *domain.PaymentLink) error {
	metadata, err := encodeMetadata(link.Metadata)
	if err != nil {
		return err
	}

	const query = `INSERT INTO payment_links
		(id, org_id, salon_id, token_hash, title, description, metadata, expires_at, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.writer(ctx).ExecContext(ctx, query,
		link.ID, link.OrgID, link.SalonID, link.TokenHash, link.Title, link.Description,
		metadata, formatTime(link.ExpiresAt), boolInt(link.Active), formatTime(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("create payment link: %w", err)
	}
	return nil
}

// GetLinkByTokenHash looks a link up by the SHA-256 of its token.
func (s *Store) GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.PaymentLink, error) {
	const query = `SELECT id, org_id, salon_id, token_hash, title, description, metadata, expires_at, active, created_at
		FROM payment_links WHERE token_hash = ?`

	var (
		link                 domain.PaymentLink
		metadata             string
		expiresAt, createdAt string
		active               int
	)
	err := s.reader(ctx).QueryRowContext(ctx, query, tokenHash).Scan(
		&link.ID, &link.OrgID, &link.SalonID, &link.TokenHash, &link.Title, &link.Description,
		&metadata, &expiresAt, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment link: %w", err)
	}

	link.Active = active == 1
	if link.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if link.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &link, nil
}

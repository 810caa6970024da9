package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// GetOrganization reads an organization row.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.reader(ctx).QueryRowContext(ctx,
		`SELECT id, name, slug FROM organizations WHERE id = ?`, orgID).
		Scan(&org.ID, &org.Name, &org.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %q: %w", orgID, err)
	}
	return &org, nil
}

// GetSalon reads a salon row.
func (s *Store) GetSalon(ctx context.Context, salonID string) (*domain.Salon, error) {
	var salon domain.Salon
	err := s.reader(ctx).QueryRowContext(ctx,
		`SELECT id, org_id, name, address, phone FROM salons WHERE id = ?`, salonID).
		Scan(&salon.ID, &salon.OrgID, &salon.Name, &salon.Address, &salon.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get salon %q: %w", salonID, err)
	}
	return &salon, nil
}

// GetService reads a salon service row.
func (s *Store) GetService(ctx context.Context, serviceID string) (*domain.SalonService, error) {
	var (
		svc   domain.SalonService
		price string
	)
	err := s.reader(ctx).QueryRowContext(ctx,
		`SELECT id, org_id, salon_id, name, price, currency, duration_minutes FROM salon_services WHERE id = ?`, serviceID).
		Scan(&svc.ID, &svc.OrgID, &svc.SalonID, &svc.Name, &price, &svc.Currency, &svc.DurationMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service %q: %w", serviceID, err)
	}
	if svc.Price, err = parseDecimal(price); err != nil {
		return nil, fmt.Errorf("parse service price: %w", err)
	}
	return &svc, nil
}

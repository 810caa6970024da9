package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

const (
	// DefaultLinkTTL applies when a link is issued without an explicit expiry.
	DefaultLinkTTL = 30 * 24 * time.Hour

	linkTokenBytes = 32
)

// IssueLinkInput describes a booking link to issue.
type IssueLinkInput struct {
	OrgID       string         `json:"org_id"`
	SalonID     string         `json:"salon_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

// IssuedLink is returned once; the raw token is not recoverable afterwards.
type IssuedLink struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkConfig is the public view of a valid link.
type LinkConfig struct {
	SalonID      string               `json:"salon_id"`
	Title        string               `json:"title"`
	Description  string               `json:"description,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
	ExpiresAt    time.Time            `json:"expires_at"`
	Salon        *domain.Salon        `json:"salon"`
	Organization *domain.Organization `json:"organization"`
}

// LinkIssuer issues and validates anonymous booking links.
type LinkIssuer struct {
	links       ports.LinkStore
	directory   ports.DirectoryStore
	frontendURL string
	defaultTTL  time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewLinkIssuer creates a link issuer that builds URLs under frontendURL.
func NewLinkIssuer(
	links ports.LinkStore,
	directory ports.DirectoryStore,
	frontendURL string,
	defaultTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LinkIssuer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultLinkTTL
	}
	return &LinkIssuer{
		links:       links,
		directory:   directory,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		defaultTTL:  defaultTTL,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// HashToken returns the hex SHA-256 of a raw link token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newLinkToken() (string, error) {
	b := make([]byte, linkTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a link for a salon of in.OrgID.
func (l *LinkIssuer) Issue(ctx context.Context, in IssueLinkInput) (*IssuedLink, error) {
	if in.OrgID == "" || in.SalonID == "" {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest, "org_id and salon_id are required", "VALIDATION_ERROR")
	}

	salon, err := l.directory.GetSalon(ctx, in.SalonID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && salon.OrgID != in.OrgID) {
		return nil, domain.NewServiceError(domain.ErrNotFound, "salon "+in.SalonID, "SALON_NOT_FOUND")
	}
	if err != nil {
		return nil, fmt.Errorf("load salon: %w", err)
	}

	now := l.now().UTC()
	expiresAt := now.Add(l.defaultTTL)
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, domain.NewServiceError(domain.ErrInvalidRequest, "expires_at must be in the future", "VALIDATION_ERROR")
		}
		expiresAt = in.ExpiresAt.UTC()
	}

	token, err := newLinkToken()
	if err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = salon.Name
	}
	link := &domain.PaymentLink{
		ID:          uuid.NewString(),
		OrgID:       in.OrgID,
		SalonID:     in.SalonID,
		TokenHash:   HashToken(token),
		Title:       title,
		Description: in.Description,
		Metadata:    in.Metadata,
		ExpiresAt:   expiresAt,
		Active:      true,
		CreatedAt:   now,
	}
	if err := l.links.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("store link: %w", err)
	}

	l.metrics.LinksIssued.Inc()
	l.logger.Info("booking link issued",
		zap.String("link_id", link.ID),
		zap.String("org_id", link.OrgID),
		zap.String("salon_id", link.SalonID),
		zap.Time("expires_at", expiresAt))

	return &IssuedLink{
		ID:        link.ID,
		Token:     token,
		URL:       l.frontendURL + "/booking/" + url.PathEscape(in.SalonID) + "?token=" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate resolves a raw token for salonID. Unknown, inactive or foreign
// links return ErrLinkNotFound; stale ones ErrLinkExpired.
func (l *LinkIssuer) Validate(ctx context.Context, token, salonID string) (*domain.PaymentLink, error) {
	if token == "" || salonID == "" {
		return nil, domain.ErrLinkNotFound
	}

	link, err := l.links.GetLinkByTokenHash(ctx, HashToken(token))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	switch {
	case !link.Active:
		l.logger.Debug("booking link rejected", zap.String("link_id", link.ID), zap.String("reason", "inactive"))
		return nil, domain.ErrLinkNotFound
	case link.SalonID != salonID:
		l.logger.Debug("booking link rejected", zap.String("link_id", link.ID), zap.String("reason", "salon_mismatch"))
		return nil, domain.ErrLinkNotFound
	case !l.now().Before(link.ExpiresAt):
		l.logger.Debug("booking link rejected", zap.String("link_id", link.ID), zap.String("reason", "expired"))
		return nil, domain.ErrLinkExpired
	}
	return link, nil
}

// Describe validates the token and returns what the public booking page renders.
func (l *LinkIssuer) Describe(ctx context.Context, token, salonID string) (*LinkConfig, error) {
	link, err := l.Validate(ctx, token, salonID)
	if err != nil {
		return nil, err
	}

	salon, err := l.directory.GetSalon(ctx, link.SalonID)
	if err != nil {
		return nil, fmt.Errorf("load salon: %w", err)
	}
	org, err := l.directory.GetOrganization(ctx, link.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}

	return &LinkConfig{
		SalonID:      link.SalonID,
		Title:        link.Title,
		Description:  link.Description,
		Metadata:     link.Metadata,
		ExpiresAt:    link.ExpiresAt,
		Salon:        salon,
		Organization: org,
	}, nil
}

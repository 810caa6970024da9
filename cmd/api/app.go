package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/config"
	"github.com/turnosalon/salon-payments/internal/adapters/bookingcore"
	"github.com/turnosalon/salon-payments/internal/adapters/mercadopago"
	"github.com/turnosalon/salon-payments/internal/adapters/postgres"
	"github.com/turnosalon/salon-payments/internal/adapters/sqlite"
	"github.com/turnosalon/salon-payments/internal/auth"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/core/service"
	"github.com/turnosalon/salon-payments/internal/metrics"
	"github.com/turnosalon/salon-payments/internal/vault"
)

// app holds the wired service graph.
type app struct {
	cfg           *config.Config
	log           *zap.Logger
	store         ports.Store
	metrics       *metrics.Metrics
	authenticator *auth.Authenticator
	tokens        *service.TokenManager
	links         *service.LinkIssuer
	intents       *service.IntentCreator
	booking       *service.BookingGateway
	dispatcher    *service.WebhookDispatcher
	orphans       *service.OrphanSweeper
	verifier      *mercadopago.WebhookValidator
}

// openStore opens the configured backend and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (ports.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := postgres.RunMigrations(pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return store, nil
	}
}

// newApp wires dependencies (manual dependency injection).
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	// Infrastructure Layer
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.Security.VaultKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gateway, err := mercadopago.NewAdapter(mercadopago.AdapterConfig{
		BaseURL: cfg.MercadoPago.APIBaseURL,
		Timeout: cfg.MercadoPago.HTTPTimeout,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	oauth := mercadopago.NewOAuthClient(mercadopago.OAuthConfig{
		ClientID:     cfg.MercadoPago.ClientID,
		ClientSecret: cfg.MercadoPago.ClientSecret,
		RedirectURI:  cfg.MercadoPago.RedirectURI,
		APIBaseURL:   cfg.MercadoPago.APIBaseURL,
		AuthBaseURL:  cfg.MercadoPago.AuthBaseURL,
		Timeout:      cfg.MercadoPago.HTTPTimeout,
	}, log)

	var (
		slots    ports.SlotSource
		notifier ports.ConfirmationNotifier
	)
	if cfg.Core.BaseURL != "" {
		core := bookingcore.NewClient(cfg.Core.BaseURL, cfg.Core.APIKey, cfg.MercadoPago.HTTPTimeout)
		slots, notifier = core, core
	} else {
		loc, err := time.LoadLocation(cfg.Booking.Timezone)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		grid := service.DefaultSlotGrid
		grid.Location = loc
		slots = service.NewStoreSlotSource(store, store, grid)
	}

	m := metrics.New()
	authenticator := auth.NewAuthenticator(cfg.Security.JWTSecret)

	// Service Layer
	tokens := service.NewTokenManager(store, v, oauth, authenticator, m, log)
	links := service.NewLinkIssuer(store, store, cfg.Booking.FrontendBaseURL, cfg.Booking.LinkDefaultTTL, m, log)
	intents := service.NewIntentCreator(store, store, tokens, gateway, service.IntentConfig{
		PublicBaseURL:   cfg.Booking.PublicBaseURL,
		FrontendBaseURL: cfg.Booking.FrontendBaseURL,
		DefaultCurrency: cfg.Booking.DefaultCurrency,
	}, m, log)
	booking := service.NewBookingGateway(links, store, store, slots, intents, m, log)
	reconciler := service.NewReconciler(store, tokens, gateway, notifier, m, log)
	dispatcher := service.NewWebhookDispatcher(store, reconciler, service.DispatcherConfig{
		Workers:    cfg.Webhooks.Workers,
		QueueSize:  cfg.Webhooks.QueueSize,
		JobTimeout: cfg.Webhooks.JobTimeout,
	}, m, log)

	return &app{
		cfg:           cfg,
		log:           log,
		store:         store,
		metrics:       m,
		authenticator: authenticator,
		tokens:        tokens,
		links:         links,
		intents:       intents,
		booking:       booking,
		dispatcher:    dispatcher,
		orphans:       service.NewOrphanSweeper(store, log),
		verifier:      mercadopago.NewWebhookValidator(mercadopago.ParseSignatureScheme(cfg.Webhooks.SignatureScheme)),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// memStore is an in-memory ports.Store for service tests. Transactions
// snapshot the maps and restore them when fn fails.
type memStore struct {
	mu sync.Mutex

	orgs         map[string]domain.Organization
	salons       map[string]domain.Salon
	services     map[string]domain.SalonService
	creds        map[string]domain.ProviderCredential
	links        map[string]domain.PaymentLink
	appointments map[string]domain.Appointment
	payments     map[string]domain.PaymentRecord
	ledger       map[string]domain.LedgerEntry
	events       map[string]domain.WebhookEvent

	credReads    int
	credUpserts  int
	failConfirm  error
	failDeleteAp error
}

func newMemStore() *memStore {
	return &memStore{
		orgs:         map[string]domain.Organization{},
		salons:       map[string]domain.Salon{},
		services:     map[string]domain.SalonService{},
		creds:        map[string]domain.ProviderCredential{},
		links:        map[string]domain.PaymentLink{},
		appointments: map[string]domain.Appointment{},
		payments:     map[string]domain.PaymentRecord{},
		ledger:       map[string]domain.LedgerEntry{},
		events:       map[string]domain.WebhookEvent{},
	}
}

// seedDirectory mirrors the sqlite fixtures: O1 owns S1 and S2, O2 owns S9.
func (m *memStore) seedDirectory() {
	m.orgs["O1"] = domain.Organization{ID: "O1", Name: "Estudio Uno", Slug: "estudio-uno"}
	m.orgs["O2"] = domain.Organization{ID: "O2", Name: "Otra Org", Slug: "otra-org"}
	m.salons["S1"] = domain.Salon{ID: "S1", OrgID: "O1", Name: "Centro"}
	m.salons["S2"] = domain.Salon{ID: "S2", OrgID: "O1", Name: "Norte"}
	m.salons["S9"] = domain.Salon{ID: "S9", OrgID: "O2", Name: "Ajeno"}
	m.services["SV1"] = domain.SalonService{ID: "SV1", OrgID: "O1", SalonID: "S1", Name: "Corte",
		Price: decimal.RequireFromString("1000.00"), Currency: "ARS", DurationMinutes: 60}
	m.services["SV2"] = domain.SalonService{ID: "SV2", OrgID: "O1", SalonID: "S2", Name: "Color",
		Price: decimal.RequireFromString("2500.50"), Currency: "ARS", DurationMinutes: 90}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	appts, payments, ledger := copyMap(m.appointments), copyMap(m.payments), copyMap(m.ledger)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.appointments, m.payments, m.ledger = appts, payments, ledger
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) GetCredential(_ context.Context, orgID string) (*domain.ProviderCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credReads++
	c, ok := m.creds[orgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) GetCredentialByCollector(_ context.Context, collectorID string) (*domain.ProviderCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.CollectorID == collectorID {
			c := c
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) UpsertCredential(_ context.Context, cred *domain.ProviderCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credUpserts++
	m.creds[cred.OrgID] = *cred
	return nil
}

func (m *memStore) DeleteCredential(_ context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[orgID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.creds, orgID)
	return nil
}

func (m *memStore) CreateLink(_ context.Context, link *domain.PaymentLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.TokenHash] = *link
	return nil
}

func (m *memStore) GetLinkByTokenHash(_ context.Context, tokenHash string) (*domain.PaymentLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[tokenHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

func (m *memStore) GetOrganization(_ context.Context, orgID string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *memStore) GetSalon(_ context.Context, salonID string) (*domain.Salon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.salons[salonID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) GetService(_ context.Context, serviceID string) (*domain.SalonService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[serviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) CreateAppointment(_ context.Context, appt *domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *memStore) GetAppointment(_ context.Context, id string) (*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) DeleteAppointment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteAp != nil {
		return m.failDeleteAp
	}
	if _, ok := m.appointments[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *memStore) ConfirmAppointment(_ context.Context, id string, collected decimal.Decimal, method string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConfirm != nil {
		return false, m.failConfirm
	}
	a, ok := m.appointments[id]
	if !ok || a.Status != domain.AppointmentPending {
		return false, nil
	}
	a.Status = domain.AppointmentConfirmed
	a.TotalCollected = collected
	a.PaymentMethod = method
	m.appointments[id] = a
	return true, nil
}

func (m *memStore) ListActiveStarts(_ context.Context, salonID string, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, a := range m.appointments {
		if a.SalonID == salonID && a.Status != domain.AppointmentCancelled &&
			!a.StartsAt.Before(from) && a.StartsAt.Before(to) {
			out = append(out, a.StartsAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memStore) ListOrphanedPending(_ context.Context, cutoff time.Time, limit int) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Appointment
	for _, a := range m.appointments {
		if a.Status != domain.AppointmentPending || !a.CreatedAt.Before(cutoff) {
			continue
		}
		hasPayment := false
		for _, p := range m.payments {
			if p.AppointmentID == a.ID {
				hasPayment = true
				break
			}
		}
		if !hasPayment {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreatePendingPayment(_ context.Context, rec *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PreferenceID != "" && p.PreferenceID == rec.PreferenceID {
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.payments[rec.ID] = *rec
	return nil
}

func (m *memStore) GetPaymentByProviderID(_ context.Context, providerPaymentID string) (*domain.PaymentRecord, error) {
	return m.findPayment(func(p domain.PaymentRecord) bool {
		return providerPaymentID != "" && p.ProviderPaymentID == providerPaymentID
	})
}

func (m *memStore) GetPaymentByPreference(_ context.Context, preferenceID string) (*domain.PaymentRecord, error) {
	return m.findPayment(func(p domain.PaymentRecord) bool {
		return preferenceID != "" && p.PreferenceID == preferenceID
	})
}

func (m *memStore) findPayment(match func(domain.PaymentRecord) bool) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if match(p) {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) UpsertProviderPayment(_ context.Context, rec *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	apply := func(p domain.PaymentRecord) domain.PaymentRecord {
		p.ProviderPaymentID = rec.ProviderPaymentID
		p.Status = rec.Status
		p.StatusDetail = rec.StatusDetail
		p.Amount = rec.Amount
		p.Currency = rec.Currency
		p.PaymentMethod = rec.PaymentMethod
		p.RawProviderPayload = rec.RawProviderPayload
		p.UpdatedAt = time.Now()
		return p
	}
	for id, p := range m.payments {
		if p.ProviderPaymentID == rec.ProviderPaymentID {
			m.payments[id] = apply(p)
			return nil
		}
	}
	for id, p := range m.payments {
		if p.ProviderPaymentID == "" && p.AppointmentID == rec.AppointmentID && p.OrgID == rec.OrgID {
			m.payments[id] = apply(p)
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.payments[rec.ID] = apply(*rec)
	return nil
}

func (m *memStore) InsertLedgerEntry(_ context.Context, entry *domain.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledger[entry.ProviderPaymentID]; ok {
		return false, nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.ledger[entry.ProviderPaymentID] = *entry
	return true, nil
}

func (m *memStore) InsertWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = *ev
	return nil
}

func (m *memStore) GetWebhookEvent(_ context.Context, id string) (*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ev, nil
}

func (m *memStore) FinishWebhookEvent(_ context.Context, id string, status domain.WebhookEventStatus, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	ev.Status = status
	ev.LastError = lastErr
	ev.Attempts++
	ev.ProcessedAt = &now
	m.events[id] = ev
	return nil
}

func (m *memStore) ListRetryableWebhookEvents(_ context.Context, receivedBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookEvent
	for _, ev := range m.events {
		if (ev.Status == domain.WebhookReceived || ev.Status == domain.WebhookFailed) && ev.ReceivedAt.Before(receivedBefore) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) appointment(id string) domain.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id]
}

func (m *memStore) ledgerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

func (m *memStore) event(id string) domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

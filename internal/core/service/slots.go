package service

import (
	"context"
	"fmt"
	"time"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
)

// SlotGrid describes the opening hours a StoreSlotSource lays candidates on.
type SlotGrid struct {
	OpenHour  int
	CloseHour int
	Location  *time.Location
}

// DefaultSlotGrid is used when the booking core does not supply availability.
var DefaultSlotGrid = SlotGrid{OpenHour: 9, CloseHour: 20, Location: time.UTC}

// StoreSlotSource derives availability from the appointments table: every
// grid step that already has a non-cancelled appointment starting on it is
// unavailable.
type StoreSlotSource struct {
	directory    ports.DirectoryStore
	appointments ports.AppointmentStore
	grid         SlotGrid
	now          func() time.Time
}

// NewStoreSlotSource creates a slot source backed by the store.
func NewStoreSlotSource(directory ports.DirectoryStore, appointments ports.AppointmentStore, grid SlotGrid) *StoreSlotSource {
	if grid.Location == nil {
		grid.Location = time.UTC
	}
	if grid.CloseHour <= grid.OpenHour {
		grid.OpenHour, grid.CloseHour = DefaultSlotGrid.OpenHour, DefaultSlotGrid.CloseHour
	}
	return &StoreSlotSource{directory: directory, appointments: appointments, grid: grid, now: time.Now}
}

// Slots returns the grid of day for serviceID, stepping by the service duration.
func (s *StoreSlotSource) Slots(ctx context.Context, salonID, serviceID string, day time.Time) ([]domain.Slot, error) {
	svc, err := s.directory.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	step := time.Duration(svc.DurationMinutes) * time.Minute
	if step < 15*time.Minute {
		step = 15 * time.Minute
	}

	local := day.In(s.grid.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.grid.Location)
	open := midnight.Add(time.Duration(s.grid.OpenHour) * time.Hour)
	closing := midnight.Add(time.Duration(s.grid.CloseHour) * time.Hour)

	starts, err := s.appointments.ListActiveStarts(ctx, salonID, open, closing)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	taken := make(map[int64]struct{}, len(starts))
	for _, t := range starts {
		taken[t.Unix()] = struct{}{}
	}

	now := s.now()
	var slots []domain.Slot
	for t := open; !t.Add(step).After(closing); t = t.Add(step) {
		_, busy := taken[t.Unix()]
		slots = append(slots, domain.Slot{Time: t, Available: !busy && t.After(now)})
	}
	return slots, nil
}

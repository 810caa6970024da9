package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

// EventProcessor reconciles one stored notification.
type EventProcessor interface {
	Process(ctx context.Context, ev *domain.WebhookEvent) (domain.WebhookEventStatus, error)
}

// DispatcherConfig sizes the webhook worker pool.
type DispatcherConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// RetryReport summarizes a retry sweep.
type RetryReport struct {
	Scanned int
	Outcome map[domain.WebhookEventStatus]int
}

// WebhookDispatcher persists inbound notifications and processes them on a
// bounded worker pool, detached from the request that delivered them.
type WebhookDispatcher struct {
	events    ports.WebhookEventStore
	processor EventProcessor
	cfg       DispatcherConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	queue   chan string
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewWebhookDispatcher creates a dispatcher. Call Start before Receive.
func NewWebhookDispatcher(
	events ports.WebhookEventStore,
	processor EventProcessor,
	cfg DispatcherConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &WebhookDispatcher{
		events:    events,
		processor: processor,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan string, cfg.QueueSize),
	}
}

// Start launches the workers.
func (d *WebhookDispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("webhook dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize))
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to expire.
// Events still queued when ctx expires stay received for the retry sweep.
func (d *WebhookDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for id := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
		if _, err := d.Handle(ctx, id); err != nil {
			d.logger.Error("webhook job failed", zap.String("event_id", id), zap.Error(err))
		}
		cancel()
	}
}

// Receive stores a notification and queues it. The returned error only
// reports persistence failures; a full queue leaves the event for Retry.
func (d *WebhookDispatcher) Receive(ctx context.Context, rawBody []byte, query url.Values, signatureValid bool) (*domain.WebhookEvent, error) {
	ev := NewWebhookEvent(rawBody, query, signatureValid, d.now())
	if err := d.events.InsertWebhookEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("store webhook event: %w", err)
	}

	if !d.enqueue(ev.ID) {
		d.metrics.WebhookQueueDrops.Inc()
		d.logger.Warn("webhook queue full, event left for retry sweep",
			zap.String("event_id", ev.ID),
			zap.String("payment_id", ev.ResourceID))
	}
	return ev, nil
}

func (d *WebhookDispatcher) enqueue(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- id:
		return true
	default:
		return false
	}
}

// Handle processes one stored event and records its outcome.
func (d *WebhookDispatcher) Handle(ctx context.Context, id string) (domain.WebhookEventStatus, error) {
	ev, err := d.events.GetWebhookEvent(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load webhook event %s: %w", id, err)
	}

	status, procErr := d.processor.Process(ctx, ev)
	lastErr := ""
	if procErr != nil {
		lastErr = procErr.Error()
		if errors.Is(procErr, domain.ErrUnresolvedCorrelation) {
			procErr = nil
		}
	}

	// The job context may have expired; the outcome is still worth recording.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.events.FinishWebhookEvent(finishCtx, id, status, lastErr); err != nil {
		return status, fmt.Errorf("record webhook outcome: %w", err)
	}

	d.metrics.WebhookOutcomes.WithLabelValues(string(status)).Inc()
	d.logger.Debug("webhook event finished",
		zap.String("event_id", id),
		zap.String("status", string(status)),
		zap.String("last_error", lastErr))
	return status, procErr
}

// Retry reprocesses received or failed events older than minAge, synchronously.
func (d *WebhookDispatcher) Retry(ctx context.Context, minAge time.Duration, limit int) (*RetryReport, error) {
	events, err := d.events.ListRetryableWebhookEvents(ctx, d.now().Add(-minAge), limit)
	if err != nil {
		return nil, err
	}

	report := &RetryReport{Scanned: len(events), Outcome: map[domain.WebhookEventStatus]int{}}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
		status, err := d.Handle(jobCtx, ev.ID)
		cancel()
		if err != nil {
			d.logger.Warn("webhook retry failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
		if status != "" {
			report.Outcome[status]++
		}
	}
	return report, nil
}

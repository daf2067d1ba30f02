// Package webhook delivers consent events to tenant-configured URLs.
//
// Delivery is best effort: a fixed pool of workers drains a bounded queue, each
// event gets exactly one attempt, and failures are only logged and counted.
// Enqueue never blocks the request path; a full queue drops the event.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"cookieconsent/internal/webhook/metrics"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1000
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 64 << 10
	userAgent        = "cookieconsent-webhook/1.0"
)

// ErrDeliveryFailed marks a delivery that reached the endpoint but was not
// acknowledged with a 2xx status.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// Delivery is one event bound for one URL.
type Delivery struct {
	URL       string
	Event     string
	Payload   any
	RequestID string
}

// Dispatcher is a bounded fire-and-forget webhook worker pool.
type Dispatcher struct {
	client    *http.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	workers   int
	queueSize int
	timeout   time.Duration

	queue chan Delivery

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent delivery workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets how many deliveries may wait for a worker.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithHTTPClient replaces the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher. Call Start before enqueueing.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:    &http.Client{},
		logger:    slog.Default(),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Delivery, d.queueSize)
	d.baseCtx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
		d.logger.Info("webhook dispatcher started", "workers", d.workers, "queue_size", d.queueSize)
	})
}

// Enqueue schedules a delivery without blocking. It returns false when the
// event was dropped: invalid URL, full queue, or dispatcher shut down.
func (d *Dispatcher) Enqueue(del Delivery) bool {
	if !ValidURL(del.URL) {
		d.metrics.IncDropped("invalid_url")
		d.logger.Warn("webhook url rejected",
			"event", del.Event,
			"request_id", del.RequestID,
		)
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.IncDropped("shutdown")
		return false
	}
	select {
	case d.queue <- del:
		d.metrics.IncEnqueued()
		d.metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.IncDropped("queue_full")
		d.logger.Warn("webhook queue full, dropping event",
			"event", del.Event,
			"request_id", del.RequestID,
			"queue_size", d.queueSize,
		)
		return false
	}
}

// Shutdown stops accepting deliveries and waits for queued ones to finish.
// If ctx expires first, in-flight deliveries are cancelled and the remaining
// queue is discarded.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
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
		d.cancel()
		d.logger.Info("webhook dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.Warn("webhook dispatcher shutdown deadline exceeded, pending deliveries abandoned")
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for del := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		if d.baseCtx.Err() != nil {
			d.metrics.IncDropped("shutdown")
			continue
		}
		start := time.Now()
		err := d.deliver(del)
		d.metrics.ObserveDelivery(start)
		if err != nil {
			d.metrics.IncFailed(failureReason(err))
			d.logger.Warn("webhook delivery failed",
				"event", del.Event,
				"request_id", del.RequestID,
				"error", err,
			)
			continue
		}
		d.metrics.IncDelivered()
	}
}

func (d *Dispatcher) deliver(del Delivery) error {
	body, err := json.Marshal(del.Payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if del.Event != "" {
		req.Header.Set("X-Consent-Event", del.Event)
	}
	if del.RequestID != "" {
		req.Header.Set("X-Request-ID", del.RequestID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDeliveryFailed):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "transport"
	}
}

// ValidURL reports whether raw is an absolute http(s) URL with a host.
func ValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

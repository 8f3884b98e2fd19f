package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/vcollab/internal/metrics"
	"github.com/dandantas/vcollab/internal/model"
	"github.com/dandantas/vcollab/internal/topology"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a Notifier
type Config struct {
	URL        string
	Threshold  int
	Deployment string
	Timeout    time.Duration
	Retry      model.RetryConfig
}

// Notifier posts a webhook when topology fetches keep failing, once per outage, and
// again when a fetch succeeds after an alert was sent.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	breaker    *CircuitBreaker
	retry      *RetryStrategy
	now        func() time.Time

	mu      sync.Mutex
	alerted bool
}

func New(cfg Config) *Notifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(5, 1, time.Minute),
		retry:   NewRetryStrategy(cfg.Retry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a webhook URL is configured
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// FetchFailed alerts when the failure streak reaches the threshold
func (n *Notifier) FetchFailed(ctx context.Context, snap topology.Snapshot, cause error) {
	if !n.Enabled() || snap.ConsecutiveFailures < n.cfg.Threshold {
		return
	}

	n.mu.Lock()
	if n.alerted {
		n.mu.Unlock()
		return
	}
	n.alerted = true
	n.mu.Unlock()

	if err := n.Send(ctx, failingPayload(n.cfg.Deployment, snap, cause, n.now())); err != nil {
		// try again on the next failed cycle
		n.mu.Lock()
		n.alerted = false
		n.mu.Unlock()
	}
}

// FetchRecovered reports the end of an outage that was alerted
func (n *Notifier) FetchRecovered(ctx context.Context, snap topology.Snapshot) {
	n.mu.Lock()
	if !n.alerted {
		n.mu.Unlock()
		return
	}
	n.alerted = false
	n.mu.Unlock()

	_ = n.Send(ctx, recoveredPayload(n.cfg.Deployment, snap, n.now()))
}

// Send delivers p with retries, unless the circuit breaker is open
func (n *Notifier) Send(ctx context.Context, p Payload) error {
	if !n.breaker.CanAttempt() {
		slog.Warn("Circuit breaker is open, skipping notification",
			"event", p.Event,
			"delivery_id", p.ID,
			"circuit_state", n.breaker.State().String(),
		)
		metrics.NotificationsSent.WithLabelValues(string(p.Event), "skipped").Inc()
		return ErrCircuitOpen
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	for attempt := 1; attempt <= n.retry.MaxAttempts(); attempt++ {
		status, err := n.deliver(ctx, p.ID, body)
		if err == nil {
			slog.Info("Notification delivered",
				"event", p.Event,
				"delivery_id", p.ID,
				"attempt", attempt,
				"status_code", status,
			)
			n.breaker.RecordSuccess()
			metrics.NotificationsSent.WithLabelValues(string(p.Event), "delivered").Inc()
			return nil
		}

		if !n.retry.ShouldRetry(attempt, status, err) {
			slog.Error("Notification delivery failed",
				"event", p.Event,
				"delivery_id", p.ID,
				"attempt", attempt,
				"status_code", status,
				"error", err,
			)
			n.breaker.RecordFailure()
			metrics.NotificationsSent.WithLabelValues(string(p.Event), "failed").Inc()
			return fmt.Errorf("notification failed after %d attempts: %w", attempt, err)
		}

		delay := n.retry.Delay(attempt)
		slog.Warn("Notification delivery failed, retrying",
			"event", p.Event,
			"delivery_id", p.ID,
			"attempt", attempt,
			"next_retry_ms", delay.Milliseconds(),
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.NotificationsSent.WithLabelValues(string(p.Event), "failed").Inc()
			return ctx.Err()
		}
	}

	// unreachable while MaxAttempts >= 1, ShouldRetry stops the loop first
	n.breaker.RecordFailure()
	metrics.NotificationsSent.WithLabelValues(string(p.Event), "failed").Inc()
	return fmt.Errorf("notification failed after %d attempts", n.retry.MaxAttempts())
}

func (n *Notifier) deliver(ctx context.Context, deliveryID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

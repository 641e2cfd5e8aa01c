package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// EventRunPublished is sent once a run reached every enabled backend
const EventRunPublished = "run.published"

// Event is the JSON body of a notification
type Event struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Delivery is the outcome of one notification to one endpoint
type Delivery struct {
	ID         string
	URL        string
	Event      string
	StatusCode int
	Attempts   int
	Err        error
}

// Delivered reports whether the endpoint accepted the notification
func (d *Delivery) Delivered() bool {
	return d.Err == nil
}

// errPermanent marks responses that are not retried
var errPermanent = errors.New("endpoint rejected the notification")

// Retry delays: 1s, 5s, 15s
var defaultRetryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// Service delivers run notifications to the configured endpoints
type Service struct {
	client  *http.Client
	urls    []string
	secret  string
	retries int
	delays  []time.Duration
	logger  *logging.Logger
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		client:  &http.Client{Timeout: timeout},
		urls:    cfg.URLs,
		secret:  cfg.Secret,
		retries: max(cfg.MaxRetries, 0),
		delays:  defaultRetryDelays,
		logger:  logger.WithField("component", "webhook"),
	}
}

// Notify sends event to every endpoint in parallel, retrying failed
// deliveries. The error joins the failures of endpoints that never accepted it.
func (s *Service) Notify(ctx context.Context, event string, data interface{}) ([]*Delivery, error) {
	payload, err := json.Marshal(Event{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	deliveries := make([]*Delivery, len(s.urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, url := range s.urls {
		g.Go(func() error {
			deliveries[i] = s.deliver(ctx, url, event, payload)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, d := range deliveries {
		if !d.Delivered() {
			metrics.RecordError("webhook", "delivery")
			s.logger.WithFields(map[string]interface{}{
				"url":      d.URL,
				"delivery": d.ID,
				"attempts": d.Attempts,
			}).WithError(d.Err).Warn("Webhook delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", d.URL, d.Err))
		}
	}
	return deliveries, errors.Join(errs...)
}

// NotifyRunPublished sends notification when a run is published
func (s *Service) NotifyRunPublished(ctx context.Context, summary models.RunSummary) error {
	_, err := s.Notify(ctx, EventRunPublished, summary)
	return err
}

// deliver posts payload to url until it is accepted, rejected, or the
// retries are exhausted
func (s *Service) deliver(ctx context.Context, url, event string, payload []byte) *Delivery {
	d := &Delivery{ID: uuid.NewString(), URL: url, Event: event}

	for {
		d.Attempts++
		d.StatusCode, d.Err = s.post(ctx, d, payload)
		if d.Err == nil || errors.Is(d.Err, errPermanent) || d.Attempts > s.retries {
			return d
		}

		delay := s.delays[min(d.Attempts-1, len(s.delays)-1)]
		select {
		case <-ctx.Done():
			d.Err = ctx.Err()
			return d
		case <-time.After(delay):
		}
	}
}

func (s *Service) post(ctx context.Context, d *Delivery, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %v", errPermanent, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Testmatrix-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", d.Event)
	req.Header.Set("X-Webhook-Delivery", d.ID)
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	default:
		return resp.StatusCode, fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, body)
	}
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Task lifecycle events
const (
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// Delivery outcomes recorded in metrics
const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

// Event is the JSON body posted to the callback URL
type Event struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      *models.ProcessingTask `json:"data"`
}

// Service posts task lifecycle callbacks. Delivery happens in the
// background and never affects the task's own state.
type Service struct {
	url         string
	secret      string
	maxAttempts int
	client      *http.Client
	logger      *logging.Logger

	// retryDelays[i] is the wait before attempt i+2; the last entry repeats
	retryDelays []time.Duration

	wg sync.WaitGroup
}

// NewService creates a webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Service{
		url:         cfg.URL,
		secret:      cfg.Secret,
		maxAttempts: attempts,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		retryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Enabled reports whether a callback URL is configured
func (s *Service) Enabled() bool {
	return s.url != ""
}

// TaskFinished sends task.completed or task.failed for a terminal task
func (s *Service) TaskFinished(ctx context.Context, task *models.ProcessingTask) {
	if !s.Enabled() || task == nil {
		return
	}

	event := EventTaskCompleted
	if task.Status == models.TaskStatusFailed {
		event = EventTaskFailed
	}

	payload := Event{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      task,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithTaskID(task.ID).ErrorWithErr("Failed to marshal webhook payload", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(context.WithoutCancel(ctx), payload.ID, event, task.ID, body)
	}()
}

// Wait blocks until in-flight deliveries finish
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, deliveryID, event, taskID string, body []byte) {
	logger := s.logger.WithTaskID(taskID).WithField("event", event).WithField("delivery_id", deliveryID)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.delay(attempt - 2))
		}

		lastErr = s.post(ctx, deliveryID, event, body)
		if lastErr == nil {
			metrics.RecordWebhookDelivery(event, outcomeDelivered)
			logger.WithField("attempt", attempt).Debug("Webhook delivered")
			return
		}
		logger.WithField("attempt", attempt).WithError(lastErr).Warn("Webhook delivery failed")
	}

	metrics.RecordWebhookDelivery(event, outcomeFailed)
	logger.WithError(lastErr).Error("Webhook delivery abandoned")
}

func (s *Service) delay(i int) time.Duration {
	if len(s.retryDelays) == 0 {
		return 0
	}
	if i >= len(s.retryDelays) {
		i = len(s.retryDelays) - 1
	}
	return s.retryDelays[i]
}

func (s *Service) post(ctx context.Context, deliveryID, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "HLSVault-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

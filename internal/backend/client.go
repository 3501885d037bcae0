// Package backend is the REST client for the practice management backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/carewatch/internal/metrics"
	"github.com/gmsas95/carewatch/internal/models"
	"github.com/gmsas95/carewatch/internal/security"
)

// Config holds backend client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls (0 = unlimited)
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures consecutive failures open the circuit
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open
	BreakerCooldown time.Duration
}

// DefaultConfig returns sane client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8080/api",
		Timeout:           15 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// StatusError is a non-2xx backend response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client calls the backend endpoints
type Client struct {
	config  Config
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a backend client
func New(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "backend",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// client errors are the caller's problem, not a sick backend
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Backend circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

// WithMetrics sets the metrics sink
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// ListAppointments fetches every appointment visible to the token
func (c *Client) ListAppointments(ctx context.Context) ([]models.Appointment, error) {
	var out []models.Appointment
	if err := c.do(ctx, "list_appointments", http.MethodGet, "/appointments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAppointment writes the full appointment record
func (c *Client) UpdateAppointment(ctx context.Context, appt models.Appointment) error {
	path := "/appointments/" + strconv.FormatInt(appt.AppointmentID, 10)
	return c.do(ctx, "update_appointment", http.MethodPut, path, appt, nil)
}

// ListReminders fetches a patient's prescription reminders
func (c *Client) ListReminders(ctx context.Context, patientID int64) ([]models.PrescriptionReminder, error) {
	var out []models.PrescriptionReminder
	path := fmt.Sprintf("/prescriptions/patients/%d/reminders", patientID)
	if err := c.do(ctx, "list_reminders", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type takeDoseRequest struct {
	PrescriptionID int64 `json:"prescriptionId"`
}

// TakeDose records one taken dose of a prescription
func (c *Client) TakeDose(ctx context.Context, patientID, prescriptionID int64) error {
	path := fmt.Sprintf("/prescriptions/patients/%d/take-dose", patientID)
	return c.do(ctx, "take_dose", http.MethodPost, path, takeDoseRequest{PrescriptionID: prescriptionID}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	err := c.call(ctx, op, method, path, in, out)
	if err != nil {
		c.metrics.ObserveBackendError(op)
	}
	return err
}

func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := checkExpiry(token, c.now()); err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	requestID := uuid.NewString()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, path, token, requestID, payload)
	})
	if err != nil {
		c.logger.Debug("Backend call failed",
			zap.String("operation", op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token, requestID string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// error bodies end up in logs and API responses
		snippet := security.RedactSecrets(strings.TrimSpace(string(body)))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

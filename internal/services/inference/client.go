// Package inference wraps the AI scoring service that provides the advisory
// integrity confidence and the multi-factor content analysis. All scores are
// advisory: callers degrade to manual review when the service is unavailable.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"custodia/internal/custody"
	"custodia/internal/services"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// Config captures the runtime settings required to talk to the service.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client wraps the inference service HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMaxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an inference client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:  strings.TrimSpace(cfg.APIKey),
			Model:   strings.TrimSpace(cfg.Model),
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		sleeper:          time.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// IntegrityScore is the advisory verdict on evidence trustworthiness.
type IntegrityScore struct {
	Confidence float64 `json:"confidence"`
	RiskLabel  string  `json:"risk_label"`
}

type scoreRequest struct {
	Model       string            `json:"model,omitempty"`
	EvidenceID  string            `json:"evidence_id"`
	Fingerprint string            `json:"fingerprint"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ScoreIntegrity requests the advisory confidence score for an evidence item.
func (c *Client) ScoreIntegrity(ctx context.Context, record *custody.EvidenceRecord, fingerprint string) (*IntegrityScore, error) {
	payload := scoreRequest{
		Model:       c.cfg.Model,
		EvidenceID:  record.ID,
		Fingerprint: fingerprint,
		Metadata:    record.Metadata,
	}
	var score IntegrityScore
	if err := c.post(ctx, "/v1/integrity/score", payload, &score); err != nil {
		return nil, err
	}
	if score.Confidence < 0 || score.Confidence > 1 {
		return nil, services.Wrap(services.ErrExternalService, "inference", "score",
			fmt.Sprintf("confidence %.3f out of range", score.Confidence), nil)
	}
	return &score, nil
}

type analyzeRequest struct {
	Model       string            `json:"model,omitempty"`
	EvidenceID  string            `json:"evidence_id"`
	CaseID      string            `json:"case_id"`
	Fingerprint string            `json:"fingerprint"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	History     []string          `json:"custody_history,omitempty"`
}

// Analyze runs the multi-factor content analysis of an evidence item given
// the custody history so far.
func (c *Client) Analyze(ctx context.Context, record *custody.EvidenceRecord, fingerprint string, history []string) (*custody.AnalysisResult, error) {
	payload := analyzeRequest{
		Model:       c.cfg.Model,
		EvidenceID:  record.ID,
		CaseID:      record.CaseID,
		Fingerprint: fingerprint,
		Metadata:    record.Metadata,
		History:     history,
	}
	var result custody.AnalysisResult
	if err := c.post(ctx, "/v1/evidence/analyze", payload, &result); err != nil {
		return nil, err
	}
	for name, score := range map[string]float64{
		"authenticity": result.AuthenticityScore,
		"completeness": result.CompletenessScore,
		"relevance":    result.RelevanceScore,
		"risk":         result.RiskScore,
	} {
		if score < 0 || score > 1 {
			return nil, services.Wrap(services.ErrExternalService, "inference", "analyze",
				fmt.Sprintf("%s score %.3f out of range", name, score), nil)
		}
	}
	return &result, nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("inference request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "inference", "request", "inference base URL is not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "inference", "request", "encode payload", err)
	}

	var lastErr error
	delay := c.retryBaseDelay
	for attempt := 0; attempt < c.retryMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return c.wrapTransportError(ctx.Err())
			default:
			}
			c.sleeper(delay)
			if next := delay * 2; next <= c.retryMaxDelay {
				delay = next
			}
		}

		lastErr = c.doOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}
	return c.wrapTransportError(lastErr)
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) wrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "inference", "request", "inference request timed out", err)
	}
	return services.Wrap(services.ErrExternalService, "inference", "request", "inference service failure", err)
}

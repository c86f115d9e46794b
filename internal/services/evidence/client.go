// Package evidence implements the client for the evidence repository, the
// authoritative source of evidence records fetched at intake.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custodia/internal/custody"
	"custodia/internal/services"
)

const defaultTimeout = 15 * time.Second

// Config captures the repository connection settings.
type Config struct {
	BaseURL        string
	APIToken       string
	TimeoutSeconds int
}

// Client fetches evidence records over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
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

// NewClient constructs an evidence repository client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIToken: strings.TrimSpace(cfg.APIToken),
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Fetch returns the authoritative evidence record for an identifier. A 404
// from the repository maps to services.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, evidenceID string) (*custody.EvidenceRecord, error) {
	evidenceID = strings.TrimSpace(evidenceID)
	if evidenceID == "" {
		return nil, services.Wrap(services.ErrValidation, "evidence", "fetch", "evidence id must not be empty", nil)
	}
	if c.cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "evidence", "fetch", "evidence repository base URL is not configured", nil)
	}

	endpoint := fmt.Sprintf("%s/api/evidence/%s", c.cfg.BaseURL, url.PathEscape(evidenceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "evidence", "fetch", "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "evidence", "fetch", "repository request timed out", err)
		}
		return nil, services.Wrap(services.ErrExternalService, "evidence", "fetch", "repository unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "evidence", "fetch",
			fmt.Sprintf("evidence record %s does not exist", evidenceID), nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.Wrap(services.ErrExternalService, "evidence", "fetch",
			fmt.Sprintf("repository returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var record custody.EvidenceRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "evidence", "fetch", "decode evidence record", err)
	}
	if record.ID == "" {
		record.ID = evidenceID
	}
	return &record, nil
}

// Ping checks the repository health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "evidence", "ping", "evidence repository base URL is not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "evidence", "ping", "repository unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrExternalService, "evidence", "ping",
			fmt.Sprintf("repository health returned http %d", resp.StatusCode), nil)
	}
	return nil
}

package testsupport

import (
	"path/filepath"
	"testing"

	"custodia/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Engine.SigningSecret = "test-secret"
	cfg.Evidence.BaseURL = "http://127.0.0.1:0"
	cfg.Inference.Enabled = false
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithSigningSecret overrides the event signing secret on the test config.
func WithSigningSecret(secret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.SigningSecret = secret
	}
}

// WithMaxRetries overrides the retry budget on the test config.
func WithMaxRetries(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.MaxRetries = count
	}
}

// WithInference points the test config at an inference endpoint.
func WithInference(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Inference.Enabled = true
		cfg.Inference.BaseURL = baseURL
	}
}

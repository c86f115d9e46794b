package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the engine cannot run with.
// It returns every problem found, joined into one error.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Engine.MaxRetries < 0 {
		problems = append(problems, "engine.max_retries must not be negative")
	}
	if c.Engine.AdapterTimeoutSeconds <= 0 {
		problems = append(problems, "engine.adapter_timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.Engine.SigningSecret) == "" {
		problems = append(problems, "engine.signing_secret must be set")
	}
	if c.Inference.Enabled && strings.TrimSpace(c.Inference.BaseURL) == "" {
		problems = append(problems, "inference.base_url must be set when inference is enabled")
	}
	if c.Evidence.TimeoutSeconds <= 0 {
		problems = append(problems, "evidence.timeout_seconds must be positive")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

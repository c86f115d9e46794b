// Package config loads, validates, and defaults the TOML configuration for
// the custodia engine, adapters, and CLI.
package config

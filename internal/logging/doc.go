// Package logging builds the slog loggers used across custodia and defines
// the standardized field keys and attribute helpers shared by all components.
package logging

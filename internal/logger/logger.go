// Package logger builds the zerolog root logger and request children.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the process root logger. Format "console" is for local
// development; anything else emits JSON lines.
func New(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(lvl).With().Timestamp().Str("service", "intellispec").Logger()
}

// ForRequest derives a child logger carrying request correlation fields.
// Empty fields are omitted so platform-scope requests stay clean.
func ForRequest(root zerolog.Logger, correlationID, tenantID, userID string) zerolog.Logger {
	ctx := root.With().Str("correlation_id", correlationID)
	if tenantID != "" {
		ctx = ctx.Str("tenant_id", tenantID)
	}
	if userID != "" {
		ctx = ctx.Str("user_id", userID)
	}
	return ctx.Logger()
}

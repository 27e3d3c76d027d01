// Package log configures the process-wide slog logger shared by the fermata
// binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text handler on the default logger at the given level
// ("debug", "info", "warn", "error"; unknown values fall back to info) and
// stamps every record with the service name.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler).With("service", "fermata"))
}

// WithModule returns the default logger tagged with a module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

package app

import (
	"io"
	"log/slog"

	"github.com/vk/datakiln/internal/config"
)

// newLogger builds the application logger from the validated
// configuration. It never touches the global slog default, so embedding
// applications and parallel tests keep isolated loggers.
func newLogger(cfg *config.Config, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/lmittmann/tint"

	"github.com/couchcryptid/air-quality-etl/internal/config"
)

const serviceName = "air-quality-etl"

// NewLogger builds the service logger from LOG_LEVEL and LOG_FORMAT and sets
// it as the slog default. "text" gives a colourised console handler,
// anything else JSON.
func NewLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if strings.EqualFold(cfg.LogFormat, "text") {
		logger = newTextLogger(os.Stdout, levelOf(logger.Handler()))
		slog.SetDefault(logger)
	}
	return logger.With("service", serviceName)
}

func newTextLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
}

// levelOf returns the lowest level h accepts.
func levelOf(h slog.Handler) slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if h.Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError
}

package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/factcore/pkg/config"
)

// ParseLevel parses a logging level name. Besides the logrus names it
// accepts CRITICAL, which maps to the fatal level.
func ParseLevel(name string) (logrus.Level, error) {
	if strings.EqualFold(name, "critical") {
		return logrus.FatalLevel, nil
	}
	return logrus.ParseLevel(name)
}

// NewLogger creates a logger for the logging section of the configuration.
// The returned closer releases the log file, if any.
func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	closer, err := ConfigureLogger(logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	return logger, closer, nil
}

// ConfigureLogger applies cfg to an existing logger. An unknown level falls
// back to info with a warning. When File is set, output goes to stderr and
// the file.
func ConfigureLogger(logger *logrus.Logger, cfg config.LoggingConfig) (io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := ParseLevel(cfg.Level)
		if err != nil {
			logger.WithField("level", cfg.Level).Warn("Unknown logging level, using info")
		} else {
			level = parsed
		}
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithTraceContext adds the trace and span id of the active span to entry
func WithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return entry
	}
	sc := span.SpanContext()
	return entry.WithFields(logrus.Fields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

// Package telemetry wires optional Sentry error reporting. Every function is
// safe to call when Sentry was never initialised; events are then dropped.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const serviceName = "ide-memory"

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
}

// Init initializes Sentry and returns a function that flushes pending
// events. If DSN is empty it returns a no-op flush function.
func Init(cfg Config, logger *zap.Logger) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		ServerName:       serviceName,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		logger.Warn("sentry initialisation failed; continuing without error reporting", zap.Error(err))
		return func() {}, nil
	}

	logger.Debug("sentry initialised", zap.String("environment", cfg.Environment))
	return func() { sentry.Flush(5 * time.Second) }, nil
}

// Span wraps sentry.Span so callers need not nil-check.
type Span struct {
	inner *sentry.Span
}

// StartSpan starts a child of the span in ctx, or a new transaction.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	return span.Context(), &Span{inner: span}
}

// SetTag attaches a tag to the span.
func (s *Span) SetTag(key, value string) {
	if s.inner != nil {
		s.inner.SetTag(key, value)
	}
}

// SetError marks the span as failed.
func (s *Span) SetError() {
	if s.inner != nil {
		s.inner.Status = sentry.SpanStatusInternalError
	}
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// CaptureError reports err to Sentry using the hub bound to ctx if any.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

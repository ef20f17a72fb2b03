package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BreakerConfig controls when Guarded stops writing to a failing sink.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5
	MaxFailures uint32

	// Timeout is how long the breaker stays open before a trial write is
	// allowed. Default: 30 seconds
	Timeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by NewGuarded.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second}
}

// Sink is the write side of a metrics store.
type Sink interface {
	Record(ctx context.Context, method string, toolName *string, elapsed time.Duration, responseSize int, success bool, errMsg *string) error
}

// Guarded adapts a Sink to the Recorder interface. It never propagates an
// error or a panic to the caller, stops calling the sink while the breaker is
// open, and logs failures through a rate limiter.
type Guarded struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Recorder = (*Guarded)(nil)

// NewGuarded wraps sink with the default breaker configuration.
func NewGuarded(sink Sink, logger *zap.Logger) *Guarded {
	return NewGuardedWithConfig(sink, logger, DefaultBreakerConfig())
}

// NewGuardedWithConfig wraps sink with a custom breaker configuration.
func NewGuardedWithConfig(sink Sink, logger *zap.Logger, cfg BreakerConfig) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guarded{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:  logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metrics",
		MaxRequests: 1,
		Interval:    0, // never clear counts while closed
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("metrics breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return g
}

// RecordRequest implements Recorder.
func (g *Guarded) RecordRequest(method string, toolName *string, elapsed time.Duration, responseSize int, success bool, errMsg *string) {
	_, err := g.breaker.Execute(func() (res interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("metrics sink panicked: %v", r)
			}
		}()
		return nil, g.sink.Record(context.Background(), method, toolName, elapsed, responseSize, success, errMsg)
	})
	if err == nil || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return
	}
	if g.limiter.Allow() {
		g.logger.Warn("failed to record request metrics", zap.String("method", method), zap.Error(err))
	}
}

// State returns the breaker state: "closed", "open" or "half-open".
func (g *Guarded) State() string {
	return g.breaker.State().String()
}

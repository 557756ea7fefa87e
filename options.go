package coalesce

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-metrics"
)

const (
	// DefaultEstablishTimeout bounds how long an establishment attempt
	// may stay in flight before every joined caller fails with
	// `ErrEstablishTimeout`.
	DefaultEstablishTimeout = 10 * time.Second

	// DefaultLingerDelay is how long an idle endpoint is kept once the
	// last active caller returns. Short on purpose: long enough to
	// absorb call bursts, not long enough to hold a connection nobody
	// uses.
	DefaultLingerDelay = 1 * time.Second
)

type config struct {
	establishTimeout time.Duration
	lingerDelay      time.Duration
	logHandler       slog.Handler
	msink            metrics.MetricSink
	metricLabels     []metrics.Label
	clock            clock.Clock
}

// Option to pass to `New`.
type Option func(*config) error

// WithEstablishTimeout sets the hard upper bound on a single
// establishment attempt.
func WithEstablishTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultEstablishTimeout
		}
		c.establishTimeout = timeout
		return nil
	}
}

// WithLingerDelay sets the grace period after the last active caller
// returns before the endpoint is torn down. A new caller arriving inside
// the window always pre-empts the teardown.
func WithLingerDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay == 0 {
			delay = DefaultLingerDelay
		}
		c.lingerDelay = delay
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted
// by the coordinator.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// coordinator.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithClock substitutes the wall clock used for the establish timeout and
// the linger timer. Tests inject `clock.NewMock()` here; production code
// has no reason to set it.
func WithClock(clk clock.Clock) Option {
	return func(c *config) error {
		if clk == nil {
			clk = clock.New()
		}
		c.clock = clk
		return nil
	}
}

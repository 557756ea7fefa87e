package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-metrics"
)

// Coordinator guarantees that concurrent logical operations share one live
// connection to a single target, establishes it with bounded latency, and
// releases it promptly but not eagerly after the last operation finishes.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	cfg     config
	logger  *slog.Logger
	msink   metrics.MetricSink
	clock   clock.Clock
	factory EndpointFactory
	target  string

	// synchronisation: every field below is guarded by lk. The lock is
	// never held across a factory call, a caller's work, or an endpoint
	// close.
	lk        sync.Mutex
	closed    bool
	active    int
	endpoint  RemoteEndpoint
	pending   *establishment
	linger    *clock.Timer
	lingerGen uint64
}

// establishment is one in-flight connect attempt, shared by every caller
// that arrives while it is unresolved.
type establishment struct {
	cancel context.CancelFunc
	doneCh chan struct{}

	timedOut atomic.Bool
	aborted  atomic.Bool

	// waiters and abandoned are guarded by the coordinator lock.
	waiters   int
	abandoned bool

	// ep and err are written once, before doneCh is closed.
	ep  RemoteEndpoint
	err error
}

// New builds a `Coordinator` tied to a single target identity. The factory
// is invoked lazily: no connection exists until the first `WithConnection`
// call needs one.
func New(target string, factory EndpointFactory, opts ...Option) (*Coordinator, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	if target == "" {
		return nil, ErrNoTarget
	}

	c := &Coordinator{
		target:  target,
		factory: factory,
	}
	c.cfg.establishTimeout = DefaultEstablishTimeout
	c.cfg.lingerDelay = DefaultLingerDelay

	for _, opt := range opts {
		if err := opt(&c.cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if c.cfg.logHandler != nil {
		c.logger = slog.New(c.cfg.logHandler)
	} else {
		c.logger = slog.Default()
	}

	if c.cfg.msink == nil {
		c.cfg.msink = metrics.Default()
	}
	c.msink = c.cfg.msink

	if c.cfg.clock == nil {
		c.cfg.clock = clock.New()
	}
	c.clock = c.cfg.clock

	return c, nil
}

// WithConnection runs `work` against a live endpoint, establishing one if
// needed. Concurrent callers share a single endpoint and a single
// establishment attempt; `work` itself runs outside the coordinator lock,
// so any number of operations may execute concurrently.
//
// The error is either `ErrClosed`, an establishment outcome
// (`ErrEstablishTimeout`, `ErrEstablishFailed`, or the caller's own ctx
// error), or whatever `work` returned, untouched.
func (c *Coordinator) WithConnection(ctx context.Context, work func(context.Context, RemoteEndpoint) error) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.exit()

	ep, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	return work(ctx, ep)
}

// Shutdown cancels any scheduled teardown and pending establishment,
// closes the cached endpoint, and marks the coordinator terminal:
// subsequent `WithConnection` calls fail with `ErrClosed`. Idempotent.
//
// Callers already executing work keep their endpoint handle; the owner is
// expected to stop issuing operations before shutting the coordinator
// down.
func (c *Coordinator) Shutdown() error {
	c.lk.Lock()
	if c.closed {
		c.lk.Unlock()
		return nil
	}
	c.closed = true
	if c.linger != nil {
		c.lingerGen++
		c.linger.Stop()
		c.linger = nil
	}
	att := c.pending
	c.pending = nil
	ep := c.endpoint
	c.endpoint = nil
	c.lk.Unlock()

	if att != nil {
		att.aborted.Store(true)
		att.cancel()
	}

	if ep != nil {
		if err := ep.Close(); err != nil {
			c.logger.Warn("error closing endpoint on shutdown",
				LabelError.L(err), LabelTarget.L(c.target))
		}
		c.msink.IncrCounterWithLabels(MetricEndpointTeardownCount, 1.0,
			append(c.cfg.metricLabels, LabelReason.M("shutdown")))
	}

	c.logger.Debug("coordinator shut down", LabelTarget.L(c.target))
	return nil
}

// Stats is a point-in-time snapshot of the coordinator state.
type Stats struct {
	ActiveCallers    int
	Establishing     bool
	EstablishWaiters int
	EndpointCached   bool
	LingerScheduled  bool
	Closed           bool
}

func (c *Coordinator) Stats() Stats {
	c.lk.Lock()
	defer c.lk.Unlock()
	waiters := 0
	if c.pending != nil {
		waiters = c.pending.waiters
	}
	return Stats{
		ActiveCallers:    c.active,
		Establishing:     c.pending != nil,
		EstablishWaiters: waiters,
		EndpointCached:   c.endpoint != nil,
		LingerScheduled:  c.linger != nil,
		Closed:           c.closed,
	}
}

// enter registers one active caller; the zero-to-one transition pre-empts
// any scheduled teardown.
func (c *Coordinator) enter() error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.active++
	c.msink.SetGaugeWithLabels(MetricActiveCallers, float32(c.active), c.cfg.metricLabels)
	if c.active == 1 && c.linger != nil {
		// Bumping the generation makes a timer that already fired (but
		// is still waiting on the lock) a no-op.
		c.lingerGen++
		c.linger.Stop()
		c.linger = nil
		c.msink.IncrCounterWithLabels(MetricLingerCancelledCount, 1.0, c.cfg.metricLabels)
	}
	return nil
}

// exit unregisters one active caller; the one-to-zero transition arms the
// linger timer.
func (c *Coordinator) exit() {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.active--
	c.msink.SetGaugeWithLabels(MetricActiveCallers, float32(c.active), c.cfg.metricLabels)
	if c.active == 0 && !c.closed {
		c.scheduleTeardownLocked()
	}
}

func (c *Coordinator) scheduleTeardownLocked() {
	if c.endpoint == nil {
		return
	}
	c.lingerGen++
	gen := c.lingerGen
	c.linger = c.clock.AfterFunc(c.cfg.lingerDelay, func() {
		c.teardownIdle(gen)
	})
}

func (c *Coordinator) teardownIdle(gen uint64) {
	c.lk.Lock()
	if c.closed || gen != c.lingerGen || c.active > 0 || c.endpoint == nil {
		c.lk.Unlock()
		return
	}
	ep := c.endpoint
	c.endpoint = nil
	c.linger = nil
	c.lk.Unlock()

	if err := ep.Close(); err != nil {
		c.logger.Warn("error closing idle endpoint",
			LabelError.L(err), LabelTarget.L(c.target))
	}
	c.msink.IncrCounterWithLabels(MetricEndpointTeardownCount, 1.0,
		append(c.cfg.metricLabels, LabelReason.M("idle")))
	c.logger.Debug("idle endpoint released", LabelTarget.L(c.target))
}

// resolve produces a live endpoint for one caller: the cached one when it
// is still alive, the in-flight establishment's outcome when one exists,
// or a brand-new establishment otherwise.
func (c *Coordinator) resolve(ctx context.Context) (RemoteEndpoint, error) {
	var dead RemoteEndpoint

	c.lk.Lock()
	if ep := c.endpoint; ep != nil {
		if ep.Alive() {
			c.lk.Unlock()
			c.msink.IncrCounterWithLabels(MetricEndpointReuseCount, 1.0, c.cfg.metricLabels)
			return ep, nil
		}
		// The peer went away between two uses; release the stale
		// handle and fall through to a fresh establishment.
		dead = ep
		c.endpoint = nil
	}

	att := c.pending
	if att == nil {
		att = c.startEstablishLocked()
	} else {
		c.msink.IncrCounterWithLabels(MetricEstablishJoinedCount, 1.0, c.cfg.metricLabels)
	}
	att.waiters++
	c.lk.Unlock()

	if dead != nil {
		c.msink.IncrCounterWithLabels(MetricEndpointDeadCount, 1.0, c.cfg.metricLabels)
		c.logger.Debug("cached endpoint is dead, re-establishing", LabelTarget.L(c.target))
		if err := dead.Close(); err != nil {
			c.logger.Warn("error closing dead endpoint",
				LabelError.L(err), LabelTarget.L(c.target))
		}
	}

	select {
	case <-att.doneCh:
		c.lk.Lock()
		att.waiters--
		closed := c.closed
		c.lk.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return att.ep, att.err
	case <-ctx.Done():
		c.abandon(att)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) startEstablishLocked() *establishment {
	ctx, cancel := context.WithCancel(context.Background())
	att := &establishment{
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	c.pending = att
	c.msink.IncrCounterWithLabels(MetricEstablishCount, 1.0, c.cfg.metricLabels)
	c.logger.Debug("starting establishment", LabelTarget.L(c.target))
	go c.establish(ctx, att)
	return att
}

// abandon withdraws one caller's interest in an in-flight establishment.
// The attempt is cancelled only when nobody else is waiting on it.
func (c *Coordinator) abandon(att *establishment) {
	c.lk.Lock()
	att.waiters--
	last := att.waiters == 0 && c.pending == att
	if last {
		att.abandoned = true
		c.pending = nil
	}
	c.lk.Unlock()

	if last {
		att.cancel()
		c.logger.Debug("establishment cancelled, no caller left", LabelTarget.L(c.target))
	}
}

func (c *Coordinator) establish(ctx context.Context, att *establishment) {
	start := c.clock.Now()

	// The establish timeout is a hard bound on the whole attempt, not
	// per waiter: when it expires the attempt ctx is cancelled and every
	// joined caller fails together.
	timer := c.clock.Timer(c.cfg.establishTimeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.C:
			att.timedOut.Store(true)
			att.cancel()
		case <-ctx.Done():
		}
	}()
	// Release the watchdog once the attempt is settled.
	defer att.cancel()

	ep, err := c.factory.Connect(ctx, c.target)
	if err == nil && ctx.Err() != nil {
		// The factory returned a handle even though the attempt was
		// cancelled underneath it; do not leak it.
		_ = ep.Close()
		ep, err = nil, ctx.Err()
	}

	var closeEp RemoteEndpoint

	c.lk.Lock()
	if c.pending == att {
		c.pending = nil
	}
	switch {
	case err == nil && c.closed:
		// Shutdown raced the establishment; the fresh endpoint must
		// not outlive the coordinator.
		closeEp = ep
		att.err = ErrClosed
	case err == nil && att.abandoned:
		closeEp = ep
		att.err = context.Canceled
	case err == nil:
		c.endpoint = ep
		att.ep = ep
		if c.active == 0 && c.linger == nil {
			// Every interested caller withdrew before the connect
			// resolved; arm the linger so the endpoint cannot leak.
			c.scheduleTeardownLocked()
		}
	case att.timedOut.Load():
		att.err = fmt.Errorf("%w: %w", ErrEstablishTimeout, err)
	case att.aborted.Load():
		att.err = ErrClosed
	default:
		att.err = fmt.Errorf("%w: %w", ErrEstablishFailed, err)
	}
	c.lk.Unlock()

	if closeEp != nil {
		_ = closeEp.Close()
	}

	if att.err != nil {
		c.msink.IncrCounterWithLabels(MetricEstablishErrorCount, 1.0, c.cfg.metricLabels)
		c.logger.Warn("establishment failed",
			LabelError.L(att.err), LabelTarget.L(c.target))
	} else {
		elapsed := c.clock.Since(start)
		c.msink.AddSampleWithLabels(MetricEstablishDuration,
			float32(elapsed.Milliseconds()), c.cfg.metricLabels)
		c.logger.Debug("endpoint established",
			LabelTarget.L(c.target), LabelDuration.L(elapsed))
	}

	close(att.doneCh)
}

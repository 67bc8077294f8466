// Package poller drives the periodic poll loop around a remote
// configuration client.
package poller

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"rcagent/internal/metrics"
)

// Requester is the single operation the poller needs from a client.
type Requester interface {
	Request() bool
	AppliedCount() int
}

// Poller runs a Requester on a fixed interval until its context is
// cancelled. The interval can be changed while running; the new value takes
// effect after the current tick.
type Poller struct {
	client   Requester
	interval atomic.Int64 // nanoseconds
	log      *slog.Logger
	metrics  *metrics.Metrics

	streak int
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Poller) { p.log = log }
}

// WithMetrics attaches poll-loop collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// New creates a poller. Intervals below one second are clamped up; the
// control plane is not built for sub-second polling.
func New(client Requester, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		client: client,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.SetInterval(interval)
	return p
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval updates the poll interval, clamping to a one second minimum.
func (p *Poller) SetInterval(d time.Duration) {
	if d < time.Second {
		d = time.Second
	}
	p.interval.Store(int64(d))
}

// Run polls immediately, then on every tick until ctx is cancelled. It
// blocks for the lifetime of the loop.
func (p *Poller) Run(ctx context.Context) {
	p.poll()

	timer := time.NewTimer(p.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.poll()
			timer.Reset(p.Interval())
		}
	}
}

// poll runs one cycle and updates the failure streak and metrics.
func (p *Poller) poll() {
	start := time.Now()
	ok := p.client.Request()
	elapsed := time.Since(start)

	if ok {
		p.streak = 0
	} else {
		p.streak++
		if p.streak > 1 {
			p.log.Debug("poll cycle failed", "streak", p.streak)
		}
	}
	p.metrics.ObservePoll(ok, elapsed.Seconds(), p.client.AppliedCount(), p.streak)
}

// FailureStreak returns the number of consecutive failed cycles. Only
// meaningful from the goroutine running the loop, or after Run returns.
func (p *Poller) FailureStreak() int { return p.streak }

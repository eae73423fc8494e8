// Package shutdown turns termination requests into a single flag that the
// dispatch loop checks between deliveries.
//
// A request never interrupts work in progress. The first call to
// [Coordinator.Request] (or the first signal seen by [Coordinator.Notify])
// sets the flag and closes [Coordinator.Done]; every later request is a
// no-op.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator records whether shutdown has been requested.
type Coordinator struct {
	requested atomic.Bool
	done      chan struct{}
	logger    *slog.Logger
}

// New returns a Coordinator with the flag clear.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sets the shutdown flag. It reports whether this call was the
// one that set it.
func (c *Coordinator) Request() bool {
	if !c.requested.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	return true
}

// Terminating reports whether shutdown has been requested.
func (c *Coordinator) Terminating() bool { return c.requested.Load() }

// Done returns a channel that is closed on the first request.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Context returns a copy of parent that is cancelled on the first request.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Notify requests shutdown when one of sigs arrives, SIGINT and SIGTERM if
// none are given. Signals after the first are logged and ignored. The
// returned function stops signal delivery.
func (c *Coordinator) Notify(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 4)
	quit := make(chan struct{})
	signal.Notify(sigCh, sigs...)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if c.Request() {
					c.logger.Info("shutdown requested, finishing current delivery",
						slog.String("signal", sig.String()),
					)
				} else {
					c.logger.Debug("shutdown already requested",
						slog.String("signal", sig.String()),
					)
				}
			case <-quit:
				return
			}
		}
	}()

	var stopped atomic.Bool
	return func() {
		if stopped.CompareAndSwap(false, true) {
			signal.Stop(sigCh)
			close(quit)
		}
	}
}

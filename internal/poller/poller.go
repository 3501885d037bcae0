// Package poller runs a function on a fixed interval with overlap protection
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/clock"
)

// TickFunc does one round of work. It should check Loop.Stopped before each
// side effect and drop results once the loop has been stopped.
type TickFunc func(ctx context.Context)

// Config holds loop settings
type Config struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs a tick immediately instead of waiting one interval
	RunOnStart bool
}

// Observer receives tick outcomes, typically a metrics sink
type Observer interface {
	ObserveTick(loop string, skipped bool)
}

// Loop is a started polling loop
type Loop struct {
	config   Config
	clock    clock.Clock
	logger   *zap.Logger
	tick     TickFunc
	observer Observer

	inFlight atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Start launches the loop goroutine. The loop ends when Stop is called or ctx is done.
func Start(ctx context.Context, cfg Config, clk clock.Clock, logger *zap.Logger, observer Observer, tick TickFunc) *Loop {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	l := &Loop{
		config:   cfg,
		clock:    clk,
		logger:   logger.With(zap.String("loop", cfg.Name)),
		tick:     tick,
		observer: observer,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	ticker := clk.NewTicker(cfg.Interval)
	go l.run(ctx, ticker)

	return l
}

func (l *Loop) run(ctx context.Context, ticker clock.Ticker) {
	defer close(l.done)
	defer ticker.Stop()

	l.logger.Debug("Polling loop started", zap.Duration("interval", l.config.Interval))

	if l.config.RunOnStart {
		l.Tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.stopCh:
			return
		case <-ticker.C():
			// a tick still running in another goroutine is skipped, not queued
			go l.Tick(ctx)
		}
	}
}

// Tick runs one round synchronously. It returns false when the round was
// skipped because the loop is stopped or a previous round is still in flight.
func (l *Loop) Tick(ctx context.Context) (ran bool) {
	if l.stopped.Load() {
		return false
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		l.logger.Debug("Previous tick still in flight, skipping")
		if l.observer != nil {
			l.observer.ObserveTick(l.config.Name, true)
		}
		return false
	}
	defer l.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic in polling tick", zap.Any("recover", r))
		}
	}()

	if l.observer != nil {
		l.observer.ObserveTick(l.config.Name, false)
	}
	ran = true
	l.tick(ctx)
	return ran
}

// Stop ends the loop. It is idempotent and does not wait for an in-flight tick.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.stopCh)
		l.logger.Debug("Polling loop stopped")
	})
}

// Stopped reports whether Stop has been called
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// InFlight reports whether a tick is currently running
func (l *Loop) InFlight() bool {
	return l.inFlight.Load()
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

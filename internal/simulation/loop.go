// Package simulation drives the authoritative fixed-step tick and keeps
// timing statistics for operators.
package simulation

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultMaxCatchUp bounds how many steps a single wake-up may run.
const DefaultMaxCatchUp = 5

// StepFunc advances the simulation by one fixed timestep.
type StepFunc func(tick uint32, step time.Duration)

// Loop drives a fixed timestep simulation at the configured tick rate.
type Loop struct {
	step       time.Duration
	stepFunc   StepFunc
	monitor    *TickMonitor
	maxCatchUp int

	tick    atomic.Uint32
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises loop construction.
type Option func(*Loop)

// WithMonitor records every step duration into monitor.
func WithMonitor(monitor *TickMonitor) Option {
	return func(l *Loop) { l.monitor = monitor }
}

// WithMaxCatchUp overrides how many steps may run back to back after a stall.
func WithMaxCatchUp(steps int) Option {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// NewLoop configures a loop that ticks tickRate times per second.
func NewLoop(tickRate int, step StepFunc, opts ...Option) *Loop {
	if tickRate <= 0 {
		tickRate = 30
	}
	if step == nil {
		step = func(uint32, time.Duration) {}
	}
	l := &Loop{
		step:       time.Second / time.Duration(tickRate),
		stepFunc:   step,
		maxCatchUp: DefaultMaxCatchUp,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil || l.running.Load() {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.running.Store(true)
	go func() {
		defer close(l.done)
		defer l.running.Store(false)
		ticker := time.NewTicker(l.step)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				ran := 0
				for accumulator >= l.step && ran < l.maxCatchUp {
					started := time.Now()
					l.stepFunc(l.tick.Load(), l.step)
					l.tick.Add(1)
					l.monitor.Observe(time.Since(started))
					accumulator -= l.step
					ran++
				}
				//2.- Drop whatever backlog is left so a long stall cannot spiral.
				if accumulator >= l.step {
					l.monitor.Skip(int(accumulator / l.step))
					accumulator %= l.step
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	return l != nil && l.running.Load()
}

// Tick returns the number of steps executed so far.
func (l *Loop) Tick() uint32 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

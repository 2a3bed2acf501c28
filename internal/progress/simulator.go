// Package progress drives the simulated upload progress bar. A goroutine
// ticks a counter towards a cap until the real request resolves; it never
// reaches 100 on its own.
package progress

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultStep     = 10
	DefaultCap      = 90
)

// Simulator holds the tick parameters shared by every run.
type Simulator struct {
	Interval time.Duration
	Step     int
	Cap      int
}

// New builds a Simulator, falling back to defaults for non-positive values.
func New(interval time.Duration, step, limit int) Simulator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if step <= 0 {
		step = DefaultStep
	}
	if limit <= 0 || limit >= 100 {
		limit = DefaultCap
	}
	return Simulator{Interval: interval, Step: step, Cap: limit}
}

// Run is the handle of one running simulation.
type Run struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start launches the ticker. tick receives the next value each interval while
// it is below the cap; once the cap is reached ticks do nothing.
func (s Simulator) Start(tick func(next int)) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{cancel: cancel, done: make(chan struct{})}
	go s.loop(ctx, r.done, tick)
	return r
}

// Stop cancels the ticker and waits for the goroutine to exit, so no tick is
// delivered after Stop returns. Safe to call more than once.
func (r *Run) Stop() {
	r.once.Do(r.cancel)
	<-r.done
}

func (s Simulator) loop(ctx context.Context, done chan<- struct{}, tick func(int)) {
	defer close(done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	current := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if current >= s.Cap {
				continue
			}
			current += s.Step
			if current > s.Cap {
				current = s.Cap
			}
			// A tick racing with Stop is dropped.
			if ctx.Err() != nil {
				return
			}
			tick(current)
		}
	}
}

package progress

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSimulatorStopsAtCap(t *testing.T) {
	sim := New(time.Millisecond, 10, 90)
	var (
		mu     sync.Mutex
		values []int
	)
	run := sim.Start(func(next int) {
		mu.Lock()
		values = append(values, next)
		mu.Unlock()
	})
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(values)
		last := 0
		if n > 0 {
			last = values[n-1]
		}
		mu.Unlock()
		if last == 90 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	// Let a few more intervals pass; nothing must exceed the cap.
	time.Sleep(20 * time.Millisecond)
	run.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(values) != 9 {
		t.Fatalf("expected 9 ticks up to the cap, got %v", values)
	}
	for i, v := range values {
		if v != (i+1)*10 {
			t.Fatalf("tick %d: expected %d, got %d", i, (i+1)*10, v)
		}
	}
}

func TestStopIsFinal(t *testing.T) {
	sim := New(time.Millisecond, 1, 99)
	var (
		mu      sync.Mutex
		stopped bool
		late    bool
	)
	run := sim.Start(func(int) {
		mu.Lock()
		if stopped {
			late = true
		}
		mu.Unlock()
	})
	time.Sleep(5 * time.Millisecond)
	run.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	run.Stop()

	mu.Lock()
	defer mu.Unlock()
	if late {
		t.Fatalf("tick delivered after Stop returned")
	}
}

func TestNewDefaults(t *testing.T) {
	sim := New(0, 0, 150)
	if sim.Interval != DefaultInterval || sim.Step != DefaultStep || sim.Cap != DefaultCap {
		t.Fatalf("unexpected defaults: %+v", sim)
	}
}

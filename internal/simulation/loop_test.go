package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastTargetTicks(t *testing.T) {
	var ticks int32
	monitor := NewTickMonitor(time.Second / 60)
	loop := NewLoop(60, func(uint32, time.Duration) {
		atomic.AddInt32(&ticks, 1)
	}, WithMonitor(monitor))
	loop.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	if !loop.Running() {
		t.Fatalf("expected loop to be running")
	}
	loop.Stop()
	if loop.Running() {
		t.Fatalf("expected loop to stop")
	}
	got := atomic.LoadInt32(&ticks)
	if got == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	if loop.Tick() != uint32(got) {
		t.Fatalf("tick counter %d does not match %d steps", loop.Tick(), got)
	}
}

func TestLoopPassesIncreasingTicks(t *testing.T) {
	seen := make(chan uint32, 64)
	loop := NewLoop(100, func(tick uint32, _ time.Duration) {
		select {
		case seen <- tick:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	loop.Stop()
	close(seen)
	want := uint32(0)
	for tick := range seen {
		if tick != want {
			t.Fatalf("expected tick %d, got %d", want, tick)
		}
		want++
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(120, nil)
	if step := loop.StepDuration(); step != time.Second/120 {
		t.Fatalf("unexpected step duration %v", step)
	}
	if NewLoop(0, nil).StepDuration() != time.Second/30 {
		t.Fatalf("expected default tick rate of 30")
	}
}

func TestTickMonitorAggregates(t *testing.T) {
	monitor := NewTickMonitor(10 * time.Millisecond)
	monitor.Observe(4 * time.Millisecond)
	monitor.Observe(12 * time.Millisecond)
	monitor.Observe(0)
	monitor.Skip(3)
	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Average != 8*time.Millisecond {
		t.Fatalf("unexpected averages %+v", snap)
	}
	if snap.Max != 12*time.Millisecond || snap.Last != 12*time.Millisecond {
		t.Fatalf("unexpected max/last %+v", snap)
	}
	if snap.Overruns != 1 || snap.Skipped != 3 {
		t.Fatalf("unexpected overrun accounting %+v", snap)
	}
	if fps := snap.AverageFPS(); fps != 125 {
		t.Fatalf("expected 125 fps, got %v", fps)
	}
	monitor.Reset()
	if monitor.Snapshot() != (TickMetricsSnapshot{}) {
		t.Fatalf("expected reset to clear statistics")
	}
}

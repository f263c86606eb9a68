package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Fires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	if err := s.Schedule("pump", 10*time.Millisecond, func() { fired.Add(1) }); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, ok := s.Pending("pump"); !ok {
		t.Error("Pending() = false right after Schedule")
	}

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
	if _, ok := s.Pending("pump"); ok {
		t.Error("Pending() = true after firing")
	}
}

func TestScheduler_ScheduleReplaces(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Bool
	_ = s.Schedule("pump", 20*time.Millisecond, func() { first.Store(true) })
	_ = s.Schedule("pump", 40*time.Millisecond, func() { second.Store(true) })

	waitFor(t, time.Second, second.Load)
	if first.Load() {
		t.Error("replaced callback ran")
	}
}

func TestScheduler_AddKeepsBoth(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	_ = s.Add("pump", 10*time.Millisecond, func() { fired.Add(1) })
	_ = s.Add("pump", 30*time.Millisecond, func() { fired.Add(1) })

	due, ok := s.Pending("pump")
	if !ok || time.Until(due) > 15*time.Millisecond {
		t.Errorf("Pending() = %v, %v; want the earlier entry", due, ok)
	}

	waitFor(t, time.Second, func() bool { return fired.Load() == 2 })
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Bool
	_ = s.Add("pump", 20*time.Millisecond, func() { fired.Store(true) })
	_ = s.Add("pump", 20*time.Millisecond, func() { fired.Store(true) })
	_ = s.Add("other", time.Hour, func() {})

	if n := s.Cancel("pump"); n != 2 {
		t.Errorf("Cancel() = %d, want 2", n)
	}
	if _, ok := s.Pending("other"); !ok {
		t.Error("Cancel removed an unrelated key")
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled callback ran")
	}
}

func TestScheduler_StopWaitsAndRejects(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	var finished atomic.Bool
	_ = s.Schedule("pump", time.Millisecond, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	s.Stop()
	if !finished.Load() {
		t.Error("Stop() returned before the running callback finished")
	}
	if err := s.Schedule("pump", time.Millisecond, func() {}); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Schedule() after Stop error = %v, want ErrSchedulerStopped", err)
	}
	if !s.Stopped() {
		t.Error("Stopped() = false")
	}
}

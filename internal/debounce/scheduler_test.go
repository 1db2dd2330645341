package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestScheduleFiresOnce(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("suggest", 5*time.Millisecond, func() { fired.Add(1) })

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("callback fired %d times", fired.Load())
	}
}

func TestRescheduleCancelsPrevious(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("suggest", 10*time.Millisecond, func() { first.Add(1) })
	s.Schedule("suggest", 10*time.Millisecond, func() { second.Add(1) })

	waitFor(t, time.Second, func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Fatalf("superseded callback must never fire")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var suggest, editing atomic.Int32
	s.Schedule("suggest", 5*time.Millisecond, func() { suggest.Add(1) })
	s.Schedule("editing", 5*time.Millisecond, func() { editing.Add(1) })

	waitFor(t, time.Second, func() bool { return suggest.Load() == 1 && editing.Load() == 1 })
}

func TestCancelDropsPending(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("suggest", 10*time.Millisecond, func() { fired.Add(1) })
	if !s.Cancel("suggest") {
		t.Fatalf("expected a pending callback to cancel")
	}
	if s.Cancel("suggest") {
		t.Fatalf("second cancel must report nothing pending")
	}

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("cancelled callback fired")
	}
}

func TestPending(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if s.Pending("suggest") {
		t.Fatalf("fresh scheduler has nothing pending")
	}
	s.Schedule("suggest", time.Hour, func() {})
	if !s.Pending("suggest") {
		t.Fatalf("expected pending callback")
	}
}

func TestStopRefusesFurtherScheduling(t *testing.T) {
	s := NewScheduler()

	var fired atomic.Int32
	s.Schedule("suggest", 10*time.Millisecond, func() { fired.Add(1) })
	s.Stop()

	if seq := s.Schedule("suggest", time.Millisecond, func() { fired.Add(1) }); seq != 0 {
		t.Fatalf("stopped scheduler must refuse new work")
	}
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("callbacks fired after stop")
	}
}

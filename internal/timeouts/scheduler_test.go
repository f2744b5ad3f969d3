package timeouts

import (
	"context"
	"sync"
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
	t.Fatal("condition not met before timeout")
}

func TestStart_FiresOnce(t *testing.T) {
	var fired atomic.Int32
	var gotID atomic.Value
	s := NewScheduler(func(ctx context.Context, id string) {
		fired.Add(1)
		gotID.Store(id)
	}, nil)
	defer s.Stop()

	h := s.Start("g1:u1", 10*time.Millisecond)
	if h == nil {
		t.Fatal("expected handle")
	}
	waitFor(t, time.Second, func() bool { return fired.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	if fired.Load() != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired.Load())
	}
	if gotID.Load().(string) != "g1:u1" {
		t.Fatalf("unexpected id %v", gotID.Load())
	}
	if h.State() != StateFired {
		t.Fatalf("expected fired state, got %s", h.State())
	}
	if h.Cancel() {
		t.Fatal("cancel after fire must report false")
	}
	if s.Armed() != 0 {
		t.Fatalf("expected no armed countdowns, got %d", s.Armed())
	}
}

func TestStart_NonPositiveDisables(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, id string) {
		t.Error("callback must not run")
	}, nil)
	defer s.Stop()

	if h := s.Start("g1:u1", 0); h != nil {
		t.Fatal("expected nil handle for zero duration")
	}
	if h := s.Start("g1:u1", -time.Second); h != nil {
		t.Fatal("expected nil handle for negative duration")
	}
	var nilHandle *Handle
	if nilHandle.Cancel() {
		t.Fatal("nil handle cancel must report false")
	}
}

func TestCancel_BeforeExpiry(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(func(ctx context.Context, id string) { fired.Add(1) }, nil)
	defer s.Stop()

	h := s.Start("g1:u1", 30*time.Millisecond)
	if !h.Cancel() {
		t.Fatal("expected cancel to win")
	}
	if h.Cancel() {
		t.Fatal("second cancel must report false")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled countdown fired")
	}
	if h.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", h.State())
	}
}

func TestCancel_RacingExpiry(t *testing.T) {
	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		s := NewScheduler(func(ctx context.Context, id string) { fired.Add(1) }, nil)
		h := s.Start("g1:u1", time.Millisecond)

		time.Sleep(time.Millisecond)
		cancelled := h.Cancel()
		s.Stop()

		if cancelled && fired.Load() != 0 {
			t.Fatalf("iteration %d: cancel reported success but callback ran", i)
		}
		if !cancelled && h.State() != StateFired {
			t.Fatalf("iteration %d: cancel lost but state is %s", i, h.State())
		}
	}
}

func TestStop_CancelsArmedAndWaits(t *testing.T) {
	release := make(chan struct{})
	var started, finished atomic.Int32
	s := NewScheduler(func(ctx context.Context, id string) {
		if id == "slow" {
			started.Add(1)
			<-release
			finished.Add(1)
			return
		}
		t.Errorf("unexpected firing for %s", id)
	}, nil)

	s.Start("slow", time.Millisecond)
	late := s.Start("late", time.Hour)
	waitFor(t, time.Second, func() bool { return started.Load() == 1 })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Stop()
	}()
	time.Sleep(10 * time.Millisecond)
	if finished.Load() != 0 {
		t.Fatal("callback finished before release")
	}
	close(release)
	wg.Wait()

	if finished.Load() != 1 {
		t.Fatal("Stop returned before running callback finished")
	}
	if late.State() != StateCancelled {
		t.Fatalf("expected armed countdown cancelled on stop, got %s", late.State())
	}
	if h := s.Start("after-stop", time.Millisecond); h != nil {
		t.Fatal("expected no new countdowns after Stop")
	}
}

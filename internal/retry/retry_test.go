package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(result.History) != 1 || result.History[0].Err != nil {
		t.Errorf("unexpected history: %+v", result.History)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if len(result.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(result.History))
	}
	if result.History[0].Err == nil || result.History[2].Err != nil {
		t.Errorf("unexpected history errors: %+v", result.History)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("always fails")
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if result.Attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got attempts=%d calls=%d", result.Attempts, calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	sentinel := errors.New("wrong identifier")
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(sentinel)
	})

	if !errors.Is(result.Err, sentinel) {
		t.Errorf("expected sentinel error, got %v", result.Err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for permanent), got %d", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	config := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	result := Do(ctx, config, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
	if calls >= 5 {
		t.Errorf("expected fewer than 5 calls due to cancellation, got %d", calls)
	}
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	config := fastConfig(2)
	config.AttemptTimeout = 5 * time.Millisecond

	calls := 0
	result := Do(context.Background(), config, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	if result.Err != nil {
		t.Fatalf("expected success on second attempt, got %v", result.Err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	var timeoutErr *TimeoutError
	if !errors.As(result.History[0].Err, &timeoutErr) {
		t.Fatalf("expected first attempt to record a TimeoutError, got %v", result.History[0].Err)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should return nil")
	}
	if IsPermanent(errors.New("x")) {
		t.Error("plain error should not be permanent")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		got := Backoff(tt.attempt, 100*time.Millisecond, time.Second, 2)
		if got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffWithJitter_Range(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := BackoffWithJitter(2, 100*time.Millisecond, time.Second, 2)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}

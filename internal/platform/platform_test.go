package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/joingate/internal/resolver"
	"github.com/haasonsaas/joingate/internal/retry"
)

func TestError_MatchesResolverSentinels(t *testing.T) {
	invalid := NewError("onebot", ErrCodeInvalidIdentifier, "flag not found", nil)
	handled := NewError("onebot", ErrCodeAlreadyHandled, "already processed", nil)
	transient := NewError("onebot", ErrCodeTimeout, "no reply", context.DeadlineExceeded)

	if !errors.Is(invalid, resolver.ErrInvalidIdentifier) || errors.Is(invalid, resolver.ErrAlreadyDecided) {
		t.Error("invalid identifier code should match only ErrInvalidIdentifier")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", handled), resolver.ErrAlreadyDecided) {
		t.Error("wrapped already-handled error should match ErrAlreadyDecided")
	}
	if resolver.Classify(transient) != resolver.OutcomeTransient {
		t.Error("timeout should classify as transient")
	}
	if !errors.Is(transient, context.DeadlineExceeded) {
		t.Error("Unwrap should expose the cause")
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeConnection, true},
		{ErrCodeRateLimit, true},
		{ErrCodeTimeout, true},
		{ErrCodeUnavailable, true},
		{ErrCodeAuthentication, false},
		{ErrCodeInvalidIdentifier, false},
		{ErrCodeAlreadyHandled, false},
		{ErrCodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := NewError("x", tt.code, "m", nil).IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(fmt.Errorf("x: %w", NewError("t", ErrCodeRateLimit, "slow down", nil))); got != ErrCodeRateLimit {
		t.Errorf("got %s", got)
	}
	if got := GetErrorCode(context.DeadlineExceeded); got != ErrCodeTimeout {
		t.Errorf("got %s", got)
	}
	if got := GetErrorCode(errors.New("boom")); got != ErrCodeInternal {
		t.Errorf("got %s", got)
	}
}

func fastReconnector() *Reconnector {
	return &Reconnector{Config: ReconnectConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Factor:       2,
	}}
}

func TestReconnector_StopsAfterMaxAttempts(t *testing.T) {
	r := fastReconnector()
	failures := 0
	r.OnFailure = func(error) { failures++ }

	calls := 0
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("dial failed")
	})
	if err == nil || calls != 3 || failures != 3 {
		t.Fatalf("err=%v calls=%d failures=%d", err, calls, failures)
	}
}

func TestReconnector_PermanentErrorStops(t *testing.T) {
	r := fastReconnector()
	calls := 0
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return retry.Permanent(errors.New("bad token"))
	})
	if !retry.IsPermanent(err) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestReconnector_CleanSessionResetsAttempts(t *testing.T) {
	r := fastReconnector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := r.Run(ctx, func(context.Context) error {
		calls++
		switch {
		case calls == 6:
			cancel()
			return nil
		case calls%2 == 0:
			return nil
		default:
			return errors.New("dropped")
		}
	})
	if !errors.Is(err, context.Canceled) || calls != 6 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

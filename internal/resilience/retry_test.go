package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	p := Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
	return p
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultPolicy(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_FailsNThenSucceeds(t *testing.T) {
	for _, n := range []int{0, 1, 2, 4} {
		var calls int
		val, err := DoVal(context.Background(), fastPolicy(n+1), func(_ context.Context) (string, error) {
			calls++
			if calls <= n {
				return "", NewTransientError(errors.New("busy"), 503)
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if val != "ok" {
			t.Errorf("n=%d: expected ok, got %q", n, val)
		}
		if calls != n+1 {
			t.Errorf("n=%d: expected %d calls, got %d", n, n+1, calls)
		}
	}
}

func TestDoVal_ExhaustedReturnsLastError(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastPolicy(3), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("attempt failed"), 500+calls)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 503 {
		t.Errorf("expected last error (status 503), got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	var calls int
	permanent := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(_ context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected error to be returned unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_CustomPredicate(t *testing.T) {
	var calls int
	p := fastPolicy(3).With(RetryStatuses(403, 404), nil)
	err := Do(context.Background(), p, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{URL: "https://example.gov", StatusCode: 403}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(5)
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	var calls int
	err := Do(ctx, p, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("busy"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_OnRetryAndSleepDurations(t *testing.T) {
	p := Policy{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		Multiplier:     2.0,
	}
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	var attempts []int
	p.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), p, func(_ context.Context) error {
		return NewTransientError(errors.New("busy"), 502)
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(slept))
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("unexpected OnRetry attempts: %v", attempts)
	}
}

func TestBackoff_JitterIsAdditive(t *testing.T) {
	p := Policy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	}
	for i := 0; i < 200; i++ {
		d := p.Backoff(1)
		if d < 200*time.Millisecond || d >= 300*time.Millisecond {
			t.Fatalf("backoff %v outside [200ms, 300ms)", d)
		}
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0, -1)
	d := DefaultPolicy()
	if p.MaxAttempts != d.MaxAttempts || p.InitialBackoff != d.InitialBackoff ||
		p.MaxBackoff != d.MaxBackoff || p.Multiplier != d.Multiplier {
		t.Errorf("expected defaults, got %+v", p)
	}

	p = NewPolicy(5, 200, 4000, 3, 0)
	if p.MaxAttempts != 5 || p.InitialBackoff != 200*time.Millisecond ||
		p.MaxBackoff != 4*time.Second || p.Multiplier != 3 || p.JitterFraction != 0 {
		t.Errorf("unexpected policy: %+v", p)
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func fastPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Do = %v, %v; want 42, nil", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Errorf("err = %v, want wrapped errFlaky", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_BackoffDoubles(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
	var stamps []time.Time
	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		stamps = append(stamps, time.Now())
		return 0, errFlaky
	})
	if len(stamps) != 3 {
		t.Fatalf("got %d attempts", len(stamps))
	}
	first, second := stamps[1].Sub(stamps[0]), stamps[2].Sub(stamps[1])
	if first < 20*time.Millisecond || second < 40*time.Millisecond {
		t.Errorf("waits = %v, %v; want >= 20ms, >= 40ms", first, second)
	}
}

func TestDo_NonRetryable(t *testing.T) {
	permanent := errors.New("invalid symbol")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("err = %v after %d calls; want permanent after 1", err, calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, errFlaky
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not observe cancellation")
	}
}

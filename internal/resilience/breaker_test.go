package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errUnavailable = status.Error(codes.Unavailable, "model server down")

func testBreaker(threshold, halfOpen int, reset time.Duration) (*Breaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := New(Config{
		Name:              "test",
		Threshold:         threshold,
		ResetTimeout:      reset,
		HalfOpenSuccesses: halfOpen,
		Logger:            slog.New(slog.DiscardHandler),
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerInitialState(t *testing.T) {
	b := New(DefaultConfig("vision"))
	if b.State() != Closed {
		t.Errorf("initial state = %v, want Closed", b.State())
	}
	if b.Name() != "vision" {
		t.Errorf("Name() = %q, want vision", b.Name())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3, 2, time.Hour)
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenCycle(t *testing.T) {
	b, now := testBreaker(1, 2, time.Second)
	b.Failure()

	*now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil after reset timeout", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}

	b.Success()
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want HalfOpen after one probe", b.State())
	}
	b.Success()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, now := testBreaker(1, 3, time.Second)
	b.Failure()
	*now = now.Add(2 * time.Second)
	_ = b.Allow()

	b.Failure()
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerRecordIgnoresCallerErrors(t *testing.T) {
	b, _ := testBreaker(1, 1, time.Hour)

	b.Record(status.Error(codes.InvalidArgument, "bad frame"))
	b.Record(context.Canceled)
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed for caller errors", b.State())
	}

	b.Record(errUnavailable)
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b, _ := testBreaker(3, 1, time.Hour)
	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := testBreaker(1, 1, time.Hour)
	b.Failure()
	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestCall(t *testing.T) {
	b, _ := testBreaker(1, 1, time.Hour)

	got, err := Call(context.Background(), b, func(context.Context) (float32, error) { return 0.7, nil })
	if err != nil || got != 0.7 {
		t.Errorf("Call() = (%v, %v), want (0.7, nil)", got, err)
	}

	_, err = Call(context.Background(), b, func(context.Context) (float32, error) { return 0.9, errUnavailable })
	if !errors.Is(err, errUnavailable) {
		t.Errorf("Call() error = %v, want %v", err, errUnavailable)
	}

	called := false
	_, err = Call(context.Background(), b, func(context.Context) (float32, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("Call() on open breaker = %v (called=%v), want ErrOpen without calling", err, called)
	}
}

func TestBreakerOnTransition(t *testing.T) {
	type change struct {
		name     string
		from, to State
	}
	var got []change
	b, now := testBreaker(1, 1, time.Second)
	b.OnTransition(func(name string, from, to State) {
		got = append(got, change{name, from, to})
	})

	b.Failure()
	*now = now.Add(2 * time.Second)
	_ = b.Allow()
	b.Success()

	want := []change{{"test", Closed, Open}, {"test", Open, HalfOpen}, {"test", HalfOpen, Closed}}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBreakerConcurrentSafety(t *testing.T) {
	b := New(Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10, Logger: slog.New(slog.DiscardHandler)})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Allow()
			if i%2 == 0 {
				b.Success()
			} else {
				b.Failure()
			}
		}()
	}
	wg.Wait()
	_ = b.State()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Threshold != DefaultThreshold || cfg.ResetTimeout != DefaultResetTimeout || cfg.HalfOpenSuccesses != DefaultHalfOpenSuccesses {
		t.Errorf("withDefaults() = %+v", cfg)
	}
	if cfg.Counts == nil || cfg.Logger == nil {
		t.Error("Counts and Logger should be defaulted")
	}

	inf := InferenceConfig("voice")
	if inf.Threshold != InferenceThreshold || inf.ResetTimeout != InferenceResetTimeout {
		t.Errorf("InferenceConfig() = %+v", inf)
	}
}

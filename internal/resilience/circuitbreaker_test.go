package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock drives the breaker's notion of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail(context.Context) error { return errTest }
func ok(context.Context) error   { return nil }

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for range n {
		if err := cb.Execute(context.Background(), fail); !errors.Is(err, errTest) {
			t.Fatalf("expected errTest while tripping, got %v", err)
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("Name() = %q, want test", cb.Name())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 3})
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 3})
	trip(t, cb, 3)

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
	if got := err.Error(); got != "stt: circuit breaker is open" {
		t.Errorf("error text = %q", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 3})
	trip(t, cb, 2)
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	trip(t, cb, 2)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after cancelled call", cb.State())
	}
}

func TestCircuitBreaker_OpenToHalfOpen(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Minute})
	trip(t, cb, 1)

	clk.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open before timeout", cb.State())
	}
	clk.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	trip(t, cb, 1)
	clk.Advance(time.Second)

	for i := range 2 {
		if err := cb.Execute(context.Background(), ok); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Second})
	trip(t, cb, 1)
	clk.Advance(time.Second)

	if err := cb.Execute(context.Background(), fail); !errors.Is(err, errTest) {
		t.Fatalf("expected probe error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen right after re-open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	trip(t, cb, 1)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1})
	trip(t, cb, 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	type change struct{ from, to State }
	var (
		mu      sync.Mutex
		changes []change
	)
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			if name != "llm" {
				t.Errorf("name = %q", name)
			}
			mu.Lock()
			changes = append(changes, change{from, to})
			mu.Unlock()
		},
	})
	trip(t, cb, 1)
	clk.Advance(time.Second)
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatal(err)
	}

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_Check(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1})
	if err := cb.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker Check: %v", err)
	}
	trip(t, cb, 1)
	if err := cb.Check(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker Check: got %v", err)
	}
}

func TestCall(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "stt", MaxFailures: 1})

	got, err := Call(context.Background(), cb, func(context.Context) (string, error) {
		return "hello", nil
	})
	if err != nil || got != "hello" {
		t.Fatalf("Call = %q, %v", got, err)
	}

	got, err = Call(context.Background(), cb, func(context.Context) (string, error) {
		return "partial", errTest
	})
	if !errors.Is(err, errTest) || got != "" {
		t.Fatalf("Call on failure = %q, %v; want zero value and errTest", got, err)
	}

	_, err = Call(context.Background(), cb, func(context.Context) (string, error) {
		t.Error("fn must not run while open")
		return "", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

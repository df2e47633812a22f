package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stock-tracker/models"
)

func testBreakerSettings() BreakerSettings {
	return BreakerSettings{
		HalfOpenProbes: 1,
		CountWindow:    time.Minute,
		OpenFor:        20 * time.Millisecond,
		MinRequests:    4,
		FailureRatio:   0.5,
	}
}

func outage() (any, error) {
	return nil, fmt.Errorf("%w: connection refused", models.ErrFeedUnavailable)
}

func TestFeedFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", models.ErrFeedUnavailable, true},
		{"wrapped unavailable", fmt.Errorf("fetch: %w", models.ErrFeedUnavailable), true},
		{"empty", fmt.Errorf("%w: Invalid API call", models.ErrFeedEmpty), false},
		{"malformed", models.ErrMalformedFeedPayload, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := feedFailure(tt.err); got != tt.want {
				t.Errorf("feedFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreakerRegistry_ReusesBreakerPerName(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())

	if registry.breaker(BreakerAlphaVantage) != registry.breaker(BreakerAlphaVantage) {
		t.Error("expected the same breaker for the same name")
	}
	if registry.breaker(BreakerAlphaVantage) == registry.breaker("other-feed") {
		t.Error("expected a separate breaker per name")
	}
}

func TestBreakerRegistry_Execute(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()

	result, err := registry.Execute(ctx, BreakerAlphaVantage, func() (any, error) {
		return "bars", nil
	})
	if err != nil || result != "bars" {
		t.Errorf("Execute() = %v, %v, want bars, nil", result, err)
	}

	_, err = registry.Execute(ctx, BreakerAlphaVantage, outage)
	if !errors.Is(err, models.ErrFeedUnavailable) {
		t.Errorf("Execute() error = %v, want the call's own error", err)
	}
}

func TestBreakerRegistry_CanceledContextSkipsCall(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := registry.Execute(ctx, BreakerAlphaVantage, func() (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("call should not run with a canceled context")
	}
	if len(registry.Status()) != 0 {
		t.Error("a skipped call should not create a breaker")
	}
}

func TestBreakerRegistry_TripsOnOutages(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		registry.Execute(ctx, BreakerAlphaVantage, outage)
	}
	if !registry.AnyOpen() {
		t.Fatal("expected breaker to open after 4 outages")
	}

	called := false
	_, err := registry.Execute(ctx, BreakerAlphaVantage, func() (any, error) {
		called = true
		return nil, nil
	})
	if called {
		t.Error("open breaker should not run the call")
	}
	if !errors.Is(err, models.ErrFeedUnavailable) {
		t.Errorf("Execute() error = %v, want ErrFeedUnavailable", err)
	}
}

func TestBreakerRegistry_RatioBelowThresholdStaysClosed(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()

	ok := func() (any, error) { return nil, nil }
	for _, fn := range []func() (any, error){ok, ok, ok, outage} {
		registry.Execute(ctx, BreakerAlphaVantage, fn)
	}
	if registry.AnyOpen() {
		t.Error("one failure in four requests should not trip")
	}
}

func TestBreakerRegistry_EmptyAndMalformedDoNotTrip(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		kind := models.ErrFeedEmpty
		if i%2 == 1 {
			kind = models.ErrMalformedFeedPayload
		}
		_, err := registry.Execute(ctx, BreakerAlphaVantage, func() (any, error) {
			return nil, fmt.Errorf("%w: IBM", kind)
		})
		if !errors.Is(err, kind) {
			t.Fatalf("Execute() error = %v, want %v", err, kind)
		}
	}

	status := registry.Status()
	if len(status) != 1 || status[0].State != "closed" || status[0].Failures != 0 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestBreakerRegistry_HalfOpenRecovers(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		registry.Execute(ctx, BreakerAlphaVantage, outage)
	}
	time.Sleep(40 * time.Millisecond)

	if got := registry.Status()[0].State; got != "half-open" {
		t.Fatalf("state = %s, want half-open", got)
	}
	if _, err := registry.Execute(ctx, BreakerAlphaVantage, func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := registry.Status()[0].State; got != "closed" {
		t.Errorf("state = %s, want closed after a successful probe", got)
	}
}

func TestBreakerRegistry_StatusSortedAndJSON(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	ctx := context.Background()
	for _, name := range []string{"zeta", BreakerAlphaVantage, "mid"} {
		registry.Execute(ctx, name, outage)
	}

	status := registry.Status()
	names := []string{status[0].Name, status[1].Name, status[2].Name}
	if names[0] != BreakerAlphaVantage || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("Status() order = %v", names)
	}

	data, err := json.Marshal(status[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	for _, key := range []string{"name", "state", "requests", "failures", "consecutive_failures"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing JSON key %q in %s", key, data)
		}
	}
	if decoded["failures"] != float64(1) {
		t.Errorf("failures = %v, want 1", decoded["failures"])
	}
}

func TestWithCircuitBreaker_TypedResult(t *testing.T) {
	SetBreakers(NewBreakerRegistry(testBreakerSettings()))
	t.Cleanup(func() { SetBreakers(nil) })

	bars, err := WithCircuitBreaker(context.Background(), BreakerAlphaVantage, func() ([]models.PriceBar, error) {
		return []models.PriceBar{{}, {}}, nil
	})
	if err != nil || len(bars) != 2 {
		t.Errorf("WithCircuitBreaker() = %d bars, %v", len(bars), err)
	}

	bars, err = WithCircuitBreaker(context.Background(), BreakerAlphaVantage, func() ([]models.PriceBar, error) {
		return nil, models.ErrFeedUnavailable
	})
	if bars != nil || !errors.Is(err, models.ErrFeedUnavailable) {
		t.Errorf("WithCircuitBreaker() = %v, %v, want nil, ErrFeedUnavailable", bars, err)
	}
}

func TestBreakers_SharedAndReplaceable(t *testing.T) {
	SetBreakers(nil)
	first := Breakers()
	if first == nil || Breakers() != first {
		t.Fatal("expected a lazily created shared registry")
	}

	custom := NewBreakerRegistry(testBreakerSettings())
	SetBreakers(custom)
	t.Cleanup(func() { SetBreakers(nil) })
	if Breakers() != custom {
		t.Error("SetBreakers should replace the shared registry")
	}
}

func TestBreakerRegistry_Concurrent(t *testing.T) {
	registry := NewBreakerRegistry(DefaultBreakerSettings)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("feed-%d", i%5)
			registry.Execute(ctx, name, func() (any, error) { return i, nil })
		}(i)
	}
	wg.Wait()

	status := registry.Status()
	if len(status) != 5 {
		t.Fatalf("len(Status()) = %d, want 5", len(status))
	}
	var total uint32
	for _, s := range status {
		total += s.Requests
	}
	if total != 50 {
		t.Errorf("total requests = %d, want 50", total)
	}
}

func TestBreakerStateValue(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerSettings())
	cb := registry.breaker(BreakerAlphaVantage)
	if got := breakerStateValue(cb.State()); got != 0 {
		t.Errorf("breakerStateValue(closed) = %d, want 0", got)
	}
}

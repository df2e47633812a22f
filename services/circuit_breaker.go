package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"stock-tracker/models"
	"stock-tracker/observability"
)

// BreakerAlphaVantage names the circuit breaker guarding the price feed
const BreakerAlphaVantage = "alphavantage"

// BreakerSettings tunes the breakers that guard external feeds
type BreakerSettings struct {
	HalfOpenProbes uint32        // calls let through while half-open
	CountWindow    time.Duration // closed-state period after which counts reset
	OpenFor        time.Duration // how long an open breaker rejects calls
	MinRequests    uint32        // requests in the window before the ratio is judged
	FailureRatio   float64       // share of failures that trips the breaker
}

// DefaultBreakerSettings is used by the shared registry
var DefaultBreakerSettings = BreakerSettings{
	HalfOpenProbes: 1,
	CountWindow:    time.Minute,
	OpenFor:        30 * time.Second,
	MinRequests:    5,
	FailureRatio:   0.5,
}

// feedFailure reports whether err means the feed is down. An empty or
// malformed answer still proves the feed is reachable.
func feedFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, models.ErrFeedEmpty) && !errors.Is(err, models.ErrMalformedFeedPayload)
}

// BreakerRegistry holds one circuit breaker per named feed
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	settings BreakerSettings
}

// NewBreakerRegistry creates an empty registry
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		settings: settings,
	}
}

func (r *BreakerRegistry) breaker(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	s := r.settings
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:         name,
		MaxRequests:  s.HalfOpenProbes,
		Interval:     s.CountWindow,
		Timeout:      s.OpenFor,
		IsSuccessful: func(err error) bool { return !feedFailure(err) },
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: onBreakerStateChange,
	})
	r.breakers[name] = cb
	return cb
}

func onBreakerStateChange(name string, from, to gobreaker.State) {
	observability.Warn("feed circuit breaker changed state",
		"breaker", name,
		"from", from.String(),
		"to", to.String())

	metrics := observability.GetMetrics()
	metrics.SetCircuitBreakerState(name, breakerStateValue(to))
	if to == gobreaker.StateOpen {
		metrics.RecordCircuitBreakerTrip(name)
	}
}

// Execute runs fn through the named breaker. A rejected call fails with
// ErrFeedUnavailable so callers retry it like any other outage.
func (r *BreakerRegistry) Execute(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := r.breaker(name).Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		observability.Warn("feed circuit breaker open, rejecting request", "breaker", name)
		return nil, fmt.Errorf("%w: %s circuit breaker open", models.ErrFeedUnavailable, name)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %s circuit breaker half-open", models.ErrFeedUnavailable, name)
	}
	return result, err
}

// BreakerStatus is the health of one breaker as reported by /api/health
type BreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	Failures            uint32 `json:"failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Status lists every breaker, sorted by name
func (r *BreakerRegistry) Status() []BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BreakerStatus, 0, len(r.breakers))
	for name, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, BreakerStatus{
			Name:                name,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			Failures:            counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnyOpen reports whether some breaker currently rejects calls
func (r *BreakerRegistry) AnyOpen() bool {
	for _, s := range r.Status() {
		if s.State == gobreaker.StateOpen.String() {
			return true
		}
	}
	return false
}

var (
	registryMu     sync.Mutex
	sharedRegistry *BreakerRegistry
)

// Breakers returns the process-wide registry used by the feed clients
func Breakers() *BreakerRegistry {
	registryMu.Lock()
	defer registryMu.Unlock()
	if sharedRegistry == nil {
		sharedRegistry = NewBreakerRegistry(DefaultBreakerSettings)
	}
	return sharedRegistry
}

// SetBreakers replaces the process-wide registry
func SetBreakers(r *BreakerRegistry) {
	registryMu.Lock()
	defer registryMu.Unlock()
	sharedRegistry = r
}

// WithCircuitBreaker runs fn through the named breaker of the shared registry
func WithCircuitBreaker[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	result, err := Breakers().Execute(ctx, name, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// breakerStateValue encodes a state for the state gauge: 0 closed, 1 half-open, 2 open
func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

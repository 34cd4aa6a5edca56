// Package circuitbreaker shields the estimation pipeline's persistence and
// publishing paths. A computed result is expensive; when the database or the
// broker is sick the breaker rejects fast so workers keep draining instead
// of stacking timeouts.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a circuit state. The numeric values feed the state gauge
// directly: 0 closed, 1 half-open, 2 open.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Value returns the gauge value for the state.
func (s State) Value() float64 { return float64(s) }

// StateHook observes circuit transitions, typically to update a metrics
// gauge. It runs on the goroutine that caused the transition.
type StateHook func(name string, state State)

// Config tunes one circuit.
type Config struct {
	// Name identifies the circuit in logs, spans and metrics.
	Name string
	// HalfOpenCalls is how many trial calls the half-open state admits.
	HalfOpenCalls uint32
	// OpenFor is how long the circuit stays open before trialing again.
	OpenFor time.Duration
	// WindowInterval periodically clears the closed-state counts.
	WindowInterval time.Duration
	// TripAfter opens a quiet circuit after this many consecutive failures.
	TripAfter uint32
	// TripRatio opens a busy circuit once this share of the window fails.
	TripRatio float64
	// MinCalls is the window size below which only TripAfter applies.
	MinCalls uint32
	// OnStateChange is invoked after every transition.
	OnStateChange StateHook
}

// DefaultConfig returns a circuit tuned for the result store and broker:
// trip quickly on a dead dependency, retry within one consumer session.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		HalfOpenCalls:  2,
		OpenFor:        15 * time.Second,
		WindowInterval: time.Minute,
		TripAfter:      5,
		TripRatio:      0.5,
		MinCalls:       20,
	}
}

// Breaker is one named circuit.
type Breaker struct {
	name       string
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
	tracer     trace.Tracer
	rejections metric.Int64Counter

	mu    sync.RWMutex
	state State
}

// New creates a circuit from the config.
func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuitbreaker"),
	}

	rejections, err := otel.Meter("circuitbreaker").Int64Counter(
		"circuit_rejections_total",
		metric.WithDescription("Calls rejected while the circuit was open"))
	if err != nil {
		return nil, fmt.Errorf("rejection counter: %w", err)
	}
	b.rejections = rejections

	hook := cfg.OnStateChange
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenCalls,
		Interval:    cfg.WindowInterval,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinCalls {
				return counts.ConsecutiveFailures >= cfg.TripAfter
			}
			return float64(counts.TotalFailures) >= cfg.TripRatio*float64(counts.Requests)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			next := fromGobreaker(to)
			b.mu.Lock()
			b.state = next
			b.mu.Unlock()
			b.logger.Warn("circuit state changed",
				zap.String("circuit", name),
				zap.Stringer("from", fromGobreaker(from)),
				zap.Stringer("to", next))
			if hook != nil {
				hook(name, next)
			}
		},
	})
	return b, nil
}

// Do runs op through the circuit. When the circuit is open, op is not
// called and the returned error satisfies Tripped.
func (b *Breaker) Do(ctx context.Context, op func() error) error {
	ctx, span := b.tracer.Start(ctx, "circuit "+b.name,
		trace.WithAttributes(attribute.String("circuit", b.name)))
	defer span.End()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op()
	})
	if err != nil {
		if Tripped(err) {
			b.rejections.Add(ctx, 1,
				metric.WithAttributes(attribute.String("circuit", b.name)))
			span.SetAttributes(attribute.Bool("circuit.open", true))
		}
		span.RecordError(err)
	}
	return err
}

// Tripped reports whether err is the circuit rejecting the call rather
// than the call itself failing.
func Tripped(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Counts exposes the underlying window counts.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager creates circuits on demand and applies one StateHook to all of
// them, so every circuit reports into the same gauge.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *zap.Logger
	hook     StateHook
}

// NewManager creates a manager. The hook may be nil.
func NewManager(logger *zap.Logger, hook StateHook) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
		hook:     hook,
	}
}

// Acquire returns the named circuit, creating it with defaults on first
// use. The hook is seeded with the closed state so the gauge reports the
// circuit before its first transition.
func (m *Manager) Acquire(name string) (*Breaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b, nil
	}

	cfg := DefaultConfig(name)
	cfg.OnStateChange = m.hook
	b, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	if m.hook != nil {
		m.hook(name, StateClosed)
	}
	m.breakers[name] = b
	return b, nil
}

// States returns the current state of every circuit.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = b.State()
	}
	return states
}

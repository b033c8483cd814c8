package breaker

import (
    "sync"
    "time"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

// State names reported by health checks.
const (
    StateClosed   = "closed"
    StateOpen     = "open"
    StateHalfOpen = "half-open"
)

// ErrOpen is returned when the breaker short-circuits without touching the
// network. Callers surface it as a service-degraded result, not a 5xx.
var ErrOpen = errors.New(errors.ErrCircuitOpen, "circuit breaker is open")

// Clock abstracts time for tests.
type Clock interface {
    Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker is a consecutive-failure circuit breaker guarding one PBX operation
// class. It opens after Threshold consecutive failures, stays open for
// Timeout, then lets a single probe through (half-open). Probe success
// closes it, probe failure re-opens it.
type Breaker struct {
    name      string
    threshold int
    timeout   time.Duration
    clock     Clock

    mu       sync.Mutex
    failures int
    state    string
    openedAt time.Time
    probing  bool
}

type Option func(*Breaker)

// WithClock sets a custom clock for testing.
func WithClock(c Clock) Option {
    return func(b *Breaker) {
        b.clock = c
    }
}

func New(name string, threshold int, timeout time.Duration, opts ...Option) *Breaker {
    if threshold <= 0 {
        threshold = 5
    }
    if timeout <= 0 {
        timeout = 60 * time.Second
    }

    b := &Breaker{
        name:      name,
        threshold: threshold,
        timeout:   timeout,
        state:     StateClosed,
        clock:     realClock{},
    }
    for _, opt := range opts {
        opt(b)
    }
    return b
}

// Call executes fn respecting the breaker state. A nil Breaker passes through.
func (b *Breaker) Call(fn func() error) error {
    if b == nil {
        return fn()
    }

    b.mu.Lock()
    switch b.state {
    case StateOpen:
        if b.clock.Now().Sub(b.openedAt) >= b.timeout {
            b.state = StateHalfOpen
            b.probing = true
            logger.WithField("breaker", b.name).Info("Circuit breaker half-open, probing")
        } else {
            b.mu.Unlock()
            return ErrOpen
        }
    case StateHalfOpen:
        // Exactly one probe in flight; everyone else is short-circuited
        if b.probing {
            b.mu.Unlock()
            return ErrOpen
        }
        b.probing = true
    }
    b.mu.Unlock()

    defer func() {
        if r := recover(); r != nil {
            b.recordFailure()
            panic(r)
        }
    }()

    if err := fn(); err != nil {
        b.recordFailure()
        return err
    }

    b.recordSuccess()
    return nil
}

func (b *Breaker) recordFailure() {
    b.mu.Lock()
    defer b.mu.Unlock()

    b.probing = false
    b.failures++
    // A half-open probe failure re-opens immediately
    if b.state == StateHalfOpen || b.failures >= b.threshold {
        if b.state != StateOpen {
            logger.WithField("breaker", b.name).WithField("failures", b.failures).Warn("Circuit breaker opened")
        }
        b.state = StateOpen
        b.openedAt = b.clock.Now()
    }
}

func (b *Breaker) recordSuccess() {
    b.mu.Lock()
    defer b.mu.Unlock()

    if b.state != StateClosed {
        logger.WithField("breaker", b.name).Info("Circuit breaker closed")
    }
    b.probing = false
    b.failures = 0
    b.state = StateClosed
}

// State returns the current state for health reporting.
func (b *Breaker) State() string {
    if b == nil {
        return StateClosed
    }
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.failures
}

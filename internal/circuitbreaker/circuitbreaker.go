// Package circuitbreaker guards adapter HTTP calls: repeated transient
// failures open the circuit and shed calls until a probe succeeds.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfinch/wolfinch/internal/logger"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while the circuit is shedding calls.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker tuning.
type Config struct {
	MaxFailures uint32        // consecutive failures before opening
	Cooldown    time.Duration // open duration before a half-open probe
}

// DefaultConfig returns the adapter default: open after 5 consecutive
// failures, probe after 30s.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Cooldown: 30 * time.Second}
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name string
	cfg  Config
	log  *logger.Logger

	mu          sync.Mutex
	state       State
	failures    uint32
	lastFailure time.Time
	probing     bool
}

// New creates a breaker.
func New(name string, cfg Config) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		log:  logger.Component("circuit-breaker").WithField("breaker", name),
	}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) > b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.probing = true
			b.log.Info("probing after cooldown")
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return ErrOpen
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.log.Info("circuit closed after successful probe")
		}
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != StateOpen {
			b.log.Warn("circuit opened", "failures", b.failures)
		}
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Package breaker provides a circuit breaker used in front of the search
// path: the catalog itself never retries store failures, and the breaker
// keeps a flapping store from being hammered by every incoming search.
package breaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// ErrOpen is returned without invoking the protected function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type Breaker struct {
	maxFailures int
	window      time.Duration
	cooldown    time.Duration

	mu          sync.Mutex
	failures    []time.Time
	lastFailure time.Time
	state       State
}

func New(maxFailures int, cooldown time.Duration) *Breaker {
	return NewWithWindow(maxFailures, cooldown, 60*time.Second)
}

func NewWithWindow(maxFailures int, cooldown, window time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		window:      window,
		state:       StateClosed,
	}
}

// Do runs fn unless the breaker is open. Reaching maxFailures failures
// inside the sliding window opens the breaker; after the cooldown a single
// probe call is let through and decides whether it closes again.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.failures = b.failures[:0]
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if err != nil {
		b.lastFailure = now
		b.failures = append(b.failures, now)
		b.pruneOldFailures(now)
		if len(b.failures) >= b.maxFailures || b.state == StateHalfOpen {
			b.state = StateOpen
		}
		return err
	}

	b.pruneOldFailures(now)
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = b.failures[:0]
	}
	return nil
}

func (b *Breaker) pruneOldFailures(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

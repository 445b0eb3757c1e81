package service

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 5 * time.Minute
)

// breaker suspends new dispatch starts after a run of consecutive failures.
// In-flight dispatches are never interrupted.
type breaker struct {
	mu       sync.Mutex
	failures int
	openTill time.Time
}

// Allow reports whether a new dispatch may start.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openTill)
}

// Success resets the failure streak.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure counts one unhandled error; the threshold opens the breaker for the
// cooldown window.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= breakerThreshold {
		b.openTill = time.Now().Add(breakerCooldown)
		b.failures = 0
	}
}

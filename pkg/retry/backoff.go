// Package retry computes exponential backoff delays with jitter.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff yields base*2^n plus up to base/2 of jitter, capped at Max. When
// ResetAfter is set, a Healthy mark older than that resets the schedule.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	ResetAfter time.Duration

	mu        sync.Mutex
	attempt   int
	healthyAt time.Time
	now       func() time.Time
}

// New returns a backoff with the given bounds.
func New(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

func (b *Backoff) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ResetAfter > 0 && !b.healthyAt.IsZero() && b.clock().Sub(b.healthyAt) > b.ResetAfter {
		b.attempt = 0
	}
	b.healthyAt = time.Time{}
	d := Delay(b.Base, b.Max, b.attempt)
	b.attempt++
	return d
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Healthy records that the guarded operation is running fine from now on.
func (b *Backoff) Healthy() {
	b.mu.Lock()
	b.healthyAt = b.clock()
	b.mu.Unlock()
}

// Reset starts the schedule over.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.healthyAt = time.Time{}
	b.mu.Unlock()
}

// Delay is the stateless form of Next.
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	jitter := rand.Float64() * float64(base) * 0.5
	d := float64(base)*math.Pow(2, float64(attempt)) + jitter
	if max > 0 && d > float64(max) {
		d = float64(max)
	}
	return time.Duration(d)
}

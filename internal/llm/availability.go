package llm

import (
	"sync"
	"time"
)

// Availability tracks whether a backend should be called. After a failure the
// backend is skipped for the cooldown; the first request after it expires
// tries the backend again.
type Availability struct {
	cooldown time.Duration

	mu       sync.Mutex
	now      func() time.Time
	lastErr  error
	failedAt time.Time
}

// NewAvailability creates a tracker. A zero cooldown retries on every request.
func NewAvailability(cooldown time.Duration) *Availability {
	return &Availability{cooldown: cooldown, now: time.Now}
}

// Ready returns nil when the backend may be called, otherwise the failure that
// started the current cooldown.
func (a *Availability) Ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastErr == nil || a.cooldown <= 0 {
		return nil
	}
	if a.now().Sub(a.failedAt) < a.cooldown {
		return a.lastErr
	}
	return nil
}

// Record stores the outcome of a call and reports whether availability changed.
func (a *Availability) Record(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := (err == nil) != (a.lastErr == nil)
	a.lastErr = err
	if err != nil {
		a.failedAt = a.now()
	}
	return changed
}

// LastError returns the outcome of the most recent call.
func (a *Availability) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

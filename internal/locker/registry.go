// Package locker serializes turns within one session. Locks are keyed by
// (project, feature) and held in memory with a bounded lifetime; a
// background sweep force-releases holders that crashed without releasing.
// Acquisition is non-blocking: a busy session is an expected, retryable
// condition, not an error to surface to the user.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTTL bounds how long one turn may hold its session lock.
const DefaultTTL = 10 * time.Minute

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = 60 * time.Second

// ErrInFlight is returned when the session is already being advanced
// elsewhere. Callers back off and retry later.
var ErrInFlight = errors.New("session turn already in flight")

type hold struct {
	acquiredAt time.Time
	expiresAt  time.Time
}

// Registry tracks session locks. The zero value is not usable; construct
// with NewRegistry. The sweep task is started explicitly by the process
// supervisor, never as an import-time side effect.
type Registry struct {
	mu    sync.Mutex
	holds map[string]hold
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTTL overrides the maximum hold duration.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// NewRegistry creates a Registry with the default TTL.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		holds: make(map[string]hold),
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(project, feature string) string {
	return project + "/" + feature
}

// Acquire takes the session lock, or fails immediately with ErrInFlight
// when a live holder exists. An expired holder is replaced in passing.
func (r *Registry) Acquire(project, feature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(project, feature)
	if h, ok := r.holds[k]; ok && r.now().Before(h.expiresAt) {
		return ErrInFlight
	}
	now := r.now()
	r.holds[k] = hold{acquiredAt: now, expiresAt: now.Add(r.ttl)}
	return nil
}

// Release drops the session lock. Releasing an unheld lock is a no-op.
func (r *Registry) Release(project, feature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holds, key(project, feature))
}

// IsLocked reports whether a live hold exists for the session.
func (r *Registry) IsLocked(project, feature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[key(project, feature)]
	return ok && r.now().Before(h.expiresAt)
}

// WithSession runs fn while holding the session lock, releasing on return.
func (r *Registry) WithSession(project, feature string, fn func() error) error {
	if err := r.Acquire(project, feature); err != nil {
		return err
	}
	defer r.Release(project, feature)
	return fn()
}

// Sweep force-releases expired holds and returns how many were released.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	now := r.now()
	for k, h := range r.holds {
		if !now.Before(h.expiresAt) {
			delete(r.holds, k)
			released++
		}
	}
	return released
}

// RunSweeper sweeps at the given interval until ctx is cancelled. Owned by
// the process supervisor.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Package location supplies position fixes and describes them in words.
//
// Fixes come from the user's device, pushed over the HTTP API into a Tracker,
// or from a fixed configured position. A Geocoder turns a fix into a street
// or place name.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/projectech/VoiceGuide/internal/models"
)

// Defaults for Tracker
const (
	DefaultMaxAge      = 2 * time.Minute
	DefaultWaitTimeout = 10 * time.Second
)

// Provider returns the current position. found is false when no fix is
// available.
type Provider interface {
	CurrentLocation(ctx context.Context) (models.Coordinates, bool, error)
}

// Fix is one reported position.
type Fix struct {
	models.Coordinates
	Time time.Time `json:"time"`
}

// TrackerOpts holds configuration for a Tracker.
type TrackerOpts struct {
	MaxAge      time.Duration
	WaitTimeout time.Duration
	Now         func() time.Time
}

// TrackerOption defines a configuration option for a Tracker.
type TrackerOption func(*TrackerOpts)

// WithMaxAge sets how old a fix may be and still be returned immediately.
func WithMaxAge(d time.Duration) TrackerOption {
	return func(o *TrackerOpts) { o.MaxAge = d }
}

// WithWaitTimeout sets how long CurrentLocation waits for a fresh fix.
func WithWaitTimeout(d time.Duration) TrackerOption {
	return func(o *TrackerOpts) { o.WaitTimeout = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(o *TrackerOpts) { o.Now = now }
}

// Tracker keeps the latest fix reported by the device. CurrentLocation
// returns a fresh fix at once, otherwise it waits for the next update.
type Tracker struct {
	opts TrackerOpts

	mu      sync.Mutex
	last    *Fix
	updated chan struct{} // closed and replaced on every update
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	cfg := TrackerOpts{MaxAge: DefaultMaxAge, WaitTimeout: DefaultWaitTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{opts: cfg, updated: make(chan struct{})}
}

// Update records a new fix and wakes waiting lookups.
func (t *Tracker) Update(c models.Coordinates) error {
	if err := c.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.last = &Fix{Coordinates: c, Time: t.opts.Now()}
	close(t.updated)
	t.updated = make(chan struct{})
	t.mu.Unlock()
	slog.Debug("Tracker.Update: location fix recorded", "location", c.String())
	return nil
}

// Last returns the most recent fix regardless of age.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Fix{}, false
	}
	return *t.last, true
}

// CurrentLocation implements Provider.
func (t *Tracker) CurrentLocation(ctx context.Context) (models.Coordinates, bool, error) {
	t.mu.Lock()
	if t.last != nil && t.opts.Now().Sub(t.last.Time) <= t.opts.MaxAge {
		c := t.last.Coordinates
		t.mu.Unlock()
		return c, true, nil
	}
	wait := t.updated
	t.mu.Unlock()

	slog.Debug("Tracker.CurrentLocation: waiting for a fresh fix", "timeout", t.opts.WaitTimeout)
	timer := time.NewTimer(t.opts.WaitTimeout)
	defer timer.Stop()
	select {
	case <-wait:
		fix, _ := t.Last()
		return fix.Coordinates, true, nil
	case <-timer.C:
		slog.Info("Tracker.CurrentLocation: no fix before timeout")
		return models.Coordinates{}, false, nil
	case <-ctx.Done():
		return models.Coordinates{}, false, ctx.Err()
	}
}

// Fixed always reports the same position.
type Fixed struct {
	At models.Coordinates
}

// CurrentLocation implements Provider.
func (f Fixed) CurrentLocation(ctx context.Context) (models.Coordinates, bool, error) {
	return f.At, true, nil
}

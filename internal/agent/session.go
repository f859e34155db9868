// internal/agent/session.go
package agent

import (
	"errors"
	"sync"
	"time"

	"pointaged/internal/duration"
)

// ErrSessionActive is returned when starting a session that is
// already running.
var ErrSessionActive = errors.New("session already active")

// Tracker measures the current on-session. It is either idle or
// running; starting while running is an error, stopping while idle is
// a no-op.
type Tracker struct {
	mu      sync.Mutex
	running bool
	start   time.Time
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Start begins a new session.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrSessionActive
	}
	t.running = true
	t.start = t.now()
	return nil
}

// Stop ends the current session and returns its duration. The second
// return value reports whether a session was actually running. Clock
// jumps that would produce a negative elapsed time are clamped to
// zero.
func (t *Tracker) Stop() (duration.SessionDuration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return duration.SessionDuration{}, false
	}
	t.running = false

	elapsed := int64(t.now().Sub(t.start).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	d, err := duration.Compute(elapsed)
	if err != nil {
		return duration.SessionDuration{}, false
	}
	return d, true
}

// Running reports whether a session is in progress.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

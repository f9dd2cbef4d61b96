package ring

import (
	"sync"
	"time"
)

// DefaultCooldown is the quiet window after a completed run.
const DefaultCooldown = 4 * time.Second

// Guard enforces one orchestration run at a time plus a cooldown measured
// from the completion of the previous run. It is safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time

	lastRun time.Time
	held    bool
}

// GuardState is a point-in-time copy of the guard.
type GuardState struct {
	LastRun   time.Time     `json:"last_run"`
	Held      bool          `json:"held"`
	Cooldown  time.Duration `json:"cooldown"`
	Remaining time.Duration `json:"remaining"`
}

// NewGuard creates a Guard. A nil now uses time.Now.
func NewGuard(cooldown time.Duration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{cooldown: cooldown, now: now}
}

// TryAcquire marks a run as started unless one is already held or the
// cooldown has not elapsed. A refusal leaves the guard untouched.
func (g *Guard) TryAcquire() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false, "run in progress"
	}
	if !g.lastRun.IsZero() && g.now().Sub(g.lastRun) < g.cooldown {
		return false, "cooldown"
	}
	g.held = true
	return true, ""
}

// Release ends the held run and starts the cooldown from now. It returns
// the recorded completion time.
func (g *Guard) Release() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastRun = g.now()
	g.held = false
	return g.lastRun
}

// State returns a copy of the guard's state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := GuardState{LastRun: g.lastRun, Held: g.held, Cooldown: g.cooldown}
	if !g.lastRun.IsZero() {
		if left := g.cooldown - g.now().Sub(g.lastRun); left > 0 {
			st.Remaining = left
		}
	}
	return st
}

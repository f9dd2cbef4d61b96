package ring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/flash"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type flasherFunc func(ctx context.Context, req flash.Request) (*flash.Report, error)

func (f flasherFunc) Flash(ctx context.Context, req flash.Request) (*flash.Report, error) {
	return f(ctx, req)
}

type chimerFunc func(ctx context.Context, req chime.Request) (*chime.Report, error)

func (f chimerFunc) Chime(ctx context.Context, req chime.Request) (*chime.Report, error) {
	return f(ctx, req)
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func countingArms() (*counter, *counter, Flasher, Chimer) {
	flashes, chimes := &counter{}, &counter{}
	f := flasherFunc(func(context.Context, flash.Request) (*flash.Report, error) {
		flashes.inc()
		return &flash.Report{Pulses: 3}, nil
	})
	c := chimerFunc(func(context.Context, chime.Request) (*chime.Report, error) {
		chimes.inc()
		return &chime.Report{}, nil
	})
	return flashes, chimes, f, c
}

var bothArms = Options{FlashEnabled: true, ChimeEnabled: true}

type recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recorder) RecordRun(_ context.Context, out Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func TestRingWithinCooldownIsSkipped(t *testing.T) {
	clk := newClock()
	guard := NewGuard(4*time.Second, clk.Now)
	flashes, chimes, f, c := countingArms()
	o := NewOrchestrator(guard, f, c, bothArms)
	rec := &recorder{}
	o.AddRecorder(rec)

	first := o.Ring(context.Background(), Params{Source: "test"})
	require.Equal(t, StatusCompleted, first.Status)
	lastRun := guard.State().LastRun

	clk.Advance(time.Second)
	second := o.Ring(context.Background(), Params{Source: "test"})

	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, "cooldown", second.SkipReason)
	assert.Equal(t, 1, flashes.get())
	assert.Equal(t, 1, chimes.get())
	assert.Equal(t, lastRun, guard.State().LastRun)
	assert.Equal(t, 3*time.Second, guard.State().Remaining)

	require.Len(t, rec.outcomes, 2)
	assert.Equal(t, StatusSkipped, rec.outcomes[1].Status)

	clk.Advance(3 * time.Second)
	assert.Equal(t, StatusCompleted, o.Ring(context.Background(), Params{}).Status)
}

func TestCooldownCountsFromCompletion(t *testing.T) {
	clk := newClock()
	guard := NewGuard(4*time.Second, clk.Now)
	f := flasherFunc(func(context.Context, flash.Request) (*flash.Report, error) {
		clk.Advance(10 * time.Second)
		return &flash.Report{}, nil
	})
	o := NewOrchestrator(guard, f, nil, Options{FlashEnabled: true})

	start := clk.Now()
	out := o.Ring(context.Background(), Params{})
	assert.Equal(t, start.Add(10*time.Second), out.FinishedAt)

	// 12s after the trigger but only 2s after completion
	clk.Advance(2 * time.Second)
	assert.Equal(t, StatusSkipped, o.Ring(context.Background(), Params{}).Status)

	clk.Advance(2 * time.Second)
	assert.Equal(t, StatusCompleted, o.Ring(context.Background(), Params{}).Status)
}

func TestArmsRunConcurrently(t *testing.T) {
	flashStarted := make(chan struct{})
	chimeStarted := make(chan struct{})

	waitFor := func(ch <-chan struct{}) error {
		select {
		case <-ch:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("other arm never started")
		}
	}

	f := flasherFunc(func(context.Context, flash.Request) (*flash.Report, error) {
		close(flashStarted)
		return nil, waitFor(chimeStarted)
	})
	c := chimerFunc(func(context.Context, chime.Request) (*chime.Report, error) {
		close(chimeStarted)
		return nil, waitFor(flashStarted)
	})

	out := NewOrchestrator(NewGuard(0, nil), f, c, bothArms).Ring(context.Background(), Params{})
	assert.NoError(t, out.FlashErr)
	assert.NoError(t, out.ChimeErr)
}

func TestArmFailureDoesNotStopOther(t *testing.T) {
	chimes := &counter{}
	f := flasherFunc(func(context.Context, flash.Request) (*flash.Report, error) {
		return nil, flash.ErrNoUsableTargets
	})
	c := chimerFunc(func(context.Context, chime.Request) (*chime.Report, error) {
		chimes.inc()
		return &chime.Report{Duration: time.Second}, nil
	})
	guard := NewGuard(time.Second, nil)

	out := NewOrchestrator(guard, f, c, bothArms).Ring(context.Background(), Params{})
	assert.Equal(t, StatusCompleted, out.Status)
	assert.ErrorIs(t, out.FlashErr, flash.ErrNoUsableTargets)
	assert.NoError(t, out.ChimeErr)
	assert.Equal(t, 1, chimes.get())
	assert.False(t, guard.State().Held)
}

func TestArmPanicIsContained(t *testing.T) {
	flashes, _, f, _ := countingArms()
	c := chimerFunc(func(context.Context, chime.Request) (*chime.Report, error) {
		panic("speaker on fire")
	})
	guard := NewGuard(time.Second, nil)

	out := NewOrchestrator(guard, f, c, bothArms).Ring(context.Background(), Params{})
	require.Error(t, out.ChimeErr)
	assert.Contains(t, out.ChimeErr.Error(), "speaker on fire")
	assert.Equal(t, 1, flashes.get())
	assert.False(t, guard.State().Held)
}

func TestRingWhileRunningIsSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := flasherFunc(func(context.Context, flash.Request) (*flash.Report, error) {
		close(started)
		<-release
		return &flash.Report{}, nil
	})
	o := NewOrchestrator(NewGuard(0, nil), f, nil, Options{FlashEnabled: true})

	done := make(chan Outcome, 1)
	go func() { done <- o.Ring(context.Background(), Params{}) }()
	<-started

	skipped := o.Ring(context.Background(), Params{})
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Equal(t, "run in progress", skipped.SkipReason)
	assert.True(t, o.Guard().State().Held)

	close(release)
	assert.Equal(t, StatusCompleted, (<-done).Status)
}

func TestArmSwitches(t *testing.T) {
	flashes, chimes, f, c := countingArms()
	o := NewOrchestrator(NewGuard(0, nil), f, c, Options{FlashEnabled: true, ChimeEnabled: false})

	o.Ring(context.Background(), Params{})
	assert.Equal(t, 1, flashes.get())
	assert.Equal(t, 0, chimes.get())

	no := false
	yes := true
	o.Ring(context.Background(), Params{FlashEnabled: &no, ChimeEnabled: &yes})
	assert.Equal(t, 1, flashes.get())
	assert.Equal(t, 1, chimes.get())
}

type filterFunc func(ctx context.Context, ev Event) (bool, error)

func (f filterFunc) Accept(ctx context.Context, ev Event) (bool, error) { return f(ctx, ev) }

func TestHandleEvent(t *testing.T) {
	ding := Event{Type: "ding", Data: map[string]any{"kind": "ding", "state": "ringing"}}

	t.Run("accepted", func(t *testing.T) {
		flashes, _, f, c := countingArms()
		o := NewOrchestrator(NewGuard(0, nil), f, c, bothArms)
		out, ok := o.HandleEvent(context.Background(), ding, Params{Source: "ha"})
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "ha", out.Source)
		assert.Equal(t, 1, flashes.get())
	})

	t.Run("motion_rejected", func(t *testing.T) {
		flashes, _, f, c := countingArms()
		o := NewOrchestrator(NewGuard(0, nil), f, c, bothArms)
		motion := Event{Type: "ding", Data: map[string]any{"motion": true}}
		_, ok := o.HandleEvent(context.Background(), motion, Params{})
		assert.False(t, ok)
		assert.Equal(t, 0, flashes.get())
	})

	t.Run("script_rejects", func(t *testing.T) {
		flashes, _, f, c := countingArms()
		o := NewOrchestrator(NewGuard(0, nil), f, c, bothArms)
		o.AddFilter(filterFunc(func(context.Context, Event) (bool, error) { return false, nil }))
		_, ok := o.HandleEvent(context.Background(), ding, Params{})
		assert.False(t, ok)
		assert.Equal(t, 0, flashes.get())
	})

	t.Run("script_error_accepts", func(t *testing.T) {
		flashes, _, f, c := countingArms()
		o := NewOrchestrator(NewGuard(0, nil), f, c, bothArms)
		o.AddFilter(filterFunc(func(context.Context, Event) (bool, error) { return false, errors.New("lua error") }))
		_, ok := o.HandleEvent(context.Background(), ding, Params{})
		assert.True(t, ok)
		assert.Equal(t, 1, flashes.get())
	})
}

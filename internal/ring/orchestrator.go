// Package ring turns a doorbell press into a concurrent chime and flash run
// behind a single-run guard with a post-run cooldown.
package ring

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/flash"
)

// Flasher runs the flash arm.
type Flasher interface {
	Flash(ctx context.Context, req flash.Request) (*flash.Report, error)
}

// Chimer runs the chime arm.
type Chimer interface {
	Chime(ctx context.Context, req chime.Request) (*chime.Report, error)
}

// Recorder observes finished and skipped runs.
type Recorder interface {
	RecordRun(ctx context.Context, out Outcome)
}

// EventFilter is an extra accept/reject hook applied after Accept.
type EventFilter interface {
	Accept(ctx context.Context, ev Event) (bool, error)
}

// Status of a ring run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Params combine the per-arm requests of one ring. Nil switches fall back to
// the orchestrator's Options.
type Params struct {
	Source       string
	Flash        flash.Request
	Chime        chime.Request
	FlashEnabled *bool
	ChimeEnabled *bool
}

// Outcome reports what one ring did. Arm errors are informational; Ring
// itself never fails.
type Outcome struct {
	RunID      string
	Source     string
	Status     Status
	SkipReason string
	StartedAt  time.Time
	FinishedAt time.Time

	Flash    *flash.Report
	FlashErr error
	Chime    *chime.Report
	ChimeErr error
}

// Duration is the wall time of a completed run.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Options are orchestrator-wide switches.
type Options struct {
	FlashEnabled bool
	ChimeEnabled bool
}

// Orchestrator runs rings.
type Orchestrator struct {
	guard   *Guard
	flasher Flasher
	chimer  Chimer
	opts    Options
	now     func() time.Time

	mu        sync.RWMutex
	recorders []Recorder
	filters   []EventFilter
}

// NewOrchestrator creates an Orchestrator. The guard is injected so each
// caller (and each test) owns its own cooldown state.
func NewOrchestrator(guard *Guard, flasher Flasher, chimer Chimer, opts Options) *Orchestrator {
	return &Orchestrator{
		guard:   guard,
		flasher: flasher,
		chimer:  chimer,
		opts:    opts,
		now:     guard.now,
	}
}

// AddRecorder registers an observer for every outcome.
func (o *Orchestrator) AddRecorder(r Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorders = append(o.recorders, r)
}

// AddFilter registers an extra event filter used by HandleEvent.
func (o *Orchestrator) AddFilter(f EventFilter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters = append(o.filters, f)
}

// Guard returns the injected guard.
func (o *Orchestrator) Guard() *Guard {
	return o.guard
}

// HandleEvent filters a raw doorbell event and rings when it is accepted.
// ok is false when the event was rejected.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event, p Params) (Outcome, bool) {
	if accepted, reason := Accept(ev); !accepted {
		log.Debug().Str("reason", reason).Str("source", p.Source).Msg("Ignoring doorbell event")
		return Outcome{}, false
	}

	o.mu.RLock()
	filters := append([]EventFilter(nil), o.filters...)
	o.mu.RUnlock()

	for _, f := range filters {
		accepted, err := f.Accept(ctx, ev)
		if err != nil {
			// a broken script must not swallow doorbell presses
			log.Error().Err(err).Msg("Event filter failed, accepting event")
			continue
		}
		if !accepted {
			log.Info().Str("source", p.Source).Msg("Doorbell event rejected by filter")
			return Outcome{}, false
		}
	}

	log.Info().
		Interface("kind", ev.Data["kind"]).
		Interface("state", ev.Data["state"]).
		Str("source", p.Source).
		Msg("Ring detected")
	return o.Ring(ctx, p), true
}

// Ring runs flash and chime concurrently unless the guard refuses. It waits
// for both arms, then releases the guard so the cooldown counts from
// completion.
func (o *Orchestrator) Ring(ctx context.Context, p Params) Outcome {
	out := Outcome{
		RunID:     uuid.NewString(),
		Source:    p.Source,
		StartedAt: o.now(),
	}

	if ok, reason := o.guard.TryAcquire(); !ok {
		log.Info().Str("reason", reason).Str("source", p.Source).Msg("Ring skipped")
		out.Status = StatusSkipped
		out.SkipReason = reason
		o.record(ctx, out)
		return out
	}

	logger := log.With().Str("run_id", out.RunID).Logger()
	logger.Info().Str("source", p.Source).Msg("Ring run started")

	var wg sync.WaitGroup
	if enabled(p.FlashEnabled, o.opts.FlashEnabled) && o.flasher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.FlashErr = safely("flash", func() (err error) {
				out.Flash, err = o.flasher.Flash(ctx, p.Flash)
				return err
			})
		}()
	}
	if enabled(p.ChimeEnabled, o.opts.ChimeEnabled) && o.chimer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.ChimeErr = safely("chime", func() (err error) {
				out.Chime, err = o.chimer.Chime(ctx, p.Chime)
				return err
			})
		}()
	}
	wg.Wait()

	out.FinishedAt = o.guard.Release()
	out.Status = StatusCompleted

	if out.FlashErr != nil {
		logger.Warn().Err(out.FlashErr).Msg("Flash arm failed")
	}
	if out.ChimeErr != nil {
		logger.Warn().Err(out.ChimeErr).Msg("Chime arm failed")
	}
	logger.Info().Dur("duration", out.Duration()).Msg("Ring run finished")

	o.record(ctx, out)
	return out
}

func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	o.mu.RLock()
	recorders := append([]Recorder(nil), o.recorders...)
	o.mu.RUnlock()

	for _, r := range recorders {
		r.RecordRun(ctx, out)
	}
}

func enabled(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}

// safely runs fn, converting a panic into an error so one arm cannot take
// down the other or leave the guard held.
func safely(arm string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("arm", arm).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Ring arm panicked")
			err = fmt.Errorf("%s panicked: %v", arm, r)
		}
	}()
	return fn()
}

// Package flash runs timed on/off pulse sequences across resolved light and
// switch targets, bracketed by a snapshot and restore of their prior state.
package flash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/capability"
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/device"
	"github.com/dokzlo13/ringflash/internal/snapshot"
	"github.com/dokzlo13/ringflash/internal/targets"
)

var (
	// ErrNoUsableTargets is returned when every requested target was
	// missing or unsupported. No command or snapshot is issued.
	ErrNoUsableTargets = errors.New("no usable targets")

	// ErrSuppressed is returned when a configured suppression entity is on.
	ErrSuppressed = errors.New("flash suppressed")

	// ErrPreempted is returned by a sequence cancelled by a newer one.
	ErrPreempted = errors.New("flash preempted")
)

// MinPulseDuration floors on and off durations.
const MinPulseDuration = 50 * time.Millisecond

// Defaults used when neither the request nor Options set a value.
const (
	DefaultFlashes       = 3
	DefaultOn            = 250 * time.Millisecond
	DefaultOff           = 250 * time.Millisecond
	DefaultBrightnessPct = 50
	DefaultRestoreSettle = 300 * time.Millisecond
	DefaultRefreshDelay  = 250 * time.Millisecond
)

// Options are the sequencer-wide defaults and behaviour switches.
type Options struct {
	DefaultTargets  []string
	Flashes         int
	On              time.Duration
	Off             time.Duration
	Brightness      color.Brightness
	Color           any
	Restore         bool
	RestoreSettle   time.Duration
	Refresh         bool
	RefreshDelay    time.Duration
	SuppressWhileOn []string
}

func (o Options) withDefaults() Options {
	if o.Flashes <= 0 {
		o.Flashes = DefaultFlashes
	}
	if o.On == 0 {
		o.On = DefaultOn
	}
	if o.Off == 0 {
		o.Off = DefaultOff
	}
	if o.Brightness.Value == 0 {
		o.Brightness = color.Percent(DefaultBrightnessPct)
	}
	if o.RestoreSettle == 0 {
		o.RestoreSettle = DefaultRestoreSettle
	}
	if o.RefreshDelay == 0 {
		o.RefreshDelay = DefaultRefreshDelay
	}
	return o
}

// Request describes one flash. Zero fields fall back to Options.
type Request struct {
	Targets    targets.Input
	Flashes    int
	On         time.Duration
	Off        time.Duration
	Brightness color.Brightness
	Color      any
	Restore    *bool
}

// Report summarises a finished (or aborted) sequence.
type Report struct {
	Targets     []string
	Missing     []string
	Unsupported []string
	Color       color.Spec
	Brightness  int
	Pulses      int
	Snapshot    string
	Restored    bool
	Failures    int
}

// Sequencer runs flash sequences. Only one sequence runs at a time; a new
// call cancels the running one and waits for it to restore first.
type Sequencer struct {
	transport  device.Transport
	normalizer *targets.Normalizer
	resolver   *capability.Resolver
	snapshots  *snapshot.Manager
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running *run
	state   State
	pulse   int
}

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a Sequencer.
func New(transport device.Transport, normalizer *targets.Normalizer, opts Options) *Sequencer {
	return &Sequencer{
		transport:  transport,
		normalizer: normalizer,
		resolver:   capability.NewResolver(transport),
		snapshots:  snapshot.NewManager(transport),
		opts:       opts.withDefaults(),
		sleep:      Sleep,
	}
}

// Options returns the effective defaults.
func (s *Sequencer) Options() Options {
	return s.opts
}

// Resolve normalizes and classifies in without touching any device. Empty
// input resolves the default targets.
func (s *Sequencer) Resolve(ctx context.Context, in targets.Input) (capability.TargetSet, error) {
	ids, err := s.normalizer.Normalize(ctx, in, s.opts.DefaultTargets)
	if err != nil {
		return capability.TargetSet{}, err
	}
	return s.resolver.Resolve(ctx, ids), nil
}

// Flash runs one sequence. It returns ErrNoUsableTargets when nothing
// resolved, ErrSuppressed when a suppression entity is on, and ErrPreempted
// when a newer call took over. Device command failures are logged and the
// sequence continues.
func (s *Sequencer) Flash(ctx context.Context, req Request) (*Report, error) {
	if entity, on := s.suppressed(ctx); on {
		log.Info().Str("entity", entity).Msg("Flash suppressed")
		return nil, fmt.Errorf("%w: %s is on", ErrSuppressed, entity)
	}

	runCtx, release := s.acquire(ctx)
	defer release()

	ids, err := s.normalizer.Normalize(runCtx, req.Targets, s.opts.DefaultTargets)
	if err != nil {
		return nil, s.abortErr(runCtx, err)
	}

	set := s.resolver.Resolve(runCtx, ids)
	report := &Report{
		Targets:     set.IDs(),
		Missing:     set.Missing,
		Unsupported: set.Unsupported,
	}
	if set.Empty() {
		log.Warn().
			Strs("missing", set.Missing).
			Strs("unsupported", set.Unsupported).
			Msg("Flash has no usable targets")
		return report, ErrNoUsableTargets
	}

	p := s.params(req)
	report.Color = p.color
	report.Brightness = p.brightness

	var handle *snapshot.Handle
	if p.restore {
		s.setState(StateSnapshotting, 0)
		// a failed capture only means there is nothing to restore
		handle, _ = s.snapshots.Capture(runCtx, report.Targets)
		if handle != nil {
			report.Snapshot = handle.Name
		}
	}

	log.Info().
		Strs("targets", report.Targets).
		Int("flashes", p.flashes).
		Dur("on", p.on).
		Dur("off", p.off).
		Int("brightness", p.brightness).
		Str("color", p.color.String()).
		Msg("Flash started")

	runErr := s.runPulses(runCtx, set, p, report)

	if handle != nil {
		s.setState(StateRestoring, 0)
		s.restore(ctx, handle, report)
	}
	s.setState(StateDone, 0)

	if runErr != nil {
		log.Info().Int("pulses", report.Pulses).Err(runErr).Msg("Flash interrupted")
		return report, runErr
	}

	log.Info().Int("pulses", report.Pulses).Int("failures", report.Failures).Msg("Flash finished")
	return report, nil
}

type params struct {
	flashes    int
	on, off    time.Duration
	brightness int
	color      color.Spec
	restore    bool
}

func (s *Sequencer) params(req Request) params {
	p := params{
		flashes: s.opts.Flashes,
		on:      s.opts.On,
		off:     s.opts.Off,
		restore: s.opts.Restore,
	}
	if req.Flashes > 0 {
		p.flashes = req.Flashes
	}
	if req.On > 0 {
		p.on = req.On
	}
	if req.Off > 0 {
		p.off = req.Off
	}
	p.on = max(p.on, MinPulseDuration)
	p.off = max(p.off, MinPulseDuration)

	b := s.opts.Brightness
	if req.Brightness.Value != 0 {
		b = req.Brightness
	}
	p.brightness = b.Level()

	raw := s.opts.Color
	if req.Color != nil {
		raw = req.Color
	}
	spec, err := color.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid color, using default")
	}
	p.color = spec

	if req.Restore != nil {
		p.restore = *req.Restore
	}
	return p
}

// runPulses runs the on/off cycles. Cancellation is checked at each pulse
// boundary and inside every wait.
func (s *Sequencer) runPulses(ctx context.Context, set capability.TargetSet, p params, report *Report) error {
	for i := 1; i <= p.flashes; i++ {
		if ctx.Err() != nil {
			return s.abortErr(ctx, ctx.Err())
		}
		s.setState(StatePulsing, i)

		report.Failures += s.turnOn(ctx, set, p)
		if err := s.sleep(ctx, p.on); err != nil {
			// leave nothing lit when the sequence is cut short mid-pulse
			report.Failures += s.turnOff(context.WithoutCancel(ctx), set)
			return s.abortErr(ctx, err)
		}

		report.Failures += s.turnOff(ctx, set)
		report.Pulses = i

		if i < p.flashes {
			if err := s.sleep(ctx, p.off); err != nil {
				return s.abortErr(ctx, err)
			}
		}
	}
	return nil
}

func (s *Sequencer) turnOn(ctx context.Context, set capability.TargetSet, p params) int {
	failures := 0
	for _, batch := range set.ColorBatches() {
		attr, channels := p.color.Payload(batch.Encoding)
		failures += s.command(ctx, device.DomainLight, "turn_on", batch.IDs, map[string]any{
			attr:         channels,
			"brightness": p.brightness,
		})
	}
	if ids := set.Tier(capability.TierDimmable); len(ids) > 0 {
		failures += s.command(ctx, device.DomainLight, "turn_on", ids, map[string]any{"brightness": p.brightness})
	}
	if ids := set.Tier(capability.TierOnOffLight); len(ids) > 0 {
		failures += s.command(ctx, device.DomainLight, "turn_on", ids, nil)
	}
	if ids := set.Tier(capability.TierSwitch); len(ids) > 0 {
		failures += s.command(ctx, device.DomainSwitch, "turn_on", ids, nil)
	}
	return failures
}

func (s *Sequencer) turnOff(ctx context.Context, set capability.TargetSet) int {
	failures := 0
	if ids := set.Lights(); len(ids) > 0 {
		failures += s.command(ctx, device.DomainLight, "turn_off", ids, nil)
	}
	if ids := set.Tier(capability.TierSwitch); len(ids) > 0 {
		failures += s.command(ctx, device.DomainSwitch, "turn_off", ids, nil)
	}
	return failures
}

func (s *Sequencer) command(ctx context.Context, domain, action string, ids []string, params map[string]any) int {
	if err := s.transport.Command(ctx, domain, action, ids, params); err != nil {
		log.Warn().Err(err).Str("domain", domain).Str("action", action).Strs("targets", ids).Msg("Flash command failed")
		return 1
	}
	return 0
}

// restore runs on a context detached from cancellation so a preempted
// sequence still puts its fixtures back before the next one starts.
func (s *Sequencer) restore(ctx context.Context, handle *snapshot.Handle, report *Report) {
	detached := context.WithoutCancel(ctx)

	_ = s.sleep(detached, s.opts.RestoreSettle)
	if err := s.snapshots.Restore(detached, handle); err != nil {
		return
	}
	report.Restored = true

	if !s.opts.Refresh {
		return
	}
	_ = s.sleep(detached, s.opts.RefreshDelay)
	if err := s.transport.Command(detached, "homeassistant", "update_entity", report.Targets, nil); err != nil {
		log.Debug().Err(err).Msg("Entity refresh after restore failed")
	}
}

func (s *Sequencer) suppressed(ctx context.Context) (string, bool) {
	for _, id := range s.opts.SuppressWhileOn {
		st, err := s.transport.Query(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("entity", id).Msg("Suppression check failed")
			continue
		}
		if st.Exists && st.Value == device.StateOn {
			return id, true
		}
	}
	return "", false
}

// acquire cancels any running sequence, waits for it to release, and
// registers a new one.
func (s *Sequencer) acquire(ctx context.Context) (context.Context, func()) {
	for {
		s.mu.Lock()
		if s.running == nil {
			runCtx, cancel := context.WithCancelCause(ctx)
			r := &run{cancel: cancel, done: make(chan struct{})}
			s.running = r
			s.state = StateIdle
			s.mu.Unlock()

			return runCtx, func() {
				cancel(nil)
				s.mu.Lock()
				if s.running == r {
					s.running = nil
				}
				s.mu.Unlock()
				close(r.done)
			}
		}
		prev := s.running
		s.mu.Unlock()

		log.Info().Msg("Preempting running flash")
		prev.cancel(ErrPreempted)
		<-prev.done
	}
}

func (s *Sequencer) abortErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrPreempted) {
		return ErrPreempted
	}
	return err
}

// Running reports whether a sequence is in progress.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running != nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

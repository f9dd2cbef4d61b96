package flash

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/device"
	"github.com/dokzlo13/ringflash/internal/device/devicetest"
	"github.com/dokzlo13/ringflash/internal/targets"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newSequencer(fake *devicetest.Transport, opts Options) (*Sequencer, *sleepRecorder) {
	rec := &sleepRecorder{}
	s := New(fake, targets.NewNormalizer(fake), opts)
	s.sleep = rec.sleep
	return s, rec
}

func ptr[T any](v T) *T { return &v }

func call(domain, action string, targets ...string) devicetest.Call {
	return devicetest.Call{Domain: domain, Action: action, Targets: targets}
}

func ids(list ...string) targets.Input { return targets.FromList(list) }

func TestFlashSingleRGBWLight(t *testing.T) {
	fake := devicetest.New().Light("light.shelf_1", "rgbw")
	s, rec := newSequencer(fake, Options{})

	report, err := s.Flash(context.Background(), Request{
		Targets:    ids("light.shelf_1"),
		Flashes:    3,
		On:         250 * time.Millisecond,
		Off:        250 * time.Millisecond,
		Brightness: color.Percent(50),
		Color:      "red",
		Restore:    ptr(true),
	})
	require.NoError(t, err)

	on := devicetest.Call{
		Domain:  device.DomainLight,
		Action:  "turn_on",
		Targets: []string{"light.shelf_1"},
		Params:  map[string]any{"rgbw_color": []int{255, 0, 0, 0}, "brightness": 128},
	}
	off := call(device.DomainLight, "turn_off", "light.shelf_1")
	assert.Equal(t, []devicetest.Call{on, off, on, off, on, off}, fake.Calls())

	snaps := fake.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, []string{"light.shelf_1"}, snaps[0].Targets)
	require.Len(t, fake.Restores(), 1)
	assert.Equal(t, snaps[0].Name, fake.Restores()[0].Name)

	ms := 250 * time.Millisecond
	assert.Equal(t, []time.Duration{ms, ms, ms, ms, ms, DefaultRestoreSettle}, rec.waits)

	assert.Equal(t, 3, report.Pulses)
	assert.Equal(t, 128, report.Brightness)
	assert.True(t, report.Restored)
	st, _ := s.State()
	assert.Equal(t, StateDone, st)
}

func TestFlashNoTargets(t *testing.T) {
	fake := devicetest.New()
	s, _ := newSequencer(fake, Options{Restore: true})

	_, err := s.Flash(context.Background(), Request{Targets: targets.None()})
	require.ErrorIs(t, err, ErrNoUsableTargets)
	assert.Empty(t, fake.Calls())
	assert.Empty(t, fake.Snapshots())
}

func TestFlashSwitchWithUnavailableLight(t *testing.T) {
	fake := devicetest.New().
		Set("switch.porch", device.StateOff, nil).
		Set("light.dead", device.StateUnavailable, nil)
	s, _ := newSequencer(fake, Options{Restore: true})

	report, err := s.Flash(context.Background(), Request{Targets: ids("switch.porch", "light.dead"), Flashes: 2})
	require.NoError(t, err)

	assert.Len(t, fake.CallsFor(device.DomainSwitch, "turn_on"), 2)
	assert.Len(t, fake.CallsFor(device.DomainSwitch, "turn_off"), 2)
	assert.Empty(t, fake.CallsFor(device.DomainLight, "turn_on"))
	assert.Empty(t, fake.CallsFor(device.DomainLight, "turn_off"))
	for _, c := range fake.CallsFor(device.DomainSwitch, "turn_on") {
		assert.Nil(t, c.Params)
	}

	assert.Equal(t, []string{"light.dead"}, report.Missing)
	require.Len(t, fake.Snapshots(), 1)
	assert.Equal(t, []string{"switch.porch"}, fake.Snapshots()[0].Targets)
}

func TestFlashOneCommandPerTier(t *testing.T) {
	fake := devicetest.New().
		Light("light.rgbw_1", "rgbw").
		Light("light.rgb", "rgb").
		Light("light.rgbw_2", "rgbw").
		Light("light.dim", "brightness").
		Light("light.plain", "onoff").
		Set("switch.fan", device.StateOn, nil)
	s, _ := newSequencer(fake, Options{})

	_, err := s.Flash(context.Background(), Request{
		Targets:    ids("light.rgbw_1", "light.rgb", "light.rgbw_2", "light.dim", "light.plain", "switch.fan"),
		Flashes:    1,
		Brightness: color.Raw(200),
		Color:      "#00ff00",
	})
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 7)
	assert.Equal(t, []string{"light.rgbw_1", "light.rgbw_2"}, calls[0].Targets)
	assert.Equal(t, map[string]any{"rgbw_color": []int{0, 255, 0, 0}, "brightness": 200}, calls[0].Params)
	assert.Equal(t, []string{"light.rgb"}, calls[1].Targets)
	assert.Equal(t, map[string]any{"rgb_color": []int{0, 255, 0}, "brightness": 200}, calls[1].Params)
	assert.Equal(t, map[string]any{"brightness": 200}, calls[2].Params)
	assert.Equal(t, []string{"light.plain"}, calls[3].Targets)
	assert.Nil(t, calls[3].Params)
	assert.Equal(t, device.DomainSwitch, calls[4].Domain)

	assert.Equal(t, "turn_off", calls[5].Action)
	assert.Equal(t, []string{"light.rgbw_1", "light.rgb", "light.rgbw_2", "light.dim", "light.plain"}, calls[5].Targets)
	assert.Nil(t, calls[5].Params)
	assert.Equal(t, call(device.DomainSwitch, "turn_off", "switch.fan"), calls[6])

	assert.Empty(t, fake.Snapshots(), "restore disabled")
}

func TestFlashGroupDefaults(t *testing.T) {
	fake := devicetest.New().
		Light("light.a", "hs").
		Light("light.b", "rgbww").
		Group("light.shelves", "light.a", "light.b", "light.a")
	s, _ := newSequencer(fake, Options{DefaultTargets: []string{"light.shelves"}})

	report, err := s.Flash(context.Background(), Request{Flashes: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"light.a", "light.b"}, report.Targets)

	on := fake.CallsFor(device.DomainLight, "turn_on")
	require.Len(t, on, 2)
	assert.Equal(t, []int{255, 0, 0}, on[0].Params["rgb_color"])
	assert.Equal(t, []int{255, 0, 0, 0, 0}, on[1].Params["rgbww_color"])
	assert.Equal(t, 128, on[0].Params["brightness"])
}

func TestFlashInvalidColorFallsBack(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	s, _ := newSequencer(fake, Options{})

	report, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 1, Color: "not-a-color"})
	require.NoError(t, err)
	assert.Equal(t, color.Default(), report.Color)
}

func TestFlashDurationFloor(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	s, rec := newSequencer(fake, Options{})

	_, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 2, On: time.Millisecond, Off: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{MinPulseDuration, MinPulseDuration, MinPulseDuration}, rec.waits)
}

func TestFlashCommandFailuresContinue(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	fake.CommandErr = errors.New("bridge busy")
	s, _ := newSequencer(fake, Options{Restore: true})

	report, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pulses)
	assert.Equal(t, 6, report.Failures)
	assert.Len(t, fake.Restores(), 1)
}

func TestFlashSnapshotFailureStillFlashes(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	fake.SnapshotErr = errors.New("scene service missing")
	s, _ := newSequencer(fake, Options{Restore: true})

	report, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pulses)
	assert.Empty(t, report.Snapshot)
	assert.Empty(t, fake.Restores())
}

func TestFlashSuppressed(t *testing.T) {
	fake := devicetest.New().
		Light("light.a", "rgb").
		Set("input_boolean.do_not_disturb", device.StateOn, nil)
	s, _ := newSequencer(fake, Options{SuppressWhileOn: []string{"input_boolean.do_not_disturb"}})

	_, err := s.Flash(context.Background(), Request{Targets: ids("light.a")})
	require.ErrorIs(t, err, ErrSuppressed)
	assert.Empty(t, fake.Calls())
}

func TestFlashRefreshAfterRestore(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	s, rec := newSequencer(fake, Options{Restore: true, Refresh: true})

	_, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 1})
	require.NoError(t, err)

	refresh := fake.CallsFor("homeassistant", "update_entity")
	require.Len(t, refresh, 1)
	assert.Equal(t, []string{"light.a"}, refresh[0].Targets)
	assert.Equal(t, DefaultRefreshDelay, rec.waits[len(rec.waits)-1])
}

func TestFlashCancelledMidPulse(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	s, _ := newSequencer(fake, Options{Restore: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	report, err := s.Flash(ctx, Request{Targets: ids("light.a"), Flashes: 3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Pulses)
	assert.Len(t, fake.CallsFor(device.DomainLight, "turn_off"), 1)
	assert.Len(t, fake.Restores(), 1)
}

func TestFlashPreemptsRunningSequence(t *testing.T) {
	fake := devicetest.New().Light("light.a", "rgb")
	s, _ := newSequencer(fake, Options{Restore: true})

	started := make(chan struct{})
	var sleeps atomic.Int32
	s.sleep = func(ctx context.Context, d time.Duration) error {
		if sleeps.Add(1) == 1 {
			close(started)
			<-ctx.Done()
		}
		return ctx.Err()
	}

	first := make(chan error, 1)
	go func() {
		_, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 3})
		first <- err
	}()
	<-started

	report, err := s.Flash(context.Background(), Request{Targets: ids("light.a"), Flashes: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pulses)
	assert.ErrorIs(t, <-first, ErrPreempted)

	snaps := fake.Snapshots()
	restores := fake.Restores()
	require.Len(t, snaps, 2)
	require.Len(t, restores, 2)
	assert.Equal(t, snaps[0].Name, restores[0].Name)
	assert.Equal(t, snaps[1].Name, restores[1].Name)
	assert.False(t, s.Running())
}

func TestResolveDoesNotTouchDevices(t *testing.T) {
	fake := devicetest.New().
		Light("light.a", "rgbww").
		Set("switch.b", device.StateOn, nil)
	s, _ := newSequencer(fake, Options{DefaultTargets: []string{"light.a", "switch.b", "light.gone"}})

	set, err := s.Resolve(context.Background(), targets.None())
	require.NoError(t, err)
	assert.Equal(t, []string{"light.a", "switch.b"}, set.IDs())
	assert.Equal(t, []string{"light.gone"}, set.Missing)
	assert.Empty(t, fake.Calls())
	assert.Empty(t, fake.Snapshots())
}

// Package hue implements the device transport directly against a Philips
// Hue bridge. Lights are addressed as "light.<id>" and rooms or zones as
// "group.<id>", using the bridge's numeric identifiers.
package hue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/device"
)

// Bridge is the subset of *huego.Bridge the transport uses.
type Bridge interface {
	GetLight(i int) (*huego.Light, error)
	SetLightState(i int, l huego.State) (*huego.Response, error)
	GetGroup(i int) (*huego.Group, error)
}

// Transport drives a Hue bridge. Snapshots are held in memory for the
// lifetime of the process.
type Transport struct {
	bridge Bridge
	groups *GroupCache

	mu        sync.Mutex
	snapshots map[string]map[int]huego.State
}

// NewTransport creates a Transport.
func NewTransport(bridge Bridge, groups *GroupCache) *Transport {
	if groups == nil {
		groups = NewGroupCache(0)
	}
	return &Transport{
		bridge:    bridge,
		groups:    groups,
		snapshots: make(map[string]map[int]huego.State),
	}
}

// Connect opens a huego bridge for host and user.
func Connect(host, user string) *huego.Bridge {
	log.Info().Str("bridge", host).Msg("Using Hue bridge")
	return huego.New(host, user)
}

func parseRef(id, domain string) (int, bool) {
	ref := device.Ref(id)
	if ref.Domain() != domain {
		return 0, false
	}
	n, err := strconv.Atoi(ref.ObjectID())
	if err != nil {
		return 0, false
	}
	return n, true
}

// Query reports a light's power state plus the color-mode attributes the
// capability resolver understands. Non-light ids do not exist here.
func (t *Transport) Query(ctx context.Context, id string) (device.State, error) {
	n, ok := parseRef(id, device.DomainLight)
	if !ok {
		return device.State{}, nil
	}

	light, err := t.bridge.GetLight(n)
	if err != nil {
		return device.State{}, fmt.Errorf("%w: get light %d: %v", device.ErrTransport, n, err)
	}
	if light == nil || light.State == nil {
		return device.State{}, nil
	}

	value := device.StateOff
	if light.State.On {
		value = device.StateOn
	}
	if !light.State.Reachable {
		value = device.StateUnavailable
	}

	attrs := map[string]any{
		"friendly_name":         light.Name,
		"supported_color_modes": supportedModes(light.Type),
	}
	if mode := colorMode(light.State.ColorMode); mode != "" {
		attrs["color_mode"] = mode
	}

	return device.State{Exists: true, Value: value, Attributes: attrs}, nil
}

func supportedModes(lightType string) []string {
	switch lightType {
	case "Extended color light":
		return []string{"xy", "color_temp"}
	case "Color light":
		return []string{"xy"}
	case "Color temperature light":
		return []string{"color_temp"}
	case "Dimmable light":
		return []string{"brightness"}
	default:
		return []string{"onoff"}
	}
}

func colorMode(mode string) string {
	switch mode {
	case "xy", "hs":
		return mode
	case "ct":
		return "color_temp"
	}
	return ""
}

// Command translates light and group turn_on/turn_off actions into bridge
// state writes, one per light. Every light is attempted; the first error
// is returned.
func (t *Transport) Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error {
	if domain != device.DomainLight {
		return fmt.Errorf("%w: unsupported domain %q", device.ErrTransport, domain)
	}

	var state huego.State
	switch action {
	case "turn_on":
		state = onState(params)
	case "turn_off":
		state = huego.State{On: false}
	default:
		return fmt.Errorf("%w: unsupported action %q", device.ErrTransport, action)
	}

	var firstErr error
	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := parseRef(id, device.DomainLight)
		if !ok {
			continue
		}
		if _, err := t.bridge.SetLightState(n, state); err != nil {
			log.Debug().Err(err).Int("light", n).Msg("Failed to set light state")
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: set light %d: %v", device.ErrTransport, n, err)
			}
		}
	}
	return firstErr
}

func onState(params map[string]any) huego.State {
	state := huego.State{On: true}

	if level, ok := device.AttrInt(params["brightness"]); ok {
		state.Bri = hueBrightness(level)
	}
	for _, key := range []string{"rgb_color", "rgbw_color", "rgbww_color"} {
		channels := channelValues(params[key])
		if len(channels) >= 3 {
			state.Xy = rgbToXY(channels[0], channels[1], channels[2])
			break
		}
	}
	return state
}

func channelValues(v any) []float64 {
	switch val := v.(type) {
	case []int:
		out := make([]float64, len(val))
		for i, n := range val {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]float64, 0, len(val))
		for _, item := range val {
			if f, ok := device.AttrFloat(item); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// CreateSnapshot records the current state of every targeted light.
func (t *Transport) CreateSnapshot(ctx context.Context, name string, targets []string) (device.SnapshotHandle, error) {
	captured := make(map[int]huego.State, len(targets))
	for _, id := range targets {
		n, ok := parseRef(id, device.DomainLight)
		if !ok {
			continue
		}
		light, err := t.bridge.GetLight(n)
		if err != nil {
			return device.SnapshotHandle{}, fmt.Errorf("%w: snapshot light %d: %v", device.ErrTransport, n, err)
		}
		if light.State != nil {
			captured[n] = *light.State
		}
	}

	t.mu.Lock()
	t.snapshots[name] = captured
	t.mu.Unlock()

	return device.SnapshotHandle{Name: name, Targets: append([]string(nil), targets...)}, nil
}

// Restore writes the recorded states back and forgets the snapshot.
func (t *Transport) Restore(ctx context.Context, handle device.SnapshotHandle) error {
	t.mu.Lock()
	captured, ok := t.snapshots[handle.Name]
	delete(t.snapshots, handle.Name)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: unknown snapshot %q", device.ErrTransport, handle.Name)
	}

	var firstErr error
	for _, id := range handle.Targets {
		n, ok := parseRef(id, device.DomainLight)
		if !ok {
			continue
		}
		prev, ok := captured[n]
		if !ok {
			continue
		}
		if _, err := t.bridge.SetLightState(n, restoreState(prev)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: restore light %d: %v", device.ErrTransport, n, err)
		}
	}
	return firstErr
}

func restoreState(prev huego.State) huego.State {
	if !prev.On {
		return huego.State{On: false}
	}
	st := huego.State{On: true, Bri: prev.Bri}
	switch prev.ColorMode {
	case "xy":
		st.Xy = prev.Xy
	case "ct":
		st.Ct = prev.Ct
	case "hs":
		st.Hue = prev.Hue
		st.Sat = prev.Sat
	}
	return st
}

// Members expands "group.<id>" into its member lights.
func (t *Transport) Members(ctx context.Context, id string) ([]string, bool, error) {
	n, ok := parseRef(id, device.DomainGroup)
	if !ok {
		return nil, false, nil
	}
	if lights, ok := t.groups.Get(n); ok {
		return lights, true, nil
	}

	group, err := t.bridge.GetGroup(n)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get group %d: %v", device.ErrTransport, n, err)
	}

	lights := make([]string, 0, len(group.Lights))
	for _, l := range group.Lights {
		lights = append(lights, device.DomainLight+"."+l)
	}
	t.groups.Set(n, lights)
	return lights, true, nil
}

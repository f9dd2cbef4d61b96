// Package devicetest provides an in-memory device.Transport for tests.
package devicetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dokzlo13/ringflash/internal/device"
)

// Call records a single Command invocation.
type Call struct {
	Domain  string
	Action  string
	Targets []string
	Params  map[string]any
}

// Transport is a fake device transport backed by a map of states.
type Transport struct {
	mu sync.Mutex

	states  map[string]device.State
	groups  map[string][]string
	queries map[string]int

	QueryErr    map[string]error
	CommandErr  error
	SnapshotErr error
	RestoreErr  error

	// OnCommand, if set, runs after each recorded command.
	OnCommand func(Call)

	calls     []Call
	snapshots []device.SnapshotHandle
	restores  []device.SnapshotHandle
}

// New creates an empty fake transport.
func New() *Transport {
	return &Transport{
		states:   make(map[string]device.State),
		groups:   make(map[string][]string),
		queries:  make(map[string]int),
		QueryErr: make(map[string]error),
	}
}

// Set registers a device with the given state value and attributes.
func (t *Transport) Set(id, value string, attrs map[string]any) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = device.State{Exists: true, Value: value, Attributes: attrs}
	return t
}

// Light registers an "on" light declaring the given color modes.
func (t *Transport) Light(id string, modes ...string) *Transport {
	list := make([]any, 0, len(modes))
	for _, m := range modes {
		list = append(list, m)
	}
	return t.Set(id, device.StateOn, map[string]any{"supported_color_modes": list})
}

// Group registers a group and its members.
func (t *Transport) Group(id string, members ...string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[id] = members
	return t
}

func (t *Transport) Query(ctx context.Context, id string) (device.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[id]++
	if err := t.QueryErr[id]; err != nil {
		return device.State{}, err
	}
	st, ok := t.states[id]
	if !ok {
		return device.State{}, nil
	}
	return st, nil
}

func (t *Transport) Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := Call{
		Domain:  domain,
		Action:  action,
		Targets: append([]string(nil), targets...),
		Params:  params,
	}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	hook := t.OnCommand
	err := t.CommandErr
	t.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (t *Transport) CreateSnapshot(ctx context.Context, name string, targets []string) (device.SnapshotHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SnapshotErr != nil {
		return device.SnapshotHandle{}, t.SnapshotErr
	}
	h := device.SnapshotHandle{Name: name, Targets: append([]string(nil), targets...)}
	t.snapshots = append(t.snapshots, h)
	return h, nil
}

func (t *Transport) Restore(ctx context.Context, handle device.SnapshotHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RestoreErr != nil {
		return t.RestoreErr
	}
	t.restores = append(t.restores, handle)
	return nil
}

func (t *Transport) Members(ctx context.Context, id string) ([]string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.groups[id]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), members...), true, nil
}

// Calls returns a copy of all recorded commands.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsFor returns recorded commands matching domain and action.
func (t *Transport) CallsFor(domain, action string) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Domain == domain && c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// Snapshots returns all created snapshots.
func (t *Transport) Snapshots() []device.SnapshotHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]device.SnapshotHandle(nil), t.snapshots...)
}

// Restores returns all restored snapshots.
func (t *Transport) Restores() []device.SnapshotHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]device.SnapshotHandle(nil), t.restores...)
}

// Queries returns how many times id was queried.
func (t *Transport) Queries(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queries[id]
}

// String summarises recorded commands, handy in assertion messages.
func (t *Transport) String() string {
	return fmt.Sprintf("%+v", t.Calls())
}

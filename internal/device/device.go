// Package device defines the device-command transport boundary used by the
// flash and chime sequencers: entity references, queried state, commands and
// named state snapshots.
package device

import (
	"context"
	"errors"
	"strings"
)

// Domains the core knows about.
const (
	DomainLight       = "light"
	DomainSwitch      = "switch"
	DomainGroup       = "group"
	DomainMediaPlayer = "media_player"
	DomainScene       = "scene"
)

// Sentinel state values reported for devices that exist but cannot be used.
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
	StateOn          = "on"
	StateOff         = "off"
)

// ErrTransport marks failures of the device-command transport itself
// (unreachable service, bad status, decode failure).
var ErrTransport = errors.New("device transport error")

// Ref is a domain-prefixed entity identifier such as "light.shelf_1".
type Ref string

// Domain returns the prefix before the first '.', or "" if there is none.
func (r Ref) Domain() string {
	s := string(r)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return ""
}

// ObjectID returns the part after the domain prefix.
func (r Ref) ObjectID() string {
	s := string(r)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (r Ref) String() string { return string(r) }

// State is the result of querying a single device.
type State struct {
	Exists     bool
	Value      string
	Attributes map[string]any
}

// Usable reports whether the device exists and reports a real state.
func (s State) Usable() bool {
	if !s.Exists {
		return false
	}
	switch s.Value {
	case "", StateUnavailable, StateUnknown:
		return false
	}
	return true
}

// Attr returns an attribute value or nil.
func (s State) Attr(key string) any {
	if s.Attributes == nil {
		return nil
	}
	return s.Attributes[key]
}

// SnapshotHandle identifies a captured prior-state record.
type SnapshotHandle struct {
	Name    string
	Targets []string
}

// Transport is the device-command and state service the core depends on.
type Transport interface {
	// Query returns the current state of a device. A device that does not
	// exist is reported with Exists=false and a nil error.
	Query(ctx context.Context, id string) (State, error)

	// Command issues a single batched action against all targets.
	Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error

	// CreateSnapshot captures the current state of targets under name.
	CreateSnapshot(ctx context.Context, name string, targets []string) (SnapshotHandle, error)

	// Restore re-applies a snapshot created by CreateSnapshot.
	Restore(ctx context.Context, handle SnapshotHandle) error
}

// GroupLister is implemented by transports that can expand a group
// reference into its member identifiers. ok is false when id is not a group.
type GroupLister interface {
	Members(ctx context.Context, id string) (members []string, ok bool, err error)
}

// AttrStrings reads a string-list attribute that may arrive as []string,
// []any or a single string.
func AttrStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AttrInt reads a numeric attribute; JSON numbers decode as float64.
func AttrInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	}
	return 0, false
}

// AttrFloat reads a numeric attribute as float64.
func AttrFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	}
	return 0, false
}

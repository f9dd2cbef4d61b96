package ring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RingEventType is the event_type a doorbell press reports.
const RingEventType = "ding"

var (
	validKinds        = set("ding", "doorbell", "on_demand_ding", "remote_ding")
	validStates       = set("ringing", "starting", "doorbell", "button", "on_demand")
	validButtonStates = set("ringing", "pressed", "start")
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// Event is a doorbell event as reported by the event entity: its type plus
// the free-form event payload.
type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"event_data"`
}

// EventFromAttributes builds an Event from event-entity attributes. The
// event_data attribute may be a mapping or a JSON-encoded string.
func EventFromAttributes(attrs map[string]any) Event {
	ev := Event{}
	if s, ok := attrs["event_type"].(string); ok {
		ev.Type = s
	}
	ev.Data = coerceMapping(attrs["event_data"])
	return ev
}

func coerceMapping(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return val
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

// Accept reports whether ev is a real button press rather than motion or
// some other doorbell activity. The reason explains a rejection.
func Accept(ev Event) (bool, string) {
	if ev.Type != RingEventType {
		return false, fmt.Sprintf("event type %q", ev.Type)
	}

	kind, present := field(ev.Data, "kind")
	if present && !member(validKinds, kind) {
		return false, fmt.Sprintf("kind %q", kind)
	}

	state, present := field(ev.Data, "state")
	button, _ := field(ev.Data, "doorbellStatus")
	stateOK := !present || member(validStates, state)
	if !stateOK && !member(validButtonStates, button) {
		return false, fmt.Sprintf("state %q", state)
	}

	if !motionClear(ev.Data["motion"]) {
		return false, "motion"
	}
	return true, ""
}

// field returns the value under key as a string. present is false for an
// absent or null key; an explicit empty string is present.
func field(data map[string]any, key string) (value string, present bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

func member(values map[string]struct{}, v string) bool {
	_, ok := values[v]
	return ok
}

func motionClear(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return strings.EqualFold(val, "false")
	}
	return false
}

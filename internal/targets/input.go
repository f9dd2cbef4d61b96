// Package targets turns heterogeneous target inputs into a flat, ordered,
// deduplicated list of entity identifiers.
package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for target values that cannot name an entity.
var ErrInvalid = errors.New("invalid targets")

type inputKind int

const (
	kindNone inputKind = iota
	kindList
)

// Input is the normalized boundary form of a target specification. Callers
// build it with None, FromString, FromList or FromAny; the pipeline never
// branches on raw dynamic types after that.
type Input struct {
	kind  inputKind
	items []string
}

// None is an absent input; normalization falls back to the defaults.
func None() Input {
	return Input{kind: kindNone}
}

// FromList wraps an explicit list of identifiers.
func FromList(ids []string) Input {
	if ids == nil {
		return None()
	}
	return Input{kind: kindList, items: append([]string(nil), ids...)}
}

// FromString accepts a single id, a comma-separated list, or a JSON array.
func FromString(s string) Input {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			in, err := FromAny(decoded)
			if err == nil {
				return in
			}
		}
	}
	return Input{kind: kindList, items: strings.Split(s, ",")}
}

// FromAny coerces a decoded JSON/YAML value. Accepted shapes: nil, string,
// []string, []any (nested), and mappings carrying an "entity_id" key.
// Numbers and booleans are taken in their printed form.
func FromAny(v any) (Input, error) {
	if v == nil {
		return None(), nil
	}
	var items []string
	if err := flatten(v, &items); err != nil {
		return Input{}, err
	}
	return Input{kind: kindList, items: items}, nil
}

func flatten(v any, out *[]string) error {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		in := FromString(val)
		*out = append(*out, in.items...)
	case []string:
		*out = append(*out, val...)
	case []any:
		for _, item := range val {
			if err := flatten(item, out); err != nil {
				return err
			}
		}
	case map[string]any:
		id, ok := val["entity_id"]
		if !ok {
			return fmt.Errorf("%w: mapping without entity_id", ErrInvalid)
		}
		return flatten(id, out)
	case bool, float64, float32, int, int64, json.Number:
		*out = append(*out, fmt.Sprint(val))
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalid, v)
	}
	return nil
}

// IsEmpty reports whether the input carries no usable entries.
func (in Input) IsEmpty() bool {
	if in.kind == kindNone {
		return true
	}
	for _, item := range in.items {
		if strings.TrimSpace(item) != "" {
			return false
		}
	}
	return true
}

// Items returns the raw entries in input order, trimmed, blanks removed.
func (in Input) Items() []string {
	out := make([]string, 0, len(in.items))
	for _, item := range in.items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UnmarshalJSON lets request bodies carry any accepted target shape.
func (in *Input) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*in = parsed
	return nil
}

// UnmarshalYAML accepts the same shapes from configuration files.
func (in *Input) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*in = parsed
	return nil
}

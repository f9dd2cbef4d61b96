// Package capability classifies resolved devices into control tiers and
// picks the preferred color encoding for color-capable lights.
package capability

import (
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/device"
)

// Tier is a device's control-capability class.
type Tier int

const (
	// TierSwitch is a switch-domain device: on/off only, never parameters.
	TierSwitch Tier = iota
	// TierOnOffLight is a light with neither brightness nor color control.
	TierOnOffLight
	// TierDimmable is a light with brightness control only.
	TierDimmable
	// TierColor is a light accepting a color payload.
	TierColor
)

func (t Tier) String() string {
	switch t {
	case TierSwitch:
		return "switch"
	case TierOnOffLight:
		return "onoff_light"
	case TierDimmable:
		return "dimmable_light"
	case TierColor:
		return "color_light"
	default:
		return "unknown"
	}
}

// IsLight reports whether the tier is driven through the light domain.
func (t Tier) IsLight() bool {
	return t != TierSwitch
}

// Target is a classified device. Encoding is only meaningful for TierColor.
type Target struct {
	Ref      device.Ref
	Tier     Tier
	Encoding color.Encoding
}

// TargetSet is the outcome of one resolution pass.
type TargetSet struct {
	Targets     []Target
	Missing     []string
	Unsupported []string
}

// Empty reports whether no usable target was resolved.
func (s TargetSet) Empty() bool {
	return len(s.Targets) == 0
}

// IDs returns all resolved identifiers in resolution order.
func (s TargetSet) IDs() []string {
	out := make([]string, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, string(t.Ref))
	}
	return out
}

// Tier returns the identifiers of a given tier, in resolution order.
func (s TargetSet) Tier(tier Tier) []string {
	var out []string
	for _, t := range s.Targets {
		if t.Tier == tier {
			out = append(out, string(t.Ref))
		}
	}
	return out
}

// Lights returns every light-domain identifier, in resolution order.
func (s TargetSet) Lights() []string {
	var out []string
	for _, t := range s.Targets {
		if t.Tier.IsLight() {
			out = append(out, string(t.Ref))
		}
	}
	return out
}

// ColorBatch is the set of color lights sharing one encoding.
type ColorBatch struct {
	Encoding color.Encoding
	IDs      []string
}

// ColorBatches groups color lights by encoding, ordered by each encoding's
// first appearance in the set.
func (s TargetSet) ColorBatches() []ColorBatch {
	var batches []ColorBatch
	index := make(map[color.Encoding]int)
	for _, t := range s.Targets {
		if t.Tier != TierColor {
			continue
		}
		i, ok := index[t.Encoding]
		if !ok {
			i = len(batches)
			index[t.Encoding] = i
			batches = append(batches, ColorBatch{Encoding: t.Encoding})
		}
		batches[i].IDs = append(batches[i].IDs, string(t.Ref))
	}
	return batches
}

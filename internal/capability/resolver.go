package capability

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/device"
)

// Legacy supported_features bits reported by older light integrations.
const (
	featureBrightness = 1
	featureColor      = 16
)

// Querier is the read-only slice of device.Transport the resolver needs.
type Querier interface {
	Query(ctx context.Context, id string) (device.State, error)
}

// Resolver queries and classifies normalized identifiers.
type Resolver struct {
	q Querier
}

// NewResolver creates a Resolver.
func NewResolver(q Querier) *Resolver {
	return &Resolver{q: q}
}

// Resolve classifies ids in order. A query failure only affects its own id,
// which is reported as missing.
func (r *Resolver) Resolve(ctx context.Context, ids []string) TargetSet {
	var set TargetSet

	for _, id := range ids {
		st, err := r.q.Query(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("entity", id).Msg("Device query failed, treating as missing")
			set.Missing = append(set.Missing, id)
			continue
		}
		if !st.Usable() {
			log.Debug().Str("entity", id).Str("state", st.Value).Bool("exists", st.Exists).Msg("Device unavailable")
			set.Missing = append(set.Missing, id)
			continue
		}

		target, ok := Classify(device.Ref(id), st)
		if !ok {
			set.Unsupported = append(set.Unsupported, id)
			continue
		}
		set.Targets = append(set.Targets, target)
	}

	log.Debug().
		Int("targets", len(set.Targets)).
		Strs("missing", set.Missing).
		Strs("unsupported", set.Unsupported).
		Msg("Targets resolved")

	return set
}

// Classify derives the tier of a single usable device. ok is false for
// domains that cannot be flashed.
func Classify(ref device.Ref, st device.State) (Target, bool) {
	switch ref.Domain() {
	case device.DomainSwitch:
		return Target{Ref: ref, Tier: TierSwitch}, true
	case device.DomainLight:
		return classifyLight(ref, st), true
	default:
		return Target{}, false
	}
}

func classifyLight(ref device.Ref, st device.State) Target {
	declared := lowerAll(device.AttrStrings(st.Attr("supported_color_modes")))
	current := ""
	if s, ok := st.Attr("color_mode").(string); ok {
		current = strings.ToLower(s)
	}
	features, _ := device.AttrInt(st.Attr("supported_features"))

	modes := declared
	if current != "" {
		modes = append(append([]string(nil), declared...), current)
	}

	if anyMode(modes, isColorMode) || features&featureColor != 0 {
		return Target{Ref: ref, Tier: TierColor, Encoding: PreferredEncoding(declared, current)}
	}
	if anyMode(modes, isBrightnessMode) || features&featureBrightness != 0 {
		return Target{Ref: ref, Tier: TierDimmable}
	}
	return Target{Ref: ref, Tier: TierOnOffLight}
}

// PreferredEncoding picks the color encoding for a light: the live color
// mode if it is an RGB variant, else the richest declared RGB variant, else
// rgb (including for hs/xy-only lights).
func PreferredEncoding(declared []string, current string) color.Encoding {
	if enc, ok := rgbEncoding(current); ok {
		return enc
	}
	for _, want := range []color.Encoding{color.EncodingRGBWW, color.EncodingRGBW, color.EncodingRGB} {
		for _, m := range declared {
			if enc, ok := rgbEncoding(m); ok && enc == want {
				return enc
			}
		}
	}
	return color.EncodingRGB
}

func rgbEncoding(mode string) (color.Encoding, bool) {
	switch mode {
	case "rgb":
		return color.EncodingRGB, true
	case "rgbw":
		return color.EncodingRGBW, true
	case "rgbww":
		return color.EncodingRGBWW, true
	}
	return 0, false
}

func isColorMode(m string) bool {
	return strings.Contains(m, "rgb") || m == "hs" || m == "xy"
}

func isBrightnessMode(m string) bool {
	switch m {
	case "brightness", "color_temp", "white":
		return true
	}
	return false
}

func anyMode(modes []string, pred func(string) bool) bool {
	for _, m := range modes {
		if pred(m) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

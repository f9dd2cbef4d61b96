package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/device"
	"github.com/dokzlo13/ringflash/internal/device/devicetest"
)

func TestClassifyLight(t *testing.T) {
	tests := []struct {
		name     string
		attrs    map[string]any
		tier     Tier
		encoding color.Encoding
	}{
		{
			name:  "onoff_only",
			attrs: map[string]any{"supported_color_modes": []any{"onoff"}},
			tier:  TierOnOffLight,
		},
		{
			name:  "no_attributes",
			attrs: nil,
			tier:  TierOnOffLight,
		},
		{
			name:  "brightness",
			attrs: map[string]any{"supported_color_modes": []any{"brightness"}},
			tier:  TierDimmable,
		},
		{
			name:  "color_temp_is_dimmable",
			attrs: map[string]any{"supported_color_modes": []any{"color_temp"}},
			tier:  TierDimmable,
		},
		{
			name:  "legacy_brightness_bit",
			attrs: map[string]any{"supported_features": float64(1)},
			tier:  TierDimmable,
		},
		{
			name:     "legacy_color_bit",
			attrs:    map[string]any{"supported_features": float64(17)},
			tier:     TierColor,
			encoding: color.EncodingRGB,
		},
		{
			name:     "rgbw_declared",
			attrs:    map[string]any{"supported_color_modes": []any{"rgbw"}},
			tier:     TierColor,
			encoding: color.EncodingRGBW,
		},
		{
			name:     "rgbww_declared",
			attrs:    map[string]any{"supported_color_modes": []any{"rgbww"}},
			tier:     TierColor,
			encoding: color.EncodingRGBWW,
		},
		{
			name:     "priority_rgbww_over_rgb",
			attrs:    map[string]any{"supported_color_modes": []any{"rgb", "rgbww", "rgbw"}},
			tier:     TierColor,
			encoding: color.EncodingRGBWW,
		},
		{
			name:     "current_mode_wins",
			attrs:    map[string]any{"supported_color_modes": []any{"rgbww", "rgbw"}, "color_mode": "rgbw"},
			tier:     TierColor,
			encoding: color.EncodingRGBW,
		},
		{
			name:     "current_non_rgb_mode_ignored",
			attrs:    map[string]any{"supported_color_modes": []any{"rgbw", "color_temp"}, "color_mode": "color_temp"},
			tier:     TierColor,
			encoding: color.EncodingRGBW,
		},
		{
			name:     "hs_falls_back_to_rgb",
			attrs:    map[string]any{"supported_color_modes": []any{"hs", "color_temp"}},
			tier:     TierColor,
			encoding: color.EncodingRGB,
		},
		{
			name:     "xy_current_only",
			attrs:    map[string]any{"color_mode": "xy"},
			tier:     TierColor,
			encoding: color.EncodingRGB,
		},
		{
			name:     "uppercase_tokens",
			attrs:    map[string]any{"supported_color_modes": []any{"RGBW"}},
			tier:     TierColor,
			encoding: color.EncodingRGBW,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify("light.x", device.State{Exists: true, Value: "on", Attributes: tt.attrs})
			require.True(t, ok)
			assert.Equal(t, tt.tier, got.Tier)
			if tt.tier == TierColor {
				assert.Equal(t, tt.encoding, got.Encoding)
			}
		})
	}
}

func TestClassifyDomains(t *testing.T) {
	got, ok := Classify("switch.porch", device.State{Exists: true, Value: "off"})
	require.True(t, ok)
	assert.Equal(t, TierSwitch, got.Tier)

	_, ok = Classify("media_player.kitchen", device.State{Exists: true, Value: "idle"})
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	fake := devicetest.New().
		Light("light.shelf_1", "rgbw").
		Set("light.dead", device.StateUnavailable, nil).
		Set("light.unknown", device.StateUnknown, nil).
		Set("switch.porch", device.StateOff, nil).
		Set("sensor.temp", "21", nil).
		Light("light.broken", "rgb").
		Light("light.dim", "brightness")
	fake.QueryErr["light.broken"] = errors.New("timeout")

	ids := []string{"light.shelf_1", "light.dead", "light.nope", "switch.porch", "sensor.temp", "light.broken", "light.unknown", "light.dim"}
	set := NewResolver(fake).Resolve(context.Background(), ids)

	assert.Equal(t, []string{"light.shelf_1", "switch.porch", "light.dim"}, set.IDs())
	assert.Equal(t, []string{"light.dead", "light.nope", "light.broken", "light.unknown"}, set.Missing)
	assert.Equal(t, []string{"sensor.temp"}, set.Unsupported)
	assert.Equal(t, []string{"switch.porch"}, set.Tier(TierSwitch))
	assert.Equal(t, []string{"light.shelf_1", "light.dim"}, set.Lights())
}

func TestResolveIsIdempotent(t *testing.T) {
	fake := devicetest.New().
		Light("light.a", "rgbww").
		Light("light.b", "hs").
		Set("switch.c", "on", nil)
	r := NewResolver(fake)
	ids := []string{"light.a", "light.b", "switch.c"}

	first := r.Resolve(context.Background(), ids)
	second := r.Resolve(context.Background(), ids)
	assert.Equal(t, first, second)
}

func TestColorBatches(t *testing.T) {
	set := TargetSet{Targets: []Target{
		{Ref: "light.a", Tier: TierColor, Encoding: color.EncodingRGBW},
		{Ref: "light.b", Tier: TierDimmable},
		{Ref: "light.c", Tier: TierColor, Encoding: color.EncodingRGB},
		{Ref: "light.d", Tier: TierColor, Encoding: color.EncodingRGBW},
	}}

	batches := set.ColorBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, ColorBatch{Encoding: color.EncodingRGBW, IDs: []string{"light.a", "light.d"}}, batches[0])
	assert.Equal(t, ColorBatch{Encoding: color.EncodingRGB, IDs: []string{"light.c"}}, batches[1])
}

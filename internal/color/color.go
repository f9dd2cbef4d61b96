// Package color maps requested color specifications onto canonical RGB
// triples plus optional white channels, and builds the per-encoding
// payloads color-capable lights accept.
package color

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrParse is returned (wrapped) when a color input cannot be parsed. The
// accompanying Spec is always the default, so callers may log and continue.
var ErrParse = errors.New("color parse error")

// Encoding is the channel layout a light's color command accepts.
type Encoding int

const (
	EncodingRGB Encoding = iota
	EncodingRGBW
	EncodingRGBWW
)

func (e Encoding) String() string {
	switch e {
	case EncodingRGBW:
		return "rgbw"
	case EncodingRGBWW:
		return "rgbww"
	default:
		return "rgb"
	}
}

// Attribute returns the command parameter name for the encoding.
func (e Encoding) Attribute() string {
	return e.String() + "_color"
}

// extraChannels is how many channels beyond RGB the encoding carries.
func (e Encoding) extraChannels() int {
	switch e {
	case EncodingRGBW:
		return 1
	case EncodingRGBWW:
		return 2
	default:
		return 0
	}
}

// Spec is a canonical color: an RGB triple plus up to two extra channels.
type Spec struct {
	RGB   [3]uint8
	Extra []uint8
}

// Default is the color used when nothing (or nothing valid) is requested.
func Default() Spec {
	return Spec{RGB: [3]uint8{255, 0, 0}}
}

func (s Spec) String() string {
	if len(s.Extra) == 0 {
		return fmt.Sprintf("rgb(%d,%d,%d)", s.RGB[0], s.RGB[1], s.RGB[2])
	}
	return fmt.Sprintf("rgb(%d,%d,%d)+%v", s.RGB[0], s.RGB[1], s.RGB[2], s.Extra)
}

// Payload returns the parameter name and channel list for enc. Missing extra
// channels are filled with 0; surplus ones are dropped.
func (s Spec) Payload(enc Encoding) (string, []int) {
	n := enc.extraChannels()
	channels := make([]int, 0, 3+n)
	for _, c := range s.RGB {
		channels = append(channels, int(c))
	}
	for i := 0; i < n; i++ {
		var v uint8
		if i < len(s.Extra) {
			v = s.Extra[i]
		}
		channels = append(channels, int(v))
	}
	return enc.Attribute(), channels
}

var named = map[string][3]uint8{
	"red":        {255, 0, 0},
	"green":      {0, 255, 0},
	"blue":       {0, 0, 255},
	"white":      {255, 255, 255},
	"warm_white": {255, 180, 107},
	"yellow":     {255, 255, 0},
	"amber":      {255, 191, 0},
	"orange":     {255, 165, 0},
	"purple":     {128, 0, 128},
	"violet":     {238, 130, 238},
	"magenta":    {255, 0, 255},
	"pink":       {255, 192, 203},
	"cyan":       {0, 255, 255},
	"teal":       {0, 128, 128},
	"navy":       {0, 0, 128},
	"lime":       {50, 205, 50},
	"gold":       {255, 215, 0},
}

// Parse converts a raw color input into a Spec. Accepted inputs: nil, a
// color name, "#RRGGBB", "#RRGGBBWW", "#RRGGBBWWCC", a list of 3-5 numbers,
// or a comma/space separated numeric string. On failure the default color
// is returned together with an error wrapping ErrParse.
func Parse(raw any) (Spec, error) {
	switch v := raw.(type) {
	case nil:
		return Default(), nil
	case Spec:
		return v, nil
	case string:
		return parseString(v)
	case []int:
		vals := make([]float64, len(v))
		for i, n := range v {
			vals[i] = float64(n)
		}
		return fromList(vals, raw)
	case []float64:
		return fromList(v, raw)
	case []any:
		vals := make([]float64, 0, len(v))
		for _, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return Default(), fmt.Errorf("%w: non-numeric channel %v", ErrParse, item)
			}
			vals = append(vals, f)
		}
		return fromList(vals, raw)
	}
	return Default(), fmt.Errorf("%w: unsupported type %T", ErrParse, raw)
}

func parseString(s string) (Spec, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Default(), nil
	}

	key := strings.ReplaceAll(strings.ToLower(text), " ", "_")
	if rgb, ok := named[key]; ok {
		return Spec{RGB: rgb}, nil
	}

	if strings.HasPrefix(text, "#") {
		return parseHex(text[1:])
	}

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '(' || r == ')' || r == '[' || r == ']'
	})
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Default(), fmt.Errorf("%w: %q", ErrParse, s)
		}
		vals = append(vals, n)
	}
	return fromChannels(vals, s)
}

func parseHex(digits string) (Spec, error) {
	switch len(digits) {
	case 6, 8, 10:
	default:
		return Default(), fmt.Errorf("%w: hex color must have 6, 8 or 10 digits, got %d", ErrParse, len(digits))
	}

	raw, err := hex.DecodeString(digits)
	if err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrParse, err)
	}

	spec := Spec{RGB: [3]uint8{raw[0], raw[1], raw[2]}}
	if len(raw) > 3 {
		spec.Extra = append([]uint8(nil), raw[3:]...)
	}
	return spec, nil
}

// fromList accepts 3 to 5 channels. Free-form strings go through
// fromChannels directly and may carry surplus tokens.
func fromList(vals []float64, raw any) (Spec, error) {
	if len(vals) > 5 {
		return Default(), fmt.Errorf("%w: at most 5 channels in %v", ErrParse, raw)
	}
	return fromChannels(vals, raw)
}

func fromChannels(vals []float64, raw any) (Spec, error) {
	if len(vals) < 3 {
		return Default(), fmt.Errorf("%w: need at least 3 channels in %v", ErrParse, raw)
	}
	for _, v := range vals {
		if math.IsNaN(v) {
			return Default(), fmt.Errorf("%w: NaN channel in %v", ErrParse, raw)
		}
	}

	spec := Spec{RGB: [3]uint8{Clamp(vals[0]), Clamp(vals[1]), Clamp(vals[2])}}
	extra := vals[3:]
	if len(extra) > 2 {
		extra = extra[:2]
	}
	for _, v := range extra {
		spec.Extra = append(spec.Extra, Clamp(v))
	}
	return spec, nil
}

// Clamp truncates v towards zero and clamps it into [0,255].
func Clamp(v float64) uint8 {
	n := math.Trunc(v)
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

package color

import (
	"fmt"
	"math"
)

// Brightness is a requested light level, either a raw 1-255 value or a
// 1-100 percentage.
type Brightness struct {
	Value   float64
	Percent bool
}

// Percent builds a percentage brightness.
func Percent(p float64) Brightness {
	return Brightness{Value: p, Percent: true}
}

// Raw builds a 1-255 brightness.
func Raw(v float64) Brightness {
	return Brightness{Value: v}
}

// Level returns the brightness on the 1-255 scale. Percentages are clamped
// to 1-100 and scaled with rounding, so 50% becomes 128.
func (b Brightness) Level() int {
	if b.Percent {
		p := math.Max(1, math.Min(100, b.Value))
		return clampLevel(math.Round(p * 255 / 100))
	}
	return clampLevel(math.Trunc(b.Value))
}

func (b Brightness) String() string {
	if b.Percent {
		return fmt.Sprintf("%g%%", b.Value)
	}
	return fmt.Sprintf("%g", b.Value)
}

func clampLevel(v float64) int {
	if v < 1 {
		return 1
	}
	if v > 255 {
		return 255
	}
	return int(v)
}

package hue

import "math"

// rgbToXY converts an sRGB triple to CIE xy using the Wide RGB D65
// conversion the bridge expects.
func rgbToXY(r, g, b float64) []float32 {
	lr := gammaExpand(r / 255)
	lg := gammaExpand(g / 255)
	lb := gammaExpand(b / 255)

	x := lr*0.664511 + lg*0.154324 + lb*0.162028
	y := lr*0.283881 + lg*0.668433 + lb*0.047685
	z := lr*0.000088 + lg*0.072310 + lb*0.986039

	sum := x + y + z
	if sum == 0 {
		// black has no chromaticity; use the white point
		return []float32{0.3127, 0.3290}
	}
	return []float32{round4(x / sum), round4(y / sum)}
}

func gammaExpand(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func round4(v float64) float32 {
	return float32(math.Round(v*10000) / 10000)
}

// hueBrightness maps a 1-255 level onto the bridge's 1-254 range.
func hueBrightness(level int) uint8 {
	if level < 1 {
		return 1
	}
	if level > 254 {
		return 254
	}
	return uint8(level)
}

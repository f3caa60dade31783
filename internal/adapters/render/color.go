package render

import (
	"image/color"

	"github.com/cespare/xxhash/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// ColorFor derives the annotation colour of a label. The hash is stable, so
// a label keeps its colour across restarts and hosts.
func ColorFor(label string) color.RGBA {
	h := xxhash.Sum64String(label) % 255
	return color.RGBA{
		R: uint8(127 + h/2),
		G: uint8(255 - h),
		B: uint8(h),
		A: 0xff,
	}
}

// HexFor returns ColorFor(label) as a "#rrggbb" string.
func HexFor(label string) string {
	c := ColorFor(label)
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

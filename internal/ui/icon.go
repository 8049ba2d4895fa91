package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// trayIcon renders the menu bar glyph: a two by two grid of squares,
// one per review slot, in the default marker color.
func trayIcon() []byte {
	const (
		size = 22
		pad  = 2
		gap  = 2
	)

	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	tint := color.NRGBA{R: 0x34, G: 0x98, B: 0xdb, A: 0xff}

	cell := (size - 2*pad - gap) / 2
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			x0 := pad + col*(cell+gap)
			y0 := pad + row*(cell+gap)
			for y := y0; y < y0+cell; y++ {
				for x := x0; x < x0+cell; x++ {
					img.SetNRGBA(x, y, tint)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

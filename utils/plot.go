package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"
)

// GroupPalette returns n well separated colours, evenly spaced in hue at
// fixed chroma and lightness, ordered from darkest to brightest.
func GroupPalette(n int) []colorful.Color {
	if n <= 0 {
		return nil
	}
	out := make([]colorful.Color, n)
	for i := range out {
		out[i] = colorful.Hcl(360*float64(i)/float64(n), 0.55, 0.45+0.25*float64(i%2)).Clamped()
	}
	SortPaletteByBrightness(out)
	return out
}

// SortPaletteByBrightness orders colors from darkest to brightest.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortFunc(palette, func(a, b colorful.Color) int {
		ri, gi, bi := a.LinearRgb()
		rj, gj, bj := b.LinearRgb()
		yi := 0.2126*ri + 0.7152*gi + 0.0722*bi
		yj := 0.2126*rj + 0.7152*gj + 0.0722*bj
		if yi < yj {
			return -1
		}
		if yi > yj {
			return 1
		}
		return 0
	})
}

// Scatter draws (x[i], y[i]) as small squares coloured by group[i] on a
// white size×size canvas. Axes are scaled to the data range.
func Scatter(x, y []float64, group []int, size int) (*image.RGBA, error) {
	if len(x) == 0 || len(x) != len(y) || len(x) != len(group) {
		return nil, fmt.Errorf("scatter: %d x, %d y, %d groups", len(x), len(y), len(group))
	}
	if size <= 0 {
		size = 512
	}
	const margin, radius = 12, 1

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	palette := GroupPalette(slices.Max(group) + 1)
	xMin, xMax := floats.Min(x), floats.Max(x)
	yMin, yMax := floats.Min(y), floats.Max(y)
	span := float64(size - 2*margin - 1)
	project := func(v, lo, hi float64) int {
		if hi == lo {
			return size / 2
		}
		return margin + int((v-lo)/(hi-lo)*span)
	}

	for i := range x {
		if group[i] < 0 {
			continue
		}
		r, g, b := palette[group[i]].RGB255()
		c := color.RGBA{R: r, G: g, B: b, A: 255}
		px := project(x[i], xMin, xMax)
		py := size - 1 - project(y[i], yMin, yMax)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				img.SetRGBA(px+dx, py+dy, c)
			}
		}
	}
	return img, nil
}

// SaveScatter writes Scatter as a PNG.
func SaveScatter(x, y []float64, group []int, size int, filename string) error {
	img, err := Scatter(x, y, group, size)
	if err != nil {
		return err
	}
	return SaveImage(img, filename)
}

// SavePalette writes one tileSize square per colour, left to right. Used as
// the sample legend of a scatter plot.
func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	if len(palette) == 0 {
		return fmt.Errorf("empty palette")
	}
	if tileSize <= 0 {
		tileSize = 64
	}

	img := image.NewRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		x0 := i * tileSize
		for y := range tileSize {
			for x := x0; x < x0+tileSize; x++ {
				img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}
	return SaveImage(img, filename)
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

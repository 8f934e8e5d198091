package bevplot

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePNG draws g as a heatmap and writes it to path. The image format
// follows the file extension.
func SavePNG(path string, g *Grid, title string) error {
	if c, r := g.Dims(); c == 0 || r == 0 {
		return fmt.Errorf("cannot plot empty %dx%d grid", c, r)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	hm := plotter.NewHeatMap(g, palette.Heat(32, 1))
	hm.Rasterized = true
	hm.NaN = color.Black
	if hm.Max <= hm.Min {
		// A constant field, usually all zero, still needs a usable range.
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

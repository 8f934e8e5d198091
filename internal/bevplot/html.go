package bevplot

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// viridis colour stops.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// RenderHTML writes an interactive heatmap of g. Only non-zero cells are
// emitted, and every stride-th row and column is sampled.
func RenderHTML(w io.Writer, g *Grid, title, subtitle string, stride int) error {
	if stride < 1 {
		stride = 1
	}
	cols, rows := g.Dims()

	xs := make([]string, 0, cols/stride+1)
	for c := 0; c < cols; c += stride {
		xs = append(xs, strconv.Itoa(c))
	}
	ys := make([]string, 0, rows/stride+1)
	for r := 0; r < rows; r += stride {
		ys = append(ys, strconv.Itoa(r))
	}

	data := make([]opts.HeatMapData, 0, g.NonZero())
	for r, yi := 0, 0; r < rows; r, yi = r+stride, yi+1 {
		for c, xi := 0, 0; c < cols; c, xi = c+stride, xi+1 {
			if v := g.Z(c, r); v != 0 {
				data = append(data, opts.HeatMapData{Value: [3]interface{}{xi, yi, v}})
			}
		}
	}

	bottom, top := min(g.Min(), 0), g.Max()
	if top <= bottom {
		top = bottom + 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "column", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "row", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(bottom),
			Max:        float32(top),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs).AddSeries("bev", data)

	if err := hm.Render(w); err != nil {
		return fmt.Errorf("render heatmap: %w", err)
	}
	return nil
}

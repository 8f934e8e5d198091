// Package bevplot renders bird's-eye-view feature maps as heatmaps: PNG via
// gonum/plot for reports and HTML via go-echarts for interactive viewing.
package bevplot

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/sparsebev/internal/densify"
)

// Grid is a row-major scalar field over the BEV plane. It implements
// plotter.GridXYZ.
type Grid struct {
	cols, rows int
	data       []float64
}

// Occupancy collapses every channel of b into one magnitude per cell: the
// sum of absolute feature values.
func Occupancy(b *densify.BEV) *Grid {
	g := &Grid{cols: b.Cols, rows: b.Rows, data: make([]float64, b.Rows*b.Cols)}
	plane := b.Rows * b.Cols
	for ch := 0; ch < b.Channels; ch++ {
		for i, v := range b.Data[ch*plane : (ch+1)*plane] {
			g.data[i] += math.Abs(float64(v))
		}
	}
	return g
}

// Channel extracts a single channel of b.
func Channel(b *densify.BEV, ch int) (*Grid, error) {
	if ch < 0 || ch >= b.Channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", ch, b.Channels)
	}
	plane := b.Rows * b.Cols
	g := &Grid{cols: b.Cols, rows: b.Rows, data: make([]float64, plane)}
	for i, v := range b.Data[ch*plane : (ch+1)*plane] {
		g.data[i] = float64(v)
	}
	return g, nil
}

// Dims returns the grid's column and row counts.
func (g *Grid) Dims() (c, r int) { return g.cols, g.rows }

// Z returns the value at column c, row r.
func (g *Grid) Z(c, r int) float64 { return g.data[r*g.cols+c] }

// X returns the coordinate of column c.
func (g *Grid) X(c int) float64 { return float64(c) }

// Y returns the coordinate of row r.
func (g *Grid) Y(r int) float64 { return float64(r) }

// Min returns the smallest value.
func (g *Grid) Min() float64 {
	if len(g.data) == 0 {
		return 0
	}
	return floats.Min(g.data)
}

// Max returns the largest value.
func (g *Grid) Max() float64 {
	if len(g.data) == 0 {
		return 0
	}
	return floats.Max(g.data)
}

// NonZero counts cells with a non-zero value.
func (g *Grid) NonZero() int {
	n := 0
	for _, v := range g.data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Package densify scatters the backbone's final sparse tensor into a dense
// volume and reshapes it into the bird's-eye-view feature map.
package densify

import (
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Volume is a zero-initialised dense (D, H, W, C) buffer, row-major.
type Volume struct {
	Shape    voxel.Shape
	Channels int
	Data     []float32
}

// At returns the feature row at c. c must lie within v.Shape.
func (v *Volume) At(c voxel.Coord) []float32 {
	i := int(v.Shape.Key(c)) * v.Channels
	return v.Data[i : i+v.Channels]
}

// Scatter writes every row of t whose coordinate lies within keep into a
// dense volume of extent keep. Rows outside keep are skipped and counted.
// A later row at an already written coordinate overwrites the earlier one.
func Scatter(t *voxel.Tensor, keep voxel.Shape) (*Volume, int) {
	v := &Volume{
		Shape:    keep,
		Channels: t.Channels(),
		Data:     make([]float32, keep.Volume()*t.Channels()),
	}
	skipped := 0
	for i := 0; i < t.Len(); i++ {
		c := t.Coord(i)
		if !keep.Contains(c) {
			skipped++
			continue
		}
		copy(v.At(c), t.Feature(i))
	}
	return v, skipped
}

// BEV is a channel-major (Channels, Rows, Cols) feature map.
type BEV struct {
	Channels int
	Rows     int
	Cols     int
	Data     []float32
}

// At returns the value at channel ch, row r, column c.
func (b *BEV) At(ch, r, c int) float32 {
	return b.Data[(ch*b.Rows+r)*b.Cols+c]
}

// BEV moves the channel axis next to the volume's last spatial axis and
// flattens the two, so a (D, H, W, C) volume becomes a (C*W, D, H) map with
// out[c*W+w][d][h] = volume[d][h][w][c].
func (v *Volume) BEV() *BEV {
	d, h, w, ch := v.Shape[0], v.Shape[1], v.Shape[2], v.Channels
	out := &BEV{
		Channels: ch * w,
		Rows:     d,
		Cols:     h,
		Data:     make([]float32, len(v.Data)),
	}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				src := ((z*h+y)*w + x) * ch
				for c := 0; c < ch; c++ {
					out.Data[((c*w+x)*d+z)*h+y] = v.Data[src+c]
				}
			}
		}
	}
	return out
}

// Densify scatters t into extent keep and reshapes the result. Coordinates
// beyond keep, such as depth indices past the kept vertical extent, are
// dropped silently apart from a diagnostic.
func Densify(t *voxel.Tensor, keep voxel.Shape) *BEV {
	v, skipped := Scatter(t, keep)
	if skipped > 0 {
		monitoring.Diagf("densify", "excluded %d of %d voxels outside kept extent %v", skipped, t.Len(), keep)
	}
	return v.BEV()
}

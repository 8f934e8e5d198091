package voxel

// Accumulator coalesces (coordinate, contribution) pairs by summation.
// Rows are kept in first-seen order so that the resulting tensor, and every
// floating point sum feeding it, is deterministic for a given input order.
type Accumulator struct {
	shape    Shape
	channels int
	index    map[int64]int
	coords   []Coord
	features []float32
}

// NewAccumulator returns an accumulator for tensors of the given shape and
// width. hint pre-sizes storage for the expected number of unique rows.
func NewAccumulator(shape Shape, channels, hint int) *Accumulator {
	if hint < 0 {
		hint = 0
	}
	return &Accumulator{
		shape:    shape,
		channels: channels,
		index:    make(map[int64]int, hint),
		coords:   make([]Coord, 0, hint),
		features: make([]float32, 0, hint*channels),
	}
}

// Row returns the accumulation row for c, creating a zeroed row on first
// use. The returned slice is only valid until the next call to Row or Add.
// c must lie within the accumulator's shape.
func (a *Accumulator) Row(c Coord) []float32 {
	k := a.shape.Key(c)
	i, ok := a.index[k]
	if !ok {
		i = len(a.coords)
		a.index[k] = i
		a.coords = append(a.coords, c)
		for j := 0; j < a.channels; j++ {
			a.features = append(a.features, 0)
		}
	}
	return a.features[i*a.channels : (i+1)*a.channels]
}

// Add sums v into the row for c.
func (a *Accumulator) Add(c Coord, v []float32) {
	row := a.Row(c)
	for j := range row {
		row[j] += v[j]
	}
}

// Has reports whether c already has a row.
func (a *Accumulator) Has(c Coord) bool {
	_, ok := a.index[a.shape.Key(c)]
	return ok
}

// Len returns the number of unique rows accumulated so far.
func (a *Accumulator) Len() int { return len(a.coords) }

// Tensor hands the accumulated rows over as a tensor. The accumulator must
// not be used afterwards.
func (a *Accumulator) Tensor() *Tensor {
	t := &Tensor{
		shape:    a.shape,
		channels: a.channels,
		coords:   a.coords,
		features: a.features,
	}
	a.index = nil
	a.coords = nil
	a.features = nil
	return t
}

package voxel

import "fmt"

// Coalesce merges rows sharing a coordinate by summing their features.
// Applying it to an already coalesced tensor returns an equal tensor.
func Coalesce(t *Tensor) *Tensor {
	acc := NewAccumulator(t.shape, t.channels, t.Len())
	for i, c := range t.coords {
		acc.Add(c, t.Feature(i))
	}
	return acc.Tensor()
}

// FilterBounds returns a tensor declared at shape holding only the rows of
// t whose coordinate lies within shape, together with the number of rows
// dropped.
func FilterBounds(t *Tensor, shape Shape) (*Tensor, int) {
	out := &Tensor{
		shape:    shape,
		channels: t.channels,
		coords:   make([]Coord, 0, len(t.coords)),
		features: make([]float32, 0, len(t.features)),
	}
	for i, c := range t.coords {
		if !shape.Contains(c) {
			continue
		}
		out.coords = append(out.coords, c)
		out.features = append(out.features, t.Feature(i)...)
	}
	return out, len(t.coords) - len(out.coords)
}

// AddUnion sums two tensors over the union of their coordinates. Both must
// share a shape and width; the result is coalesced.
func AddUnion(a, b *Tensor) (*Tensor, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}
	acc := NewAccumulator(a.shape, a.channels, a.Len()+b.Len())
	for i, c := range a.coords {
		acc.Add(c, a.Feature(i))
	}
	for i, c := range b.coords {
		acc.Add(c, b.Feature(i))
	}
	return acc.Tensor(), nil
}

// AddIntersection sums two tensors over the coordinates present in both.
// Rows appearing in only one operand are discarded.
func AddIntersection(a, b *Tensor) (*Tensor, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}
	inB := make(map[int64]struct{}, b.Len())
	for _, c := range b.coords {
		inB[b.shape.Key(c)] = struct{}{}
	}
	acc := NewAccumulator(a.shape, a.channels, a.Len())
	for i, c := range a.coords {
		if _, ok := inB[a.shape.Key(c)]; ok {
			acc.Add(c, a.Feature(i))
		}
	}
	for i, c := range b.coords {
		if acc.Has(c) {
			acc.Add(c, b.Feature(i))
		}
	}
	return acc.Tensor(), nil
}

// ReLU clamps every feature at zero. Coordinates are kept even when their
// whole row becomes zero.
func ReLU(t *Tensor) *Tensor {
	out := &Tensor{
		shape:    t.shape,
		channels: t.channels,
		coords:   append([]Coord(nil), t.coords...),
		features: make([]float32, len(t.features)),
	}
	for i, v := range t.features {
		if v > 0 {
			out.features[i] = v
		}
	}
	return out
}

func compatible(a, b *Tensor) error {
	if a.channels != b.channels {
		return fmt.Errorf("combine %d and %d channels: %w", a.channels, b.channels, ErrChannelMismatch)
	}
	if a.shape != b.shape {
		return fmt.Errorf("voxel: combine tensors of shape %v and %v", a.shape, b.shape)
	}
	return nil
}

package voxel

import (
	"errors"
	"fmt"
)

// ErrChannelMismatch is returned when a feature row does not match the
// tensor's channel count, or two tensors of different widths are combined.
var ErrChannelMismatch = errors.New("voxel: channel count mismatch")

// Shape is a declared spatial extent (D, H, W).
type Shape [3]int

// Contains reports whether c lies within 0 <= c < s on every axis.
func (s Shape) Contains(c Coord) bool {
	return c[0] >= 0 && int(c[0]) < s[0] &&
		c[1] >= 0 && int(c[1]) < s[1] &&
		c[2] >= 0 && int(c[2]) < s[2]
}

// Volume returns D*H*W.
func (s Shape) Volume() int {
	return s[0] * s[1] * s[2]
}

// Key packs a coordinate lying within s into z*H*W + y*W + x.
func (s Shape) Key(c Coord) int64 {
	return (int64(c[0])*int64(s[1])+int64(c[1]))*int64(s[2]) + int64(c[2])
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s[0], s[1], s[2])
}

// Coord is an integer voxel coordinate (z, y, x).
type Coord [3]int32

// Entry is a coordinate paired with its feature row.
type Entry struct {
	Coord   Coord
	Feature []float32
}

// Tensor is a sparse voxel tensor. The i-th coordinate owns the i-th
// feature row. Tensors produced by an Accumulator have unique coordinates.
type Tensor struct {
	shape    Shape
	channels int
	coords   []Coord
	features []float32
}

// Empty returns a tensor with no active voxels.
func Empty(shape Shape, channels int) *Tensor {
	return &Tensor{shape: shape, channels: channels}
}

// FromEntries builds a tensor from raw (coordinate, feature) pairs without
// coalescing, so duplicate coordinates survive as separate rows. Entries
// outside shape are dropped; the number dropped is returned.
func FromEntries(shape Shape, channels int, entries []Entry) (*Tensor, int, error) {
	t := &Tensor{
		shape:    shape,
		channels: channels,
		coords:   make([]Coord, 0, len(entries)),
		features: make([]float32, 0, len(entries)*channels),
	}
	dropped := 0
	for i, e := range entries {
		if len(e.Feature) != channels {
			return nil, 0, fmt.Errorf("entry %d has %d features, want %d: %w", i, len(e.Feature), channels, ErrChannelMismatch)
		}
		if !shape.Contains(e.Coord) {
			dropped++
			continue
		}
		t.coords = append(t.coords, e.Coord)
		t.features = append(t.features, e.Feature...)
	}
	return t, dropped, nil
}

// Shape returns the declared spatial extent.
func (t *Tensor) Shape() Shape { return t.shape }

// Channels returns the feature width C.
func (t *Tensor) Channels() int { return t.channels }

// Len returns the number of stored rows.
func (t *Tensor) Len() int { return len(t.coords) }

// Coord returns the i-th coordinate.
func (t *Tensor) Coord(i int) Coord { return t.coords[i] }

// Feature returns the i-th feature row. The slice aliases the tensor's
// storage and must not be modified.
func (t *Tensor) Feature(i int) []float32 {
	return t.features[i*t.channels : (i+1)*t.channels]
}

// Entries returns a copy of the tensor's rows in storage order.
func (t *Tensor) Entries() []Entry {
	out := make([]Entry, len(t.coords))
	for i, c := range t.coords {
		row := make([]float32, t.channels)
		copy(row, t.Feature(i))
		out[i] = Entry{Coord: c, Feature: row}
	}
	return out
}

// Sum returns the sum of every stored feature value.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.features {
		s += float64(v)
	}
	return s
}

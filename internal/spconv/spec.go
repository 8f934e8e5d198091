package spconv

import (
	"fmt"

	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Triple holds a per-axis (d, h, w) integer parameter.
type Triple [3]int

// ConvSpec is the immutable configuration of one convolution layer.
type ConvSpec struct {
	Name        string
	InChannels  int
	OutChannels int
	Kernel      Triple
	Padding     Triple
	Stride      Triple
}

// Submanifold returns a 3×3×3, padding 1, stride 1 layer spec. It preserves
// the spatial extent of its input.
func Submanifold(name string, in, out int) ConvSpec {
	return ConvSpec{
		Name:        name,
		InChannels:  in,
		OutChannels: out,
		Kernel:      Triple{3, 3, 3},
		Padding:     Triple{1, 1, 1},
		Stride:      Triple{1, 1, 1},
	}
}

// Downsample returns a 3×3×3, padding 1, stride 2 layer spec.
func Downsample(name string, in, out int) ConvSpec {
	s := Submanifold(name, in, out)
	s.Stride = Triple{2, 2, 2}
	return s
}

// Validate checks that channel counts, kernel and stride are positive and
// padding is non-negative.
func (s ConvSpec) Validate() error {
	if s.InChannels <= 0 || s.OutChannels <= 0 {
		return fmt.Errorf("%s: channels must be positive, got in=%d out=%d", s.Name, s.InChannels, s.OutChannels)
	}
	for axis := 0; axis < 3; axis++ {
		if s.Kernel[axis] <= 0 {
			return fmt.Errorf("%s: kernel must be positive on axis %d, got %d", s.Name, axis, s.Kernel[axis])
		}
		if s.Stride[axis] <= 0 {
			return fmt.Errorf("%s: stride must be positive on axis %d, got %d", s.Name, axis, s.Stride[axis])
		}
		if s.Padding[axis] < 0 {
			return fmt.Errorf("%s: padding must be non-negative on axis %d, got %d", s.Name, axis, s.Padding[axis])
		}
	}
	return nil
}

// IsSubmanifold reports whether the layer runs with unit stride.
func (s ConvSpec) IsSubmanifold() bool {
	return s.Stride == Triple{1, 1, 1}
}

// KernelVolume returns kd*kh*kw.
func (s ConvSpec) KernelVolume() int {
	return s.Kernel[0] * s.Kernel[1] * s.Kernel[2]
}

// OutputShape applies floor((in + 2p - k)/s) + 1 on every axis. An axis
// whose kernel does not fit yields zero.
func (s ConvSpec) OutputShape(in voxel.Shape) voxel.Shape {
	var out voxel.Shape
	for axis := 0; axis < 3; axis++ {
		span := in[axis] + 2*s.Padding[axis] - s.Kernel[axis]
		if span < 0 {
			out[axis] = 0
			continue
		}
		out[axis] = span/s.Stride[axis] + 1
	}
	return out
}

// project maps an input index through kernel offset k to an output index,
// inverting out*stride - pad + k = in. It reports false when the candidate
// is not on the stride lattice or falls outside [0, limit).
func project(in, k, pad, stride, limit int) (int, bool) {
	num := in + pad - k
	if num < 0 || num%stride != 0 {
		return 0, false
	}
	out := num / stride
	if out >= limit {
		return 0, false
	}
	return out, true
}

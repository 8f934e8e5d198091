package spconv

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Layer is a sparse convolution with its weights split into one Cout×Cin
// matrix per kernel offset. A Layer is immutable and safe for concurrent use.
type Layer struct {
	spec    ConvSpec
	offsets []blas32.General
	bias    blas32.Vector
}

// NewLayer validates spec and w and precomputes the per-offset matrices.
func NewLayer(spec ConvSpec, w KernelWeights) (*Layer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := w.Check(spec); err != nil {
		return nil, err
	}

	cout, cin, kvol := spec.OutChannels, spec.InChannels, spec.KernelVolume()
	offsets := make([]blas32.General, kvol)
	for o := range offsets {
		m := blas32.General{Rows: cout, Cols: cin, Stride: cin, Data: make([]float32, cout*cin)}
		for co := 0; co < cout; co++ {
			for ci := 0; ci < cin; ci++ {
				m.Data[co*cin+ci] = w.Weight[(co*cin+ci)*kvol+o]
			}
		}
		offsets[o] = m
	}
	bias := make([]float32, cout)
	copy(bias, w.Bias)

	return &Layer{
		spec:    spec,
		offsets: offsets,
		bias:    blas32.Vector{N: cout, Inc: 1, Data: bias},
	}, nil
}

// Spec returns the layer configuration.
func (l *Layer) Spec() ConvSpec { return l.spec }

// Forward convolves in and returns a coalesced tensor at the output shape
// implied by the layer's kernel, padding and stride. An empty input yields
// an empty output. The only error is a channel width mismatch.
func (l *Layer) Forward(in *voxel.Tensor) (*voxel.Tensor, error) {
	if in.Channels() != l.spec.InChannels {
		return nil, fmt.Errorf("%s: input has %d channels, want %d: %w",
			l.spec.Name, in.Channels(), l.spec.InChannels, voxel.ErrChannelMismatch)
	}

	outShape := l.spec.OutputShape(in.Shape())
	if in.Len() == 0 {
		return voxel.Empty(outShape, l.spec.OutChannels), nil
	}

	k, p, s := l.spec.Kernel, l.spec.Padding, l.spec.Stride
	acc := voxel.NewAccumulator(outShape, l.spec.OutChannels, in.Len()*l.spec.KernelVolume()/s[0]/s[1]/s[2])
	for i := 0; i < in.Len(); i++ {
		c := in.Coord(i)
		x := blas32.Vector{N: l.spec.InChannels, Inc: 1, Data: in.Feature(i)}
		o := 0
		for kz := 0; kz < k[0]; kz++ {
			oz, okz := project(int(c[0]), kz, p[0], s[0], outShape[0])
			for ky := 0; ky < k[1]; ky++ {
				oy, oky := project(int(c[1]), ky, p[1], s[1], outShape[1])
				for kx := 0; kx < k[2]; kx, o = kx+1, o+1 {
					ox, okx := project(int(c[2]), kx, p[2], s[2], outShape[2])
					if !okz || !oky || !okx {
						continue
					}
					y := blas32.Vector{N: l.spec.OutChannels, Inc: 1, Data: acc.Row(voxel.Coord{int32(oz), int32(oy), int32(ox)})}
					blas32.Axpy(1, l.bias, y)
					blas32.Gemv(blas.NoTrans, 1, l.offsets[o], x, 1, y)
				}
			}
		}
	}
	return acc.Tensor(), nil
}

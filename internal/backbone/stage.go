package backbone

import (
	"fmt"

	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/spconv"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// StageTrace records what one stage (or the final layer) produced.
type StageTrace struct {
	Name string
	// Declared is the extent the stage is scheduled to emit.
	Declared voxel.Shape
	// Produced is the extent the stage's first layer computed.
	Produced voxel.Shape
	// Shape is the extent actually emitted.
	Shape    voxel.Shape
	Channels int
	Active   int
	// Dropped counts voxels removed by bounds filtering in this stage.
	Dropped int
}

// Stage is one residual stage:
//
//	a = conv0(x); b = conv1(a); c = relu(conv2(b) + a)
//	d = conv3(c); e = relu(conv4(d) + c)
type Stage struct {
	spec   StageSpec
	layers [LayersPerStage]*spconv.Layer
	policy ResidualPolicy
}

// NewStage checks that layers match spec's widths.
func NewStage(spec StageSpec, layers [LayersPerStage]*spconv.Layer, policy ResidualPolicy) (*Stage, error) {
	for i, l := range layers {
		if l == nil {
			return nil, fmt.Errorf("%s: layer %d is nil", spec.Name, i)
		}
		ls := l.Spec()
		wantIn := spec.Channels
		if i == 0 {
			wantIn = spec.InChannels
		}
		if ls.InChannels != wantIn || ls.OutChannels != spec.Channels {
			return nil, fmt.Errorf("%s: layer %s maps %d→%d channels, want %d→%d",
				spec.Name, ls.Name, ls.InChannels, ls.OutChannels, wantIn, spec.Channels)
		}
		if i > 0 && !ls.IsSubmanifold() {
			return nil, fmt.Errorf("%s: layer %s must have unit stride", spec.Name, ls.Name)
		}
	}
	if first := layers[0].Spec(); first.IsSubmanifold() == spec.Downsample {
		return nil, fmt.Errorf("%s: first layer %s stride %v does not match downsample=%v",
			spec.Name, first.Name, first.Stride, spec.Downsample)
	}
	return &Stage{spec: spec, layers: layers, policy: policy}, nil
}

// Spec returns the stage declaration.
func (s *Stage) Spec() StageSpec { return s.spec }

// Forward runs the stage's five layers and two residual additions.
func (s *Stage) Forward(x *voxel.Tensor) (*voxel.Tensor, StageTrace, error) {
	trace := StageTrace{Name: s.spec.Name, Declared: s.spec.Shape, Channels: s.spec.Channels}

	if !s.spec.Downsample {
		var n int
		x, n = conform(s.spec.Name+" input", x, s.spec.Shape)
		trace.Dropped += n
	}

	a, err := s.layers[0].Forward(x)
	if err != nil {
		return nil, trace, err
	}
	trace.Produced = a.Shape()
	a, n := conform(s.layers[0].Spec().Name, a, s.spec.Shape)
	trace.Dropped += n

	b, err := s.layers[1].Forward(a)
	if err != nil {
		return nil, trace, err
	}
	c, err := s.layers[2].Forward(b)
	if err != nil {
		return nil, trace, err
	}
	c, n, err = s.residual(c, a)
	if err != nil {
		return nil, trace, err
	}
	trace.Dropped += n

	d, err := s.layers[3].Forward(c)
	if err != nil {
		return nil, trace, err
	}
	e, err := s.layers[4].Forward(d)
	if err != nil {
		return nil, trace, err
	}
	e, n, err = s.residual(e, c)
	if err != nil {
		return nil, trace, err
	}
	trace.Dropped += n

	trace.Shape = e.Shape()
	trace.Active = e.Len()
	return e, trace, nil
}

// residual adds shortcut onto main and applies ReLU. Shortcut coordinates
// outside main's extent are dropped first; this is a bounds truncation, not
// a coordinate-for-coordinate alignment of the two branches.
func (s *Stage) residual(main, shortcut *voxel.Tensor) (*voxel.Tensor, int, error) {
	shortcut, dropped := conform(s.spec.Name+" shortcut", shortcut, main.Shape())

	var (
		sum *voxel.Tensor
		err error
	)
	switch s.policy {
	case ResidualIntersection:
		sum, err = voxel.AddIntersection(main, shortcut)
	default:
		sum, err = voxel.AddUnion(main, shortcut)
	}
	if err != nil {
		return nil, dropped, fmt.Errorf("%s: residual: %w", s.spec.Name, err)
	}
	return voxel.ReLU(sum), dropped, nil
}

// conform re-declares t at shape, filtering coordinates that fall outside.
func conform(what string, t *voxel.Tensor, shape voxel.Shape) (*voxel.Tensor, int) {
	if t.Shape() == shape {
		return t, 0
	}
	out, dropped := voxel.FilterBounds(t, shape)
	monitoring.Diagf("backbone", "%s: extent %v differs from declared %v, dropped %d of %d voxels",
		what, t.Shape(), shape, dropped, t.Len())
	return out, dropped
}

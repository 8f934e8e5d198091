package backbone

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/spconv"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Options tune a Backbone without changing its topology.
type Options struct {
	Policy ResidualPolicy
	// LogStages emits each stage's output extent and active count.
	LogStages bool
}

// Trace is the per-stage record of one Forward call.
type Trace struct {
	Stages []StageTrace
	Final  StageTrace
}

// Schedule returns the emitted extent of every stage followed by the
// final layer's extent.
func (t Trace) Schedule() []voxel.Shape {
	out := make([]voxel.Shape, 0, len(t.Stages)+1)
	for _, st := range t.Stages {
		out = append(out, st.Shape)
	}
	return append(out, t.Final.Shape)
}

// Dropped sums the voxels removed by bounds filtering across all stages.
func (t Trace) Dropped() int {
	n := t.Final.Dropped
	for _, st := range t.Stages {
		n += st.Dropped
	}
	return n
}

// Backbone is the immutable stage pipeline. It keeps no state between
// Forward calls and is safe for concurrent use.
type Backbone struct {
	arch   Architecture
	stages []*Stage
	final  *spconv.Layer
	opts   Options
}

// InitWeights draws deterministic weights for every layer of arch, in
// execution order, from a PCG source seeded with seed.
func InitWeights(arch Architecture, seed uint64, gain, biasStd float64) []spconv.KernelWeights {
	src := rand.NewPCG(seed, seed^0x5eed5eed5eed5eed)
	specs := arch.Layers()
	ws := make([]spconv.KernelWeights, len(specs))
	for i, s := range specs {
		ws[i] = spconv.InitWeights(s, src, gain, biasStd)
	}
	return ws
}

// New builds a backbone from arch and one KernelWeights per layer in
// arch.Layers() order.
func New(arch Architecture, weights []spconv.KernelWeights, opts Options) (*Backbone, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid architecture: %w", err)
	}
	specs := arch.Layers()
	if len(weights) != len(specs) {
		return nil, fmt.Errorf("got weights for %d layers, architecture has %d", len(weights), len(specs))
	}

	layers := make([]*spconv.Layer, len(specs))
	for i, s := range specs {
		l, err := spconv.NewLayer(s, weights[i])
		if err != nil {
			return nil, err
		}
		layers[i] = l
	}

	b := &Backbone{arch: arch, opts: opts, final: layers[len(layers)-1]}
	for i, st := range arch.Stages {
		var group [LayersPerStage]*spconv.Layer
		copy(group[:], layers[i*LayersPerStage:(i+1)*LayersPerStage])
		stage, err := NewStage(st, group, opts.Policy)
		if err != nil {
			return nil, err
		}
		b.stages = append(b.stages, stage)
	}
	return b, nil
}

// Architecture returns the schedule the backbone was built with.
func (b *Backbone) Architecture() Architecture { return b.arch }

// Options returns the options the backbone was built with.
func (b *Backbone) Options() Options { return b.opts }

// Forward runs every stage and the final layer over in. An empty input is
// not an error: it propagates as an empty tensor at every extent.
// Coordinates outside the architecture's input extent are filtered.
func (b *Backbone) Forward(in *voxel.Tensor) (*voxel.Tensor, Trace, error) {
	var trace Trace
	if in.Len() == 0 {
		monitoring.Diagf("backbone", "empty input at %v, output will be all zero", in.Shape())
	}

	x, dropped := conform("input", in, b.arch.Input)
	for i, stage := range b.stages {
		var (
			st  StageTrace
			err error
		)
		x, st, err = stage.Forward(x)
		if err != nil {
			return nil, trace, err
		}
		if i == 0 {
			st.Dropped += dropped
		}
		trace.Stages = append(trace.Stages, st)
		if b.opts.LogStages {
			monitoring.Diagf("backbone", "%s output %v channels=%d active=%d", st.Name, st.Shape, st.Channels, st.Active)
		}
	}

	y, err := b.final.Forward(x)
	if err != nil {
		return nil, trace, err
	}
	trace.Final = StageTrace{
		Name:     b.final.Spec().Name,
		Declared: b.arch.Output,
		Produced: y.Shape(),
		Shape:    y.Shape(),
		Channels: y.Channels(),
		Active:   y.Len(),
	}
	if b.opts.LogStages {
		monitoring.Diagf("backbone", "%s output %v channels=%d active=%d", trace.Final.Name, y.Shape(), y.Channels(), y.Len())
	}
	return y, trace, nil
}

// Package pipeline wires the backbone and the densifier into a single
// sparse-voxels-to-BEV run, and times and fingerprints each run.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/config"
	"github.com/banshee-data/sparsebev/internal/densify"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/timeutil"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
	"github.com/banshee-data/sparsebev/internal/weights"
)

// Stats summarises a BEV map.
type Stats struct {
	Sum     float64
	Min     float64
	Max     float64
	NonZero int
}

// Result is the outcome of one Run.
type Result struct {
	BEV         *densify.BEV
	Trace       backbone.Trace
	Stats       Stats
	Checksum    string // hex SHA-256 of the little-endian float32 BEV buffer
	InputVoxels int
	StartedAt   time.Time
	Duration    time.Duration
}

// Pipeline runs a backbone followed by densification to its output extent.
type Pipeline struct {
	bb    *backbone.Backbone
	keep  voxel.Shape
	clock timeutil.Clock
}

// New wraps bb. A nil clock uses the wall clock.
func New(bb *backbone.Backbone, clock timeutil.Clock) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{bb: bb, keep: bb.Architecture().Output, clock: clock}
}

// FromConfig builds the nominal pipeline described by cfg. Weights come from
// cfg's safetensors file when set, otherwise from seeded initialisation.
func FromConfig(cfg *config.BackboneConfig, clock timeutil.Clock) (*Pipeline, error) {
	arch := backbone.Nominal()
	policy, err := backbone.ParseResidualPolicy(cfg.GetResidualPolicy())
	if err != nil {
		return nil, err
	}

	ws := backbone.InitWeights(arch, cfg.GetSeed(), cfg.GetWeightGain(), cfg.GetBiasStd())
	if path := cfg.GetWeightsPath(); path != "" {
		ws, err = weights.LoadFile(path, arch.Layers())
		if err != nil {
			return nil, fmt.Errorf("load weights: %w", err)
		}
		monitoring.Diagf("pipeline", "loaded %d layers from %s", len(ws), path)
	}

	bb, err := backbone.New(arch, ws, backbone.Options{Policy: policy, LogStages: cfg.GetLogStages()})
	if err != nil {
		return nil, err
	}
	return New(bb, clock), nil
}

// Backbone returns the wrapped backbone.
func (p *Pipeline) Backbone() *backbone.Backbone { return p.bb }

// OutputLen is the number of float32 values in every Result's BEV buffer.
func (p *Pipeline) OutputLen() int {
	return p.keep.Volume() * p.bb.Architecture().Final.OutChannels
}

// Run processes one sparse input. It is safe for concurrent use.
func (p *Pipeline) Run(ctx context.Context, in *voxel.Tensor) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := p.clock.Now()
	out, trace, err := p.bb.Forward(in)
	if err != nil {
		return nil, err
	}
	bev := densify.Densify(out, p.keep)
	res := &Result{
		BEV:         bev,
		Trace:       trace,
		Stats:       Summarise(bev.Data),
		Checksum:    Checksum(bev.Data),
		InputVoxels: in.Len(),
		StartedAt:   started,
		Duration:    p.clock.Since(started),
	}
	monitoring.Diagf("pipeline", "bev (%d,%d,%d) nonzero=%d sum=%.6g in %v",
		bev.Channels, bev.Rows, bev.Cols, res.Stats.NonZero, res.Stats.Sum, res.Duration)
	return res, nil
}

// Checksum fingerprints a float32 buffer.
func Checksum(data []float32) string {
	sum := sha256.Sum256(transport.EncodeFloats(data))
	return hex.EncodeToString(sum[:])
}

// Summarise computes Stats over data.
func Summarise(data []float32) Stats {
	if len(data) == 0 {
		return Stats{}
	}
	vs := make([]float64, len(data))
	nz := 0
	for i, v := range data {
		vs[i] = float64(v)
		if v != 0 {
			nz++
		}
	}
	return Stats{
		Sum:     floats.Sum(vs),
		Min:     floats.Min(vs),
		Max:     floats.Max(vs),
		NonZero: nz,
	}
}

// Package testutil provides shared test fixtures: a scaled-down backbone
// that runs in milliseconds, constant-valued sparse inputs and a capturing
// diagnostic logger.
package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/spconv"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// SmallInput is the input extent of SmallArchitecture.
var SmallInput = voxel.Shape{12, 12, 10}

// SmallArchitecture mirrors the nominal topology with two stages:
// 2→3 channels at (12,12,10), 3→4 channels at (6,6,5), then a (1,1,3)
// stride (1,1,2) layer down to (6,6,2).
func SmallArchitecture() backbone.Architecture {
	return backbone.Architecture{
		Input: SmallInput,
		Stages: []backbone.StageSpec{
			{Name: "stage1", InChannels: 2, Channels: 3, Shape: SmallInput},
			{Name: "stage2", InChannels: 3, Channels: 4, Shape: voxel.Shape{6, 6, 5}, Downsample: true},
		},
		Final: spconv.ConvSpec{
			Name: "conv10", InChannels: 4, OutChannels: 4,
			Kernel: spconv.Triple{1, 1, 3}, Stride: spconv.Triple{1, 1, 2},
		},
		Output: voxel.Shape{6, 6, 2},
	}
}

// SmallPipeline builds a pipeline over SmallArchitecture with weights drawn
// from seed.
func SmallPipeline(t testing.TB, seed uint64) *pipeline.Pipeline {
	t.Helper()
	arch := SmallArchitecture()
	bb, err := backbone.New(arch, backbone.InitWeights(arch, seed, 1, 0.01), backbone.Options{})
	if err != nil {
		t.Fatalf("build small backbone: %v", err)
	}
	return pipeline.New(bb, nil)
}

// Filled returns a tensor with one row per coordinate, every feature set
// to value. Repeated coordinates stay as separate rows.
func Filled(t testing.TB, shape voxel.Shape, channels int, value float32, coords ...voxel.Coord) *voxel.Tensor {
	t.Helper()
	entries := make([]voxel.Entry, len(coords))
	for i, c := range coords {
		f := make([]float32, channels)
		for j := range f {
			f[j] = value
		}
		entries[i] = voxel.Entry{Coord: c, Feature: f}
	}
	x, _, err := voxel.FromEntries(shape, channels, entries)
	if err != nil {
		t.Fatalf("build input: %v", err)
	}
	return x
}

// CaptureLogs redirects monitoring output for the rest of the test and
// returns a function reporting the lines logged so far.
func CaptureLogs(t testing.TB) func() []string {
	t.Helper()
	var (
		mu    sync.Mutex
		lines []string
	)
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = orig })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

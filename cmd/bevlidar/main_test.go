package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/config"
	"github.com/banshee-data/sparsebev/internal/densify"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/runstore"
	"github.com/banshee-data/sparsebev/internal/testutil"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestServePipe(t *testing.T) {
	p := testutil.SmallPipeline(t, 5)
	node := transport.Endpoint{X: 1, Y: 2}
	in, _, err := voxel.FromEntries(voxel.Shape{12, 12, 10}, 2, []voxel.Entry{
		{Coord: voxel.Coord{6, 6, 4}, Feature: []float32{1, 1}},
	})
	require.NoError(t, err)

	var req, resp bytes.Buffer
	require.NoError(t, transport.WriteFrame(&req, transport.Host, node, transport.EncodeVoxels(in)))
	require.NoError(t, servePipe(context.Background(), p, config.EmptyBackboneConfig(), &req, &resp, node, "voxels"))

	f, err := transport.ReadFrame(&resp, 0)
	require.NoError(t, err)
	assert.Equal(t, node, f.Src)
	assert.Equal(t, transport.Host, f.Dst)
	got, err := f.Floats(p.OutputLen())
	require.NoError(t, err)

	want, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, want.BEV.Data, got)
}

func TestServePipe_Errors(t *testing.T) {
	p := testutil.SmallPipeline(t, 5)
	cfg := config.EmptyBackboneConfig()
	node := transport.Endpoint{X: 1, Y: 2}

	frame := func(dst transport.Endpoint, payload []byte) *bytes.Buffer {
		var b bytes.Buffer
		require.NoError(t, transport.WriteFrame(&b, transport.Host, dst, payload))
		return &b
	}

	tests := []struct {
		name   string
		in     *bytes.Buffer
		format string
	}{
		{"wrong destination", frame(transport.Endpoint{X: 9, Y: 9}, nil), "voxels"},
		{"ragged voxels", frame(node, make([]byte, 7)), "voxels"},
		{"probe outside small grid", frame(node, transport.EncodeFloats([]float32{1, 1})), "features"},
		{"unknown format", frame(node, nil), "pcap"},
		{"no frame", &bytes.Buffer{}, "voxels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, servePipe(context.Background(), p, cfg, tt.in, &out, node, tt.format))
			assert.Zero(t, out.Len(), "nothing may be sent on failure")
		})
	}
}

func TestProbeInput(t *testing.T) {
	arch := backbone.Nominal()
	in, err := probeInput(arch, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, in.Len())
	assert.Equal(t, 5, in.Channels())
	assert.InDelta(t, 15.0, in.Sum(), 1e-9)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"seed": 11}`), 0o644))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), cfg.GetSeed())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	// The defaults file is not reachable from the package directory.
	cfg, err = loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.GetSeed())
}

// nominalChecksum is the SHA-256 of the seed 42 BEV output for three
// all-ones feature rows at the probe coordinate, as produced on amd64.
const nominalChecksum = "a23b80859b051adf513a80d34c2b9640d12512749cd5c10990006e21a7dd5449"

func TestRunOnce_GoldenCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("full-resolution run skipped in short mode")
	}
	dir := t.TempDir()
	cfg := config.EmptyBackboneConfig()
	o := runOptions{
		rows:        3,
		value:       1,
		outPath:     filepath.Join(dir, "bev.bin"),
		pngPath:     filepath.Join(dir, "bev.png"),
		htmlPath:    filepath.Join(dir, "bev.html"),
		channel:     -1,
		dbPath:      filepath.Join(dir, "runs.db"),
		checkGolden: true,
	}

	first, err := runOnce(context.Background(), cfg, o)
	require.NoError(t, err)
	assert.Equal(t, 73984, first.Stats.NonZero)
	if runtime.GOARCH == "amd64" {
		assert.Equal(t, nominalChecksum, first.Checksum)
	}
	second, err := runOnce(context.Background(), cfg, o)
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.Checksum)

	raw, err := os.ReadFile(o.outPath)
	require.NoError(t, err)
	assert.Len(t, raw, 4*256*180*180)
	assert.Equal(t, first.Checksum, pipeline.Checksum(first.BEV.Data))
	for _, p := range []string{o.pngPath, o.htmlPath} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	store, err := runstore.Open(o.dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	// A different input must fail against the recorded golden.
	o.value = 2
	_, err = runOnce(context.Background(), cfg, o)
	assert.ErrorIs(t, err, errGoldenMismatch)
}

func TestRecord_GoldenMismatchIsNotRecorded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	cfg := config.EmptyBackboneConfig()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		checksum string
		golden   bool
		wantErr  error
	}{
		{"aaa", true, nil},
		{"bbb", true, errGoldenMismatch},
		{"bbb", true, errGoldenMismatch},
		{"aaa", true, nil},
		{"ccc", false, nil},
		{"aaa", true, errGoldenMismatch},
	}
	for i, st := range steps {
		res := &pipeline.Result{Checksum: st.checksum, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		err := record(context.Background(), dbPath, res, cfg, st.golden)
		if !errors.Is(err, st.wantErr) {
			t.Fatalf("step %d: record(%q) error = %v, want %v", i, st.checksum, err, st.wantErr)
		}
	}

	store, err := runstore.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range runs {
		got = append(got, r.Checksum)
	}
	if want := []string{"ccc", "aaa", "aaa"}; !slices.Equal(got, want) {
		t.Errorf("recorded checksums = %v, want %v", got, want)
	}
}

func TestPlotGrid(t *testing.T) {
	res := &pipeline.Result{BEV: &densify.BEV{
		Channels: 2, Rows: 1, Cols: 2,
		Data: []float32{1, -2, 0, 3},
	}}

	tests := []struct {
		name    string
		channel int
		want    []float64
		title   string
		wantErr bool
	}{
		{"occupancy", -1, []float64{1, 5}, "BEV occupancy", false},
		{"first channel", 0, []float64{1, -2}, "BEV channel 0", false},
		{"second channel", 1, []float64{0, 3}, "BEV channel 1", false},
		{"out of range", 2, nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, title, err := plotGrid(res, tt.channel)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("plotGrid(%d) succeeded, want error", tt.channel)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if title != tt.title {
				t.Errorf("title = %q, want %q", title, tt.title)
			}
			for c, want := range tt.want {
				if got := g.Z(c, 0); got != want {
					t.Errorf("Z(%d, 0) = %v, want %v", c, got, want)
				}
			}
		})
	}
}

func TestRunOnce_CheckGoldenNeedsDB(t *testing.T) {
	_, err := runOnce(context.Background(), config.EmptyBackboneConfig(), runOptions{checkGolden: true})
	assert.Error(t, err)
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	runs := []runstore.Run{{
		ID: "r1", StartedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), Seed: 42, Policy: "union",
		Checksum: "0123456789abcdef", Duration: 1234 * time.Millisecond,
	}}
	require.NoError(t, printRuns(&buf, runs))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "RUN"))
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")

	buf.Reset()
	run := &runstore.Run{ID: "r1", Stages: []backbone.StageTrace{{Name: "stage1", Shape: voxel.Shape{1, 2, 3}}}}
	require.NoError(t, printStages(&buf, run))
	assert.Contains(t, buf.String(), "(1,2,3)")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/bevplot"
	"github.com/banshee-data/sparsebev/internal/config"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/runstore"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// errGoldenMismatch is returned when a run's checksum differs from the
// last recorded one for the same seed and policy.
var errGoldenMismatch = errors.New("output differs from recorded golden checksum")

type runOptions struct {
	rows        int
	value       float64
	inputPath   string
	outPath     string
	pngPath     string
	htmlPath    string
	channel     int
	dbPath      string
	checkGolden bool
}

func handleRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Backbone configuration file")
	var o runOptions
	fs.IntVar(&o.rows, "rows", 3, "Feature rows placed at the probe coordinate when --input is not set")
	fs.Float64Var(&o.value, "value", 1, "Value of every probe feature")
	fs.StringVar(&o.inputPath, "input", "", "Voxel records file (int32 z,y,x then float32 features)")
	fs.StringVar(&o.outPath, "out", "", "Write the raw little-endian float32 BEV buffer here")
	fs.StringVar(&o.pngPath, "png", "", "Write a PNG occupancy heatmap here")
	fs.StringVar(&o.htmlPath, "html", "", "Write an HTML occupancy heatmap here")
	fs.IntVar(&o.channel, "channel", -1, "Plot this BEV channel instead of the all-channel occupancy")
	fs.StringVar(&o.dbPath, "db", "", "Record the run in this SQLite ledger")
	fs.BoolVar(&o.checkGolden, "check-golden", false, "Fail if the checksum differs from the last recorded run (requires --db)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	_, err = runOnce(context.Background(), cfg, o)
	return err
}

// probeInput builds rows copies of a constant feature vector at the probe
// coordinate.
func probeInput(arch backbone.Architecture, rows int, value float32) (*voxel.Tensor, error) {
	feats := make([]float32, rows*arch.InputChannels())
	for i := range feats {
		feats[i] = value
	}
	return transport.VoxelsFromFeatures(feats, arch.Input, arch.InputChannels())
}

func readInput(arch backbone.Architecture, o runOptions) (*voxel.Tensor, error) {
	if o.inputPath == "" {
		return probeInput(arch, o.rows, float32(o.value))
	}
	b, err := os.ReadFile(o.inputPath)
	if err != nil {
		return nil, err
	}
	in, dropped, err := transport.DecodeVoxels(b, arch.Input, arch.InputChannels())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.inputPath, err)
	}
	if dropped > 0 {
		monitoring.Diagf("run", "dropped %d voxels outside %v", dropped, arch.Input)
	}
	return in, nil
}

func runOnce(ctx context.Context, cfg *config.BackboneConfig, o runOptions) (*pipeline.Result, error) {
	if o.checkGolden && o.dbPath == "" {
		return nil, errors.New("--check-golden requires --db")
	}
	p, err := pipeline.FromConfig(cfg, nil)
	if err != nil {
		return nil, err
	}
	in, err := readInput(p.Backbone().Architecture(), o)
	if err != nil {
		return nil, err
	}

	res, err := p.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	fmt.Printf("BEV (%d, %d, %d) nonzero=%d sum=%.6g max=%.6g checksum=%s duration=%v\n",
		res.BEV.Channels, res.BEV.Rows, res.BEV.Cols, res.Stats.NonZero, res.Stats.Sum, res.Stats.Max, res.Checksum, res.Duration)

	if o.outPath != "" {
		if err := os.WriteFile(o.outPath, transport.EncodeFloats(res.BEV.Data), 0o644); err != nil {
			return nil, err
		}
	}
	if o.pngPath != "" || o.htmlPath != "" {
		if err := writePlots(res, cfg, o); err != nil {
			return nil, err
		}
	}
	if o.dbPath != "" {
		if err := record(ctx, o.dbPath, res, cfg, o.checkGolden); err != nil {
			return res, err
		}
	}
	return res, nil
}

// plotGrid selects what the heatmaps show: the occupancy of every channel
// when ch is negative, otherwise the single channel ch.
func plotGrid(res *pipeline.Result, ch int) (*bevplot.Grid, string, error) {
	if ch < 0 {
		return bevplot.Occupancy(res.BEV), "BEV occupancy", nil
	}
	g, err := bevplot.Channel(res.BEV, ch)
	if err != nil {
		return nil, "", err
	}
	return g, fmt.Sprintf("BEV channel %d", ch), nil
}

func writePlots(res *pipeline.Result, cfg *config.BackboneConfig, o runOptions) error {
	g, what, err := plotGrid(res, o.channel)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s seed=%d policy=%s", what, cfg.GetSeed(), cfg.GetResidualPolicy())
	if o.pngPath != "" {
		if err := bevplot.SavePNG(o.pngPath, g, title); err != nil {
			return err
		}
	}
	if o.htmlPath != "" {
		f, err := os.Create(o.htmlPath)
		if err != nil {
			return err
		}
		defer f.Close()
		subtitle := fmt.Sprintf("checksum %.12s nonzero cells %d", res.Checksum, g.NonZero())
		if err := bevplot.RenderHTML(f, g, title, subtitle, 1); err != nil {
			return err
		}
		return f.Close()
	}
	return nil
}

// record stores res. When checkGolden is set, res is first compared against
// the previously recorded checksum and a mismatching run is not stored, so
// the recorded golden stays the last run that passed.
func record(ctx context.Context, dbPath string, res *pipeline.Result, cfg *config.BackboneConfig, checkGolden bool) error {
	store, err := runstore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var golden string
	if checkGolden {
		golden, err = store.LatestChecksum(ctx, cfg.GetSeed(), cfg.GetResidualPolicy())
		switch {
		case errors.Is(err, runstore.ErrNotFound):
			monitoring.Diagf("run", "no golden checksum for seed=%d policy=%s, recording this run", cfg.GetSeed(), cfg.GetResidualPolicy())
		case err != nil:
			return err
		}
	}

	if golden != "" && golden != res.Checksum {
		return fmt.Errorf("%w: got %s, want %s", errGoldenMismatch, res.Checksum, golden)
	}

	run := runstore.NewRun(res, cfg.GetSeed(), cfg.GetResidualPolicy())
	if err := store.RecordRun(ctx, run); err != nil {
		return err
	}
	fmt.Printf("recorded run %s\n", run.ID)
	return nil
}

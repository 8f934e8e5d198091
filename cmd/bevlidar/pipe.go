package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sparsebev/internal/config"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

func handlePipe(args []string) error {
	fs := flag.NewFlagSet("pipe", flag.ExitOnError)
	configPath := fs.String("config", "", "Backbone configuration file")
	x := fs.Int("x", 0, "This node's mesh column")
	y := fs.Int("y", 0, "This node's mesh row")
	format := fs.String("format", "features", "Input payload: features (N x C float32) or voxels (records)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	p, err := pipeline.FromConfig(cfg, nil)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(os.Stdout)
	self := transport.Endpoint{X: int32(*x), Y: int32(*y)}
	if err := servePipe(context.Background(), p, cfg, os.Stdin, w, self, *format); err != nil {
		return err
	}
	return w.Flush()
}

// servePipe answers exactly one frame addressed to self with the BEV buffer,
// sent back to the frame's source.
func servePipe(ctx context.Context, p *pipeline.Pipeline, cfg *config.BackboneConfig, r io.Reader, w io.Writer, self transport.Endpoint, format string) error {
	f, err := transport.ReadFrame(r, cfg.GetMaxMessageBytes())
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if f.Dst != self {
		return fmt.Errorf("frame from %v addressed to %v, this node is %v", f.Src, f.Dst, self)
	}

	arch := p.Backbone().Architecture()
	var in *voxel.Tensor
	switch format {
	case "features":
		feats, err := f.Floats(-1)
		if err != nil {
			return err
		}
		in, err = transport.VoxelsFromFeatures(feats, arch.Input, arch.InputChannels())
		if err != nil {
			return err
		}
	case "voxels":
		in, _, err = transport.DecodeVoxels(f.Payload, arch.Input, arch.InputChannels())
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown input format %q", format)
	}

	res, err := p.Run(ctx, in)
	if err != nil {
		return err
	}
	if err := transport.WriteFrame(w, self, f.Src, transport.EncodeFloats(res.BEV.Data)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	monitoring.Diagf("pipe", "answered %v with %d values, checksum %.12s", f.Src, len(res.BEV.Data), res.Checksum)
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/weights"
)

func handleWeights(args []string) error {
	fs := flag.NewFlagSet("weights", flag.ExitOnError)
	configPath := fs.String("config", "", "Backbone configuration file")
	out := fs.String("out", "", "Output safetensors file (required)")
	half := fs.Bool("f16", false, "Store tensors as float16")
	fs.Parse(args)

	if *out == "" {
		fs.Usage()
		return errors.New("--out is required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	arch := backbone.Nominal()
	ws := backbone.InitWeights(arch, cfg.GetSeed(), cfg.GetWeightGain(), cfg.GetBiasStd())
	dtype := weights.F32
	if *half {
		dtype = weights.F16
	}
	buf, err := weights.Encode(arch.Layers(), ws, dtype)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, buf, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %d layers (%s, seed %d) to %s\n", len(ws), dtype, cfg.GetSeed(), *out)
	return nil
}

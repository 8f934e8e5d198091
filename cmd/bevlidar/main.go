// Command bevlidar runs the sparse voxel backbone: once from the command
// line, as a gRPC service, or as a mesh node speaking framed buffers over
// stdin and stdout.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/sparsebev/internal/config"
	"github.com/banshee-data/sparsebev/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "run":
		err = handleRun(args)
	case "serve":
		err = handleServe(args)
	case "pipe":
		err = handlePipe(args)
	case "weights":
		err = handleWeights(args)
	case "runs":
		err = handleRuns(args)
	case "version":
		fmt.Printf("bevlidar version %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bevlidar %s: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bevlidar - sparse LiDAR voxel backbone

Usage: bevlidar <command> [options]

Commands:
  run        Run the backbone once and write the BEV map
  serve      Serve the backbone over gRPC
  pipe       Read one input frame on stdin, write the BEV frame to stdout
  weights    Export the configured weights as safetensors
  runs       List recorded runs
  version    Show version information
  help       Show this help message

Common Flags:
  --config <file>      Backbone configuration (default: config/backbone.defaults.json if present)
  --db <file>          SQLite run ledger

Examples:
  # Three coincident all-ones voxels, PNG and HTML heatmaps
  bevlidar run --rows 3 --png bev.png --html bev.html

  # Record the run and compare against the last recorded checksum
  bevlidar run --db runs.db --check-golden

  # Mesh node at (1,2) answering the host at (0,0)
  bevlidar pipe --x 1 --y 2 < input.bin > output.bin`)
}

// loadConfig reads path, or the defaults file when path is empty and the
// defaults file exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.BackboneConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultBackboneConfigPath); err != nil {
			return config.EmptyBackboneConfig(), nil
		}
		path = config.DefaultBackboneConfigPath
	}
	return config.LoadBackboneConfig(path)
}

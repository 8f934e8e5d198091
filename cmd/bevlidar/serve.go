package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sparsebev/internal/inferrpc"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/runstore"
)

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Backbone configuration file")
	listen := fs.String("listen", ":50051", "gRPC listen address")
	dbPath := fs.String("db", "", "Record every run in this SQLite ledger")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	p, err := pipeline.FromConfig(cfg, nil)
	if err != nil {
		return err
	}

	srv := inferrpc.NewServer(p)
	if *dbPath != "" {
		store, err := runstore.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		srv.OnResult = func(ctx context.Context, res *pipeline.Result) {
			run := runstore.NewRun(res, cfg.GetSeed(), cfg.GetResidualPolicy())
			if err := store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
				monitoring.Diagf("rpc", "failed to record run: %v", err)
			}
		}
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return inferrpc.Serve(ctx, lis, srv, cfg.GetMaxMessageBytes())
}

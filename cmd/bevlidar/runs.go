package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/sparsebev/internal/runstore"
)

func handleRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite run ledger (required)")
	limit := fs.Int("n", 20, "Number of runs to list")
	id := fs.String("id", "", "Show the stage trace of one run")
	fs.Parse(args)

	if *dbPath == "" {
		return errors.New("--db is required")
	}
	store, err := runstore.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if *id != "" {
		run, err := store.GetRun(ctx, *id)
		if err != nil {
			return err
		}
		return printStages(os.Stdout, run)
	}
	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	return printRuns(os.Stdout, runs)
}

func printRuns(w io.Writer, runs []runstore.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSEED\tPOLICY\tNONZERO\tDURATION\tCHECKSUM")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%v\t%.12s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Seed, r.Policy, r.Stats.NonZero, r.Duration.Round(time.Millisecond), r.Checksum)
	}
	return tw.Flush()
}

func printStages(w io.Writer, r *runstore.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s seed=%d policy=%s checksum=%s\n", r.ID, r.Seed, r.Policy, r.Checksum)
	fmt.Fprintln(tw, "STAGE\tDECLARED\tPRODUCED\tSHAPE\tCHANNELS\tACTIVE\tDROPPED")
	for _, st := range r.Stages {
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%d\t%d\t%d\n", st.Name, st.Declared, st.Produced, st.Shape, st.Channels, st.Active, st.Dropped)
	}
	return tw.Flush()
}

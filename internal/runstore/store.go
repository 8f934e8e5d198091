// Package runstore keeps a SQLite ledger of backbone runs: when they ran,
// which weights and residual policy they used, the output checksum and the
// per-stage trace.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sparsebev/internal/backbone"
	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("runstore: run not found")

// Store is a migrated SQLite database of runs.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies all
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Run is one recorded pipeline invocation.
type Run struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	Seed        uint64
	Policy      string
	InputVoxels int
	Checksum    string
	Stats       pipeline.Stats
	Dropped     int
	Stages      []backbone.StageTrace
}

// NewRun describes res under a fresh run ID. The final layer is stored as
// the last stage entry.
func NewRun(res *pipeline.Result, seed uint64, policy string) Run {
	stages := make([]backbone.StageTrace, 0, len(res.Trace.Stages)+1)
	stages = append(stages, res.Trace.Stages...)
	stages = append(stages, res.Trace.Final)
	return Run{
		ID:          uuid.New().String(),
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
		Seed:        seed,
		Policy:      policy,
		InputVoxels: res.InputVoxels,
		Checksum:    res.Checksum,
		Stats:       res.Stats,
		Dropped:     res.Trace.Dropped(),
		Stages:      stages,
	}
}

// RecordRun inserts r and its stage traces in one transaction.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, duration_ns, seed, residual_policy, input_voxels,
			checksum, nonzero, value_sum, value_min, value_max, dropped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(timeLayout), int64(r.Duration), int64(r.Seed), r.Policy, r.InputVoxels,
		r.Checksum, r.Stats.NonZero, r.Stats.Sum, r.Stats.Min, r.Stats.Max, r.Dropped,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	for i, st := range r.Stages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stage_traces (
				run_id, ordinal, name, declared_shape, produced_shape, shape, channels, active, dropped
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, st.Name, st.Declared.String(), st.Produced.String(), st.Shape.String(), st.Channels, st.Active, st.Dropped,
		)
		if err != nil {
			return fmt.Errorf("insert stage %s of run %s: %w", st.Name, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	monitoring.Diagf("runstore", "recorded run %s checksum %.12s", r.ID, r.Checksum)
	return nil
}

const runColumns = `run_id, started_at, duration_ns, seed, residual_policy, input_voxels,
	checksum, nonzero, value_sum, value_min, value_max, dropped`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r       Run
		started string
		dur     int64
		seed    int64
	)
	err := row.Scan(&r.ID, &started, &dur, &seed, &r.Policy, &r.InputVoxels,
		&r.Checksum, &r.Stats.NonZero, &r.Stats.Sum, &r.Stats.Min, &r.Stats.Max, &r.Dropped)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt, err = time.Parse(timeLayout, started)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, started, err)
	}
	r.Duration = time.Duration(dur)
	r.Seed = uint64(seed)
	return r, nil
}

// GetRun loads a run and its stage traces.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.QueryContext(ctx, `
		SELECT name, declared_shape, produced_shape, shape, channels, active, dropped
		FROM stage_traces WHERE run_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st                        backbone.StageTrace
			declared, produced, shape string
		)
		if err := rows.Scan(&st.Name, &declared, &produced, &shape, &st.Channels, &st.Active, &st.Dropped); err != nil {
			return nil, err
		}
		for _, p := range []struct {
			dst *voxel.Shape
			src string
		}{{&st.Declared, declared}, {&st.Produced, produced}, {&st.Shape, shape}} {
			if *p.dst, err = parseShape(p.src); err != nil {
				return nil, fmt.Errorf("run %s stage %s: %w", id, st.Name, err)
			}
		}
		r.Stages = append(r.Stages, st)
	}
	return &r, rows.Err()
}

// ListRuns returns up to limit runs, newest first, without stage traces.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestChecksum returns the checksum of the most recent run recorded with
// seed and policy.
func (s *Store) LatestChecksum(ctx context.Context, seed uint64, policy string) (string, error) {
	var sum string
	err := s.QueryRowContext(ctx, `
		SELECT checksum FROM runs
		WHERE seed = ? AND residual_policy = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1`, int64(seed), policy).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: seed=%d policy=%s", ErrNotFound, seed, policy)
	}
	return sum, err
}

func parseShape(s string) (voxel.Shape, error) {
	var sh voxel.Shape
	if _, err := fmt.Sscanf(s, "(%d,%d,%d)", &sh[0], &sh[1], &sh[2]); err != nil {
		return voxel.Shape{}, fmt.Errorf("bad shape %q: %w", s, err)
	}
	return sh, nil
}

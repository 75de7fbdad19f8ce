// Package capture persists sampled cycles to SQLite so runs can be replayed
// and compared offline. Each run records the ray pattern it was sampled
// with; each cycle records its counts, range statistics and the packed
// local-frame point cloud.
package capture

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"
)

// ErrCorruptBlob is returned when a stored vector blob has an invalid length.
var ErrCorruptBlob = errors.New("corrupt vector blob")

// Store is a capture database.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the capture database at path, applies the
// connection pragmas and runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; a single writer keeps them in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Run describes one capture session.
type Run struct {
	ID          uuid.UUID
	Owner       uuid.UUID
	Fingerprint uint64
	Directions  pattern.Set
	Started     time.Time
}

// CycleRecord is the persisted form of one delivered cycle.
type CycleRecord struct {
	RunID       uuid.UUID
	Index       uint64
	Hits        int
	Gated       int
	Misses      int
	RangeMean   float64 // NaN when the cycle had no returns
	RangeStdDev float64 // NaN with fewer than two returns
	Latency     time.Duration
	Points      []r3.Vec
}

// BeginRun records a new run for owner sampling set.
func (s *Store) BeginRun(ctx context.Context, owner uuid.UUID, set pattern.Set, started time.Time) (Run, error) {
	run := Run{
		ID:          uuid.New(),
		Owner:       owner,
		Fingerprint: set.Fingerprint(),
		Directions:  set.Clone(),
		Started:     started,
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO capture_runs (run_id, owner_id, pattern_fingerprint, ray_count, directions_blob, started_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), owner.String(), strconv.FormatUint(run.Fingerprint, 16),
		set.Len(), EncodeVectors(set), started.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert capture run: %w", err)
	}
	return run, nil
}

// RecordCycle inserts one cycle.
func (s *Store) RecordCycle(ctx context.Context, rec CycleRecord) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO capture_cycles (run_id, cycle_index, hit_count, gated_count, miss_count, range_mean, range_stddev, latency_nanos, points_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID.String(), int64(rec.Index), rec.Hits, rec.Gated, rec.Misses,
		nullFloat(rec.RangeMean), nullFloat(rec.RangeStdDev), rec.Latency.Nanoseconds(), EncodeVectors(rec.Points))
	if err != nil {
		return fmt.Errorf("failed to insert cycle %d of run %s: %w", rec.Index, rec.RunID, err)
	}
	return nil
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT run_id, owner_id, pattern_fingerprint, directions_blob, started_unix_nanos
		 FROM capture_runs ORDER BY started_unix_nanos, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			id, owner, fp string
			blob          []byte
			started       int64
		)
		if err := rows.Scan(&id, &owner, &fp, &blob, &started); err != nil {
			return nil, err
		}
		run, err := decodeRun(id, owner, fp, blob, started)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Cycles returns every cycle of a run in index order.
func (s *Store) Cycles(ctx context.Context, runID uuid.UUID) ([]CycleRecord, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT cycle_index, hit_count, gated_count, miss_count, range_mean, range_stddev, latency_nanos, points_blob
		 FROM capture_cycles WHERE run_id = ? ORDER BY cycle_index`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var (
			rec          CycleRecord
			index        int64
			mean, stddev sql.NullFloat64
			latency      int64
			blob         []byte
		)
		if err := rows.Scan(&index, &rec.Hits, &rec.Gated, &rec.Misses, &mean, &stddev, &latency, &blob); err != nil {
			return nil, err
		}
		pts, err := DecodeVectors(blob)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", index, err)
		}
		rec.RunID = runID
		rec.Index = uint64(index)
		rec.RangeMean = floatOrNaN(mean)
		rec.RangeStdDev = floatOrNaN(stddev)
		rec.Latency = time.Duration(latency)
		rec.Points = pts
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, by cascade, its cycles.
func (s *Store) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	res, err := s.ExecContext(ctx, `DELETE FROM capture_runs WHERE run_id = ?`, runID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

func decodeRun(id, owner, fp string, blob []byte, started int64) (Run, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return Run{}, fmt.Errorf("bad run id %q: %w", id, err)
	}
	ownerID, err := uuid.Parse(owner)
	if err != nil {
		return Run{}, fmt.Errorf("bad owner id %q: %w", owner, err)
	}
	fingerprint, err := strconv.ParseUint(fp, 16, 64)
	if err != nil {
		return Run{}, fmt.Errorf("bad fingerprint %q: %w", fp, err)
	}
	dirs, err := DecodeVectors(blob)
	if err != nil {
		return Run{}, fmt.Errorf("run %s directions: %w", id, err)
	}
	return Run{
		ID:          runID,
		Owner:       ownerID,
		Fingerprint: fingerprint,
		Directions:  dirs,
		Started:     time.Unix(0, started),
	}, nil
}

// EncodeVectors packs vectors as little-endian float32 x, y, z triples.
func EncodeVectors(vs []r3.Vec) []byte {
	buf := make([]byte, 12*len(vs))
	for i, v := range vs {
		o := 12 * i
		binary.LittleEndian.PutUint32(buf[o:], math.Float32bits(float32(v.X)))
		binary.LittleEndian.PutUint32(buf[o+4:], math.Float32bits(float32(v.Y)))
		binary.LittleEndian.PutUint32(buf[o+8:], math.Float32bits(float32(v.Z)))
	}
	return buf
}

// DecodeVectors unpacks a blob written by EncodeVectors.
func DecodeVectors(b []byte) ([]r3.Vec, error) {
	if len(b)%12 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptBlob, len(b))
	}
	out := make([]r3.Vec, len(b)/12)
	for i := range out {
		o := 12 * i
		out[i] = r3.Vec{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[o:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[o+4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[o+8:]))),
		}
	}
	return out, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

package capture

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/engine"
	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Recorder is an engine sink writing every delivered cycle to a Store.
// Writes happen inline on the goroutine driving the engine. The first write
// error is kept and later cycles are dropped.
type Recorder[T any] struct {
	store   *Store
	run     Run
	rangeOf func(T) (float64, bool)

	mu      sync.Mutex
	written int
	err     error
	ranges  []float64
}

var _ engine.Sink[float64] = (*Recorder[float64])(nil)

// NewRecorder begins a run for owner. rangeOf extracts the distance of a
// reading and whether it is a return; non-returns are left out of the
// cycle's range summary.
func NewRecorder[T any](ctx context.Context, store *Store, owner uuid.UUID, set pattern.Set, rangeOf func(T) (float64, bool)) (*Recorder[T], error) {
	run, err := store.BeginRun(ctx, owner, set, time.Now())
	if err != nil {
		return nil, err
	}
	simlidar.Opsf("capture run %s started for owner %s (%d rays)", run.ID, owner, set.Len())
	return &Recorder[T]{
		store:   store,
		run:     run,
		rangeOf: rangeOf,
		ranges:  make([]float64, 0, set.Len()),
	}, nil
}

// Run returns the run being recorded.
func (r *Recorder[T]) Run() Run { return r.run }

// Consume implements engine.Sink.
func (r *Recorder[T]) Consume(c engine.Cycle[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}

	mean, stddev := r.summarise(c.Readings)
	err := r.store.RecordCycle(context.Background(), CycleRecord{
		RunID:       r.run.ID,
		Index:       c.Index,
		Hits:        c.Hits,
		Gated:       c.Gated,
		Misses:      c.Misses,
		RangeMean:   mean,
		RangeStdDev: stddev,
		Latency:     c.Latency,
		Points:      c.Points,
	})
	if err != nil {
		r.err = err
		simlidar.Opsf("capture run %s stopped: %v", r.run.ID, err)
		return
	}
	r.written++
	simlidar.Tracef("capture run %s: cycle %d written (mean range %.3f)", r.run.ID, c.Index, mean)
}

// summarise returns the mean and standard deviation of the valid ranges.
func (r *Recorder[T]) summarise(readings []T) (mean, stddev float64) {
	r.ranges = r.ranges[:0]
	for _, v := range readings {
		if d, ok := r.rangeOf(v); ok {
			r.ranges = append(r.ranges, d)
		}
	}
	switch len(r.ranges) {
	case 0:
		return math.NaN(), math.NaN()
	case 1:
		return r.ranges[0], math.NaN()
	}
	return stat.MeanStdDev(r.ranges, nil)
}

// Written returns the number of cycles persisted.
func (r *Recorder[T]) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Err returns the write error that stopped the recorder, if any.
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

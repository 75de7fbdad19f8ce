package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/jobs"
	"github.com/banshee-data/simlidar/internal/timeutil"
)

type cycleCounters struct {
	hits  atomic.Int64
	gated atomic.Int64
}

// Tick advances the cycle by at most one step and never blocks:
//
//   - Idle: dispatch a new cast.
//   - Casting, handle complete: dispatch readback.
//   - ReadingBack, handle complete: deliver the cycle and return to Idle.
//
// Anything else is a no-op. A failed stage is reported once, the cycle is
// dropped and the engine returns to Idle.
func (e *Engine[T]) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return ErrClosed
	}
	return e.step()
}

// Pump blocks until stage's in-flight handle completes or ctx ends, then
// advances exactly as Tick would. It is a no-op if stage is not in flight.
func (e *Engine[T]) Pump(ctx context.Context, stage Stage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return ErrClosed
	}
	switch {
	case stage == StageCast && e.state == StateCasting,
		stage == StageReadback && e.state == StateReadingBack:
		return e.advance(ctx)
	default:
		return nil
	}
}

// Sample finishes any cycle in flight, then runs one full cycle and returns
// it. The returned slices are valid until the next cycle is dispatched.
func (e *Engine[T]) Sample(ctx context.Context) (Cycle[T], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return Cycle[T]{}, ErrClosed
	}

	if err := e.settle(ctx); err != nil {
		return Cycle[T]{}, err
	}
	if err := e.step(); err != nil {
		return Cycle[T]{}, err
	}
	if err := e.settle(ctx); err != nil {
		return Cycle[T]{}, err
	}
	return e.last, nil
}

// Run calls Tick on every host tick until ctx ends, then lets the cycle in
// flight finish. A stage failure stops the loop and is returned. The caller
// owns ticker.
func (e *Engine[T]) Run(ctx context.Context, ticker timeutil.Ticker) error {
	ticks := ticker.C()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.state == StateClosed {
				return nil
			}
			return e.settle(context.Background())
		case <-ticks:
			if err := e.Tick(); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// settle drives the cycle in flight, if any, to delivery.
func (e *Engine[T]) settle(ctx context.Context) error {
	for e.state == StateCasting || e.state == StateReadingBack {
		if err := e.advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// advance waits for the current stage and steps past it.
func (e *Engine[T]) advance(ctx context.Context) error {
	var h *jobs.Handle
	switch e.state {
	case StateCasting:
		h = e.cast
	case StateReadingBack:
		h = e.readback
	}
	if h != nil {
		if err := h.Wait(ctx); err != nil && !h.Complete() {
			return err
		}
	}
	return e.step()
}

func (e *Engine[T]) step() error {
	switch e.state {
	case StateIdle:
		e.dispatchCast()
		return nil

	case StateCasting:
		if !e.cast.Complete() {
			return nil
		}
		if err := e.cast.Err(); err != nil {
			return e.fail(err)
		}
		e.dispatchReadback()
		return nil

	case StateReadingBack:
		if !e.readback.Complete() {
			return nil
		}
		if err := e.readback.Err(); err != nil {
			return e.fail(err)
		}
		e.deliver()
		return nil
	}
	return nil
}

// dispatchCast samples the pose once and schedules build-commands followed
// by intersect. The pose is baked into the commands.
func (e *Engine[T]) dispatchCast() {
	pose := e.poses.Pose()
	e.cycle++
	e.castPose = pose
	e.castStarted = e.clock.Now()

	n, batch := e.dirs.Len(), e.opts.BatchSize
	dirs, cmds, hits := e.dirs, e.commands, e.hits
	maxDist := e.opts.MaxDistance

	build := e.pool.Submit("build-commands", func(ctx context.Context) error {
		return e.pool.ParallelFor(ctx, n, batch, func(lo, hi int) error {
			for i := lo; i < hi; i++ {
				cmds[i] = simlidar.RayCommand{
					Origin:      pose.Position,
					Direction:   pose.TransformDirection(dirs[i]),
					MaxDistance: maxDist,
				}
			}
			return nil
		})
	})
	scene := e.scene
	e.cast = e.pool.Submit("intersect", func(ctx context.Context) error {
		return e.pool.ParallelFor(ctx, n, batch, func(lo, hi int) error {
			return scene.Intersect(ctx, cmds[lo:hi], hits[lo:hi])
		})
	}, build)

	e.state = StateCasting
	if simlidar.Enabled(simlidar.StreamTrace) {
		simlidar.Tracef("engine %s cycle %d: cast dispatched at %v", e.owner, e.cycle, pose.Position)
	}
}

// dispatchReadback schedules the per-ray interpretation of the hit buffer.
// Misses and returns closer than MinDistance become the sensor origin and a
// zero HitResult.
func (e *Engine[T]) dispatchReadback() {
	pose := e.castPose
	if e.opts.PoseSampling == PoseAtReadback {
		pose = e.poses.Pose()
	}
	e.readPose = pose

	n, batch := e.dirs.Len(), e.opts.BatchSize
	cmds, hits, points, readings := e.commands, e.hits, e.points, e.readings
	resolve, minDist := e.resolve, e.opts.MinDistance
	origin := pose.InverseTransform(pose.Position)
	counters := &cycleCounters{}
	e.counters = counters

	e.readback = e.pool.Submit("readback", func(ctx context.Context) error {
		return e.pool.ParallelFor(ctx, n, batch, func(lo, hi int) error {
			var nHits, nGated int64
			for i := lo; i < hi; i++ {
				hit := hits[i]
				if !hit.Hit || hit.Distance < minDist {
					if hit.Hit {
						nGated++
					}
					points[i] = origin
					readings[i] = resolve(simlidar.HitResult{}, cmds[i].Direction, i)
					continue
				}
				nHits++
				points[i] = pose.InverseTransform(hit.Point)
				readings[i] = resolve(hit, cmds[i].Direction, i)
			}
			counters.hits.Add(nHits)
			counters.gated.Add(nGated)
			return nil
		})
	}, e.cast)

	e.state = StateReadingBack
	simlidar.Tracef("engine %s cycle %d: readback dispatched", e.owner, e.cycle)
}

func (e *Engine[T]) deliver() {
	hits := int(e.counters.hits.Load())
	gated := int(e.counters.gated.Load())
	c := Cycle[T]{
		Index:    e.cycle,
		Points:   e.points,
		Readings: e.readings,
		CastPose: e.castPose,
		ReadPose: e.readPose,
		Hits:     hits,
		Gated:    gated,
		Misses:   e.dirs.Len() - hits - gated,
		Latency:  e.clock.Since(e.castStarted),
	}
	e.reset()

	e.stats.Cycles++
	e.stats.TotalHits += uint64(hits)
	e.stats.LastHits = c.Hits
	e.stats.LastGated = c.Gated
	e.stats.LastMisses = c.Misses
	e.stats.LastLatency = c.Latency
	e.last = c

	simlidar.Diagf("engine %s cycle %d: hits=%d gated=%d misses=%d latency=%v",
		e.owner, c.Index, c.Hits, c.Gated, c.Misses, c.Latency)
	if e.sink != nil {
		e.sink.Consume(c)
	}
}

func (e *Engine[T]) fail(err error) error {
	cycle := e.cycle
	e.reset()
	e.stats.Failed++
	simlidar.Opsf("engine %s cycle %d dropped: %v", e.owner, cycle, err)
	return err
}

func (e *Engine[T]) reset() {
	e.cast, e.readback, e.counters = nil, nil, nil
	e.state = StateIdle
}

// Package engine owns the raycast scheduler of the simulated sensor: the
// build → intersect → readback pipeline, its admission rule and the
// lifetime of every per-ray buffer.
//
// The orchestration is cooperative. Tick advances at most one step and
// never blocks; Pump and Sample block on the in-flight stage for callers
// that need a result now. At most one cycle is ever in flight.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/jobs"
	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/banshee-data/simlidar/internal/timeutil"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrClosed is returned by every driving call after Close.
	ErrClosed = errors.New("engine closed")
	// ErrInvalidParams reports a construction error.
	ErrInvalidParams = errors.New("invalid engine parameters")
)

// State is the scheduler's position in the cycle.
type State int

const (
	// StateIdle has no cast or readback outstanding.
	StateIdle State = iota
	// StateCasting has a build+intersect pair in flight.
	StateCasting
	// StateReadingBack has a readback in flight.
	StateReadingBack
	// StateClosed has released its buffers.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCasting:
		return "casting"
	case StateReadingBack:
		return "reading-back"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names a pipeline stage for Pump.
type Stage int

const (
	// StageCast is the build-commands + intersect pair.
	StageCast Stage = iota
	// StageReadback is the per-ray interpretation pass.
	StageReadback
)

// PoseSampling selects which emitter pose the readback inverse-transforms with.
type PoseSampling int

const (
	// PoseAtReadback re-samples the pose when readback is dispatched. Points
	// reflect where the emitter is now, at the cost of skew if it moved
	// while the cast was in flight.
	PoseAtReadback PoseSampling = iota
	// PoseAtDispatch reuses the pose baked into the cycle's commands, so
	// points are geometrically consistent with the rays that produced them.
	PoseAtDispatch
)

// Resolver turns one ray's hit into a reading. It runs concurrently for
// distinct indices of a cycle, so it must be total and must not mutate
// shared state. dir is the world-frame direction the ray was cast along;
// the emitter-frame direction is Params.Pattern[index], which resolvers that
// need it close over. Rays that missed or fell below the minimum distance
// receive a zero HitResult.
type Resolver[T any] func(hit simlidar.HitResult, dir r3.Vec, index int) T

// Cycle is one delivered sample. Points and Readings alias the engine's
// buffers: they are read-only and valid until the next cycle is dispatched.
type Cycle[T any] struct {
	Index    uint64
	Points   []r3.Vec // local frame, index-aligned with the ray pattern
	Readings []T
	CastPose simlidar.Pose
	ReadPose simlidar.Pose
	Hits     int // rays with a valid return
	Gated    int // rays that hit closer than MinDistance
	Misses   int // rays with no hit at all
	Latency  time.Duration
}

// Sink consumes delivered cycles. Consume runs on the goroutine driving the
// engine and must not call back into it.
type Sink[T any] interface {
	Consume(c Cycle[T])
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc[T any] func(c Cycle[T])

// Consume calls f.
func (f SinkFunc[T]) Consume(c Cycle[T]) { f(c) }

// Options tunes an engine.
type Options struct {
	MinDistance  float64 // returns closer than this are treated as no return
	MaxDistance  float64 // ray length
	BatchSize    int     // rays per worker batch, 0 = pool default
	PoseSampling PoseSampling
	Clock        timeutil.Clock // nil = real time
}

// Params wires an engine to its collaborators.
type Params[T any] struct {
	Owner    uuid.UUID
	Pattern  pattern.Set
	Scene    simlidar.Intersector
	Poses    simlidar.PoseSource
	Resolve  Resolver[T]
	Sink     Sink[T]        // optional
	Pool     *jobs.Pool     // nil = private pool closed with the engine
	Registry *OwnerRegistry // nil = DefaultRegistry
	Options  Options
}

// Stats summarises an engine's activity.
type Stats struct {
	Cycles      uint64
	Failed      uint64
	Rays        int
	TotalHits   uint64
	LastHits    int
	LastGated   int
	LastMisses  int
	LastLatency time.Duration
}

// Engine samples a scene with a fixed ray pattern, one cycle at a time.
// Methods serialize on an internal mutex.
type Engine[T any] struct {
	mu sync.Mutex

	owner    uuid.UUID
	registry *OwnerRegistry
	dirs     pattern.Set
	scene    simlidar.Intersector
	poses    simlidar.PoseSource
	resolve  Resolver[T]
	sink     Sink[T]
	pool     *jobs.Pool
	ownPool  bool
	opts     Options
	clock    timeutil.Clock

	commands []simlidar.RayCommand
	hits     []simlidar.HitResult
	points   []r3.Vec
	readings []T

	state    State
	cast     *jobs.Handle
	readback *jobs.Handle
	counters *cycleCounters

	cycle       uint64
	castPose    simlidar.Pose
	readPose    simlidar.Pose
	castStarted time.Time
	last        Cycle[T]
	stats       Stats
}

// New validates p, registers its owner and allocates every per-ray buffer
// for the engine's lifetime.
func New[T any](p Params[T]) (*Engine[T], error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	registry := p.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	if err := registry.Register(p.Owner); err != nil {
		return nil, err
	}

	pool, ownPool := p.Pool, false
	if pool == nil {
		pool, ownPool = jobs.NewPool(0), true
	}
	clock := p.Options.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	n := p.Pattern.Len()
	e := &Engine[T]{
		owner:    p.Owner,
		registry: registry,
		dirs:     p.Pattern.Clone(),
		scene:    p.Scene,
		poses:    p.Poses,
		resolve:  p.Resolve,
		sink:     p.Sink,
		pool:     pool,
		ownPool:  ownPool,
		opts:     p.Options,
		clock:    clock,
		commands: make([]simlidar.RayCommand, n),
		hits:     make([]simlidar.HitResult, n),
		points:   make([]r3.Vec, n),
		readings: make([]T, n),
		state:    StateIdle,
	}
	e.stats.Rays = n

	simlidar.Opsf("engine %s ready: rays=%d min=%.3fm max=%.3fm workers=%d pattern=%016x",
		e.owner, n, p.Options.MinDistance, p.Options.MaxDistance, pool.Workers(), e.dirs.Fingerprint())
	return e, nil
}

func (p Params[T]) validate() error {
	switch {
	case p.Owner == uuid.Nil:
		return fmt.Errorf("%w: owner identity is nil", ErrInvalidParams)
	case p.Pattern.Len() == 0:
		return fmt.Errorf("%w: ray pattern is empty", ErrInvalidParams)
	case p.Scene == nil:
		return fmt.Errorf("%w: scene is nil", ErrInvalidParams)
	case p.Poses == nil:
		return fmt.Errorf("%w: pose source is nil", ErrInvalidParams)
	case p.Resolve == nil:
		return fmt.Errorf("%w: resolver is nil", ErrInvalidParams)
	}
	o := p.Options
	if !(o.MaxDistance > 0) || math.IsInf(o.MaxDistance, 0) {
		return fmt.Errorf("%w: max distance must be positive and finite, got %g", ErrInvalidParams, o.MaxDistance)
	}
	if o.MinDistance < 0 || o.MinDistance >= o.MaxDistance || math.IsNaN(o.MinDistance) {
		return fmt.Errorf("%w: min distance %g must be in [0, %g)", ErrInvalidParams, o.MinDistance, o.MaxDistance)
	}
	if o.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must be non-negative, got %d", ErrInvalidParams, o.BatchSize)
	}
	return nil
}

// Owner returns the engine's owner identity.
func (e *Engine[T]) Owner() uuid.UUID { return e.owner }

// Len returns the number of rays sampled per cycle.
func (e *Engine[T]) Len() int { return e.dirs.Len() }

// State returns the scheduler state.
func (e *Engine[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InFlight reports which stage handles are outstanding.
func (e *Engine[T]) InFlight() (casting, readingBack bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	casting = e.cast != nil && !e.cast.Complete()
	readingBack = e.readback != nil && !e.readback.Complete()
	return
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine[T]) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Last returns the most recently delivered cycle.
func (e *Engine[T]) Last() (Cycle[T], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.last.Index > 0
}

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/jobs"
	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/banshee-data/simlidar/internal/simlidar/scene"
	"github.com/banshee-data/simlidar/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func identity(hit simlidar.HitResult, _ r3.Vec, _ int) simlidar.HitResult { return hit }

func distance(hit simlidar.HitResult, _ r3.Vec, _ int) float64 { return hit.Distance }

func grid(t *testing.T, w, h int, hFov, vFov float64) pattern.Set {
	t.Helper()
	set, err := pattern.UniformGrid(w, h, hFov, vFov)
	require.NoError(t, err)
	return set
}

// movablePose is a pose source tests can move between stages.
type movablePose struct {
	mu    sync.Mutex
	pose  simlidar.Pose
	calls int
}

func (m *movablePose) Pose() simlidar.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.pose
}

func (m *movablePose) Set(p simlidar.Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = p
}

func (m *movablePose) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestEngine[T any](t *testing.T, p Params[T]) *Engine[T] {
	t.Helper()
	if p.Owner == uuid.Nil {
		p.Owner = uuid.New()
	}
	if p.Registry == nil {
		p.Registry = NewOwnerRegistry()
	}
	if p.Poses == nil {
		p.Poses = simlidar.StaticPose{}
	}
	if p.Options.MaxDistance == 0 {
		p.Options.MaxDistance = 100
	}
	e, err := New(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_SphereFromCenterReturnsRadius(t *testing.T) {
	const radius = 5.0
	center := r3.Vec{X: 3, Y: 1, Z: -2}

	world := scene.NewWorld()
	world.Add(scene.Sphere{Center: center, Radius: radius}, scene.Material{Name: "shell"})

	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 16, 1, 360, 0),
		Scene:   world,
		Poses:   simlidar.StaticPose(simlidar.NewPose(center, 30, 10, 0)),
		Resolve: distance,
		Options: Options{MaxDistance: 2 * radius},
	})

	c, err := e.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Readings, 16)
	require.Len(t, c.Points, 16)
	assert.Equal(t, 16, c.Hits)
	assert.Zero(t, c.Gated)
	assert.Zero(t, c.Misses)

	for i := range c.Readings {
		assert.InDelta(t, radius, c.Readings[i], 1e-9, "reading %d", i)
		assert.InDelta(t, radius, r3.Norm(c.Points[i]), 1e-9, "point %d on sphere in local frame", i)
	}
}

func TestEngine_LocalPointsMatchPattern(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Sphere{Radius: 10}, scene.Material{})

	set := grid(t, 8, 4, 90, 30)
	e := newTestEngine(t, Params[float64]{
		Pattern: set,
		Scene:   world,
		Poses:   simlidar.StaticPose(simlidar.NewPose(r3.Vec{}, -45, 0, 20)),
		Resolve: distance,
	})

	c, err := e.Sample(context.Background())
	require.NoError(t, err)

	want := make([]r3.Vec, set.Len())
	for i, d := range set {
		want[i] = r3.Scale(10, d)
	}
	if diff := cmp.Diff(want, c.Points, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("local points mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_GatedAndMissedRaysEmitLocalOrigin(t *testing.T) {
	// Wall one metre ahead of the emitter, nothing behind it.
	world := scene.NewWorld()
	world.Add(scene.Plane{Point: r3.Vec{Z: 5}, Normal: r3.Vec{Z: -1}}, scene.Material{})

	set := pattern.FromAngles([]pattern.Angles{{H: 0}, {H: 180}, {H: 10}})
	e := newTestEngine(t, Params[simlidar.HitResult]{
		Pattern: set,
		Scene:   world,
		Poses:   simlidar.StaticPose(simlidar.NewPose(r3.Vec{X: 7, Y: -3, Z: 4}, 0, 0, 0)),
		Resolve: identity,
		Options: Options{MinDistance: 2, MaxDistance: 50},
	})

	c, err := e.Sample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, c.Hits)
	assert.Equal(t, 2, c.Gated, "both forward rays hit the wall inside min distance")
	assert.Equal(t, 1, c.Misses)
	for i := range c.Points {
		assert.InDelta(t, 0, r3.Norm(c.Points[i]), 1e-9, "ray %d emits the local origin", i)
		assert.Equal(t, simlidar.HitResult{}, c.Readings[i], "ray %d resolves a zero hit", i)
	}

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Equal(t, 2, st.LastGated)
	assert.Equal(t, 1, st.LastMisses)
}

func TestEngine_ReturnAtMinDistanceIsKept(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Plane{Point: r3.Vec{Z: 2}, Normal: r3.Vec{Z: -1}}, scene.Material{})

	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 1, 1, 0, 0),
		Scene:   world,
		Resolve: distance,
		Options: Options{MinDistance: 2, MaxDistance: 10},
	})
	c, err := e.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Hits)
	assert.InDelta(t, 2, c.Readings[0], 1e-12)
}

func TestEngine_AdmissionUnderSlowReadback(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Sphere{Radius: 3}, scene.Material{})

	release := make(chan struct{})
	var resolved atomic.Int64
	slow := func(hit simlidar.HitResult, _ r3.Vec, _ int) float64 {
		<-release
		resolved.Add(1)
		return hit.Distance
	}
	poses := &movablePose{}
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))

	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 16, 2, 360, 10),
		Scene:   world,
		Poses:   poses,
		Resolve: slow,
		Options: Options{PoseSampling: PoseAtDispatch, Clock: clock},
	})

	require.NoError(t, e.Tick())
	assert.Equal(t, StateCasting, e.State())
	require.NoError(t, e.Pump(context.Background(), StageCast))
	assert.Equal(t, StateReadingBack, e.State())
	assert.Equal(t, 1, poses.Calls())

	for i := 0; i < 20; i++ {
		require.NoError(t, e.Tick())
		assert.Equal(t, StateReadingBack, e.State(), "no new cast while readback is in flight")
		casting, readingBack := e.InFlight()
		assert.False(t, casting)
		assert.True(t, readingBack)
	}
	assert.Equal(t, 1, poses.Calls(), "pose sampled once per admitted cast")
	assert.Zero(t, e.Stats().Cycles)

	clock.Advance(40 * time.Millisecond)
	close(release)
	require.NoError(t, e.Pump(context.Background(), StageReadback))
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, int64(32), resolved.Load())

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Equal(t, 40*time.Millisecond, st.LastLatency)

	require.NoError(t, e.Tick())
	assert.Equal(t, StateCasting, e.State())
	assert.Equal(t, 2, poses.Calls())
}

func TestEngine_PumpIsNoOpForStageNotInFlight(t *testing.T) {
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 4, 1, 90, 0),
		Scene:   scene.NewWorld(),
		Resolve: distance,
	})

	require.NoError(t, e.Pump(context.Background(), StageReadback))
	assert.Equal(t, StateIdle, e.State())

	require.NoError(t, e.Tick())
	require.NoError(t, e.Pump(context.Background(), StageReadback))
	assert.Equal(t, StateCasting, e.State())
}

func TestEngine_PumpHonoursContext(t *testing.T) {
	release := make(chan struct{})
	blocking := simlidar.IntersectorFunc(func(ctx context.Context, cmds []simlidar.RayCommand, hits []simlidar.HitResult) error {
		<-release
		return nil
	})
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 4, 1, 90, 0),
		Scene:   blocking,
		Resolve: distance,
	})
	defer close(release)

	require.NoError(t, e.Tick())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Pump(ctx, StageCast)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateCasting, e.State())
}

func TestEngine_PoseSamplingPolicy(t *testing.T) {
	wall := scene.NewWorld()
	wall.Add(scene.Plane{Point: r3.Vec{Z: 10}, Normal: r3.Vec{Z: -1}}, scene.Material{})

	tests := []struct {
		name   string
		policy PoseSampling
		wantZ  float64
	}{
		{"at readback", PoseAtReadback, 6},
		{"at dispatch", PoseAtDispatch, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poses := &movablePose{}
			e := newTestEngine(t, Params[float64]{
				Pattern: grid(t, 1, 1, 0, 0),
				Scene:   wall,
				Poses:   poses,
				Resolve: distance,
				Options: Options{PoseSampling: tt.policy, MaxDistance: 50},
			})

			require.NoError(t, e.Tick())
			poses.Set(simlidar.Pose{Position: r3.Vec{Z: 4}})
			require.NoError(t, e.Pump(context.Background(), StageCast))
			require.NoError(t, e.Pump(context.Background(), StageReadback))

			c, ok := e.Last()
			require.True(t, ok)
			assert.InDelta(t, 10, c.Readings[0], 1e-9, "distance comes from the cast")
			assert.InDelta(t, tt.wantZ, c.Points[0].Z, 1e-9)
			assert.Equal(t, r3.Vec{}, c.CastPose.Position)
		})
	}
}

func TestEngine_ResolverPanicPropagates(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Sphere{Radius: 2}, scene.Material{})

	var delivered atomic.Int64
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 8, 1, 360, 0),
		Scene:   world,
		Resolve: func(hit simlidar.HitResult, _ r3.Vec, i int) float64 {
			if i == 3 {
				panic("bad collider")
			}
			return hit.Distance
		},
		Sink: SinkFunc[float64](func(Cycle[float64]) { delivered.Add(1) }),
	})

	_, err := e.Sample(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrPanic)
	assert.Contains(t, err.Error(), "bad collider")
	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, delivered.Load(), "failed cycle is not delivered")
	assert.Equal(t, uint64(1), e.Stats().Failed)
}

func TestEngine_IntersectFailureSkipsReadback(t *testing.T) {
	boom := errors.New("backend offline")
	var resolved atomic.Int64
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 4, 1, 90, 0),
		Scene: simlidar.IntersectorFunc(func(context.Context, []simlidar.RayCommand, []simlidar.HitResult) error {
			return boom
		}),
		Resolve: func(simlidar.HitResult, r3.Vec, int) float64 {
			resolved.Add(1)
			return 0
		},
	})

	require.NoError(t, e.Tick())
	err := e.Pump(context.Background(), StageCast)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, resolved.Load())
}

func TestEngine_SinkReceivesEveryCycle(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Sphere{Radius: 4}, scene.Material{})

	var got []uint64
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 32, 4, 360, 20),
		Scene:   world,
		Resolve: distance,
		Sink: SinkFunc[float64](func(c Cycle[float64]) {
			got = append(got, c.Index)
		}),
		Options: Options{BatchSize: 7},
	})

	for i := 0; i < 3; i++ {
		c, err := e.Sample(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 128, c.Hits)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
	assert.Equal(t, uint64(384), e.Stats().TotalHits)
}

func TestEngine_RunDrivesCyclesOnHostTicks(t *testing.T) {
	world := scene.NewWorld()
	world.Add(scene.Sphere{Radius: 4}, scene.Material{})

	cycles := make(chan uint64, 16)
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 16, 1, 360, 0),
		Scene:   world,
		Resolve: distance,
		Sink: SinkFunc[float64](func(c Cycle[float64]) {
			select {
			case cycles <- c.Index:
			default:
			}
		}),
	})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(10 * time.Millisecond).(*timeutil.MockTicker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, ticker) }()

	require.Eventually(t, func() bool {
		ticker.Trigger(clock.Now())
		return len(cycles) >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateIdle, e.State(), "Run settles the cycle in flight")
	assert.Equal(t, uint64(1), <-cycles)
}

func TestEngine_RunReturnsStageFailure(t *testing.T) {
	e := newTestEngine(t, Params[float64]{
		Pattern: grid(t, 2, 1, 10, 0),
		Scene:   scene.NewWorld(),
		Resolve: func(simlidar.HitResult, r3.Vec, int) float64 { panic("nope") },
	})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Millisecond).(*timeutil.MockTicker)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), ticker) }()

	var err error
	require.Eventually(t, func() bool {
		ticker.Trigger(clock.Now())
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, err, jobs.ErrPanic)
}

func TestEngine_ResolverDirectionAndIndex(t *testing.T) {
	set := grid(t, 6, 3, 120, 40)
	pose := simlidar.NewPose(r3.Vec{X: 1, Y: 2, Z: 3}, 37, 12, 5)

	type seen struct {
		World, Local r3.Vec
	}
	resolve := func(_ simlidar.HitResult, dir r3.Vec, i int) seen {
		return seen{World: dir, Local: set[i]}
	}
	e := newTestEngine(t, Params[seen]{
		Pattern: set,
		Scene:   scene.NewWorld(),
		Poses:   simlidar.StaticPose(pose),
		Resolve: resolve,
		Options: Options{BatchSize: 4},
	})

	c, err := e.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Readings, set.Len())
	for i, r := range c.Readings {
		assert.Equal(t, set[i], r.Local, "ray %d", i)
		want := pose.TransformDirection(set[i])
		assert.InDelta(t, 0, r3.Norm(r3.Sub(want, r.World)), 1e-12, "ray %d", i)
		back := pose.InverseTransform(r3.Add(pose.Position, r.World))
		assert.InDelta(t, 0, r3.Norm(r3.Sub(set[i], back)), 1e-9, "ray %d", i)
	}
}

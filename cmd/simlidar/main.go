// Command simlidar drives a simulated lidar around a test room on a host
// ticker, resolving each cycle into range/intensity readings and recording
// the cycles into a SQLite capture database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/simlidar/internal/config"
	"github.com/banshee-data/simlidar/internal/security"
	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/capture"
	"github.com/banshee-data/simlidar/internal/simlidar/engine"
	"github.com/banshee-data/simlidar/internal/simlidar/jobs"
	"github.com/banshee-data/simlidar/internal/simlidar/patternplot"
	"github.com/banshee-data/simlidar/internal/simlidar/readings"
	"github.com/banshee-data/simlidar/internal/simlidar/scene"
	"github.com/banshee-data/simlidar/internal/timeutil"
	"github.com/banshee-data/simlidar/internal/version"
)

var (
	configFile  = flag.String("config", "", "Sensor config (.json or .yaml); empty loads "+config.DefaultConfigPath)
	dbFile      = flag.String("db", "simlidar.db", "Path to the SQLite capture database")
	cycles      = flag.Int("cycles", 50, "Number of cycles to capture before exiting (0 runs until interrupted)")
	hz          = flag.Float64("hz", 0, "Sampling rate in Hz; overrides the config tick_interval when set")
	meshFile    = flag.String("mesh", "", "Optional STL/OBJ/PLY mesh to place in the room")
	meshScale   = flag.Float64("mesh-scale", 1, "Uniform scale applied to -mesh")
	orbitRadius = flag.Float64("orbit", 3, "Radius in metres of the emitter's orbit around the room centre")
	plotFile    = flag.String("plot", "", "Write a top-down PNG of the last cycle's points to this path")
	trace       = flag.Bool("trace", false, "Enable per-stage scheduling telemetry")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Room dimensions in metres.
const (
	roomWidth  = 20.0
	roomDepth  = 12.0
	roomHeight = 4.0
	sensorY    = 1.5
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("simlidar"))
		return
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	streams := attachStreams(logger, *trace)

	err = run(logger)
	if err != nil {
		logger.Error("simlidar failed", zap.Error(err))
	}
	// os.Exit skips deferred calls, so flush explicitly.
	streams.Close()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// logStreams routes the simlidar log streams into zap.
type logStreams struct {
	writers []*zapio.Writer
}

func attachStreams(logger *zap.Logger, trace bool) *logStreams {
	ops := &zapio.Writer{Log: logger.Named("ops"), Level: zapcore.InfoLevel}
	diag := &zapio.Writer{Log: logger.Named("diag"), Level: zapcore.DebugLevel}
	ls := &logStreams{writers: []*zapio.Writer{ops, diag}}
	w := simlidar.LogWriters{Ops: ops, Diag: diag, Flags: simlidar.NoTimestamps}
	if trace {
		tw := &zapio.Writer{Log: logger.Named("trace"), Level: zapcore.DebugLevel}
		ls.writers = append(ls.writers, tw)
		w.Trace = tw
	}
	simlidar.SetLogWriters(w)
	return ls
}

// Close detaches the streams and flushes any partial line each writer holds.
func (ls *logStreams) Close() {
	simlidar.SetLogWriters(simlidar.LogWriters{})
	for _, w := range ls.writers {
		w.Close()
	}
}

func newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if *trace {
		level = zapcore.DebugLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
	return cfg.Build()
}

func loadConfig() (*config.SensorConfig, error) {
	if *configFile == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadSensorConfig(*configFile)
}

func buildScene() (*scene.World, error) {
	world := scene.NewRoom(roomWidth, roomDepth, roomHeight)
	if *meshFile == "" {
		return world, nil
	}
	place := simlidar.NewPose(r3.Vec{X: -roomWidth / 4, Z: -roomDepth / 4}, 0, 0, 0)
	m, err := scene.LoadMesh(*meshFile, *meshScale, place)
	if err != nil {
		return nil, err
	}
	world.Add(m, scene.Material{Name: "mesh", Reflectivity: 0.5, Class: scene.ClassCrate + 1})
	return world, nil
}

// orbit moves the emitter on a horizontal circle while it spins about its
// vertical axis.
func orbit(clock timeutil.Clock, radius float64) simlidar.PoseSource {
	start := clock.Now()
	return simlidar.PoseFunc(func() simlidar.Pose {
		t := clock.Since(start).Seconds()
		theta := 0.2 * t
		pos := r3.Vec{X: radius * math.Cos(theta), Y: sensorY, Z: radius * math.Sin(theta)}
		return simlidar.NewPose(pos, math.Mod(36*t, 360), 0, 0)
	})
}

func run(logger *zap.Logger) error {
	for _, out := range []string{*dbFile, *plotFile} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load sensor config: %w", err)
	}
	set, err := cfg.BuildPattern()
	if err != nil {
		return fmt.Errorf("failed to build ray pattern: %w", err)
	}
	world, err := buildScene()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := capture.Open(*dbFile)
	if err != nil {
		return fmt.Errorf("failed to open capture database: %w", err)
	}
	defer store.Close()

	owner := uuid.New()
	rec, err := capture.NewRecorder(ctx, store, owner, set, readings.RangeOf)
	if err != nil {
		return err
	}

	pool := jobs.NewPool(cfg.GetWorkers())
	defer pool.Close()

	clock := timeutil.RealClock{}
	target := uint64(max(*cycles, 0))
	sink := engine.SinkFunc[readings.Range](func(c engine.Cycle[readings.Range]) {
		rec.Consume(c)
		if target > 0 && c.Index >= target {
			cancel()
		}
	})

	e, err := engine.New(engine.Params[readings.Range]{
		Owner:   owner,
		Pattern: set,
		Scene:   world,
		Poses:   orbit(clock, *orbitRadius),
		Resolve: readings.RangeResolver(world.Materials()),
		Sink:    sink,
		Pool:    pool,
		Options: cfg.EngineOptions(),
	})
	if err != nil {
		return err
	}
	defer e.Close()

	tick := cfg.GetTickInterval()
	if *hz > 0 {
		tick = timeutil.Period(*hz)
	}
	ticker := clock.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("capture started",
		zap.String("run", rec.Run().ID.String()),
		zap.Int("rays", set.Len()),
		zap.Int("workers", pool.Workers()),
		zap.Duration("tick", tick),
		zap.String("db", *dbFile))

	started := time.Now()
	if err := e.Run(ctx, ticker); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	if err := rec.Err(); err != nil {
		return fmt.Errorf("capture write failed: %w", err)
	}

	stats := e.Stats()
	logger.Info("capture finished",
		zap.Uint64("cycles", stats.Cycles),
		zap.Uint64("failed", stats.Failed),
		zap.Int("written", rec.Written()),
		zap.Uint64("hits", stats.TotalHits),
		zap.Duration("last_latency", stats.LastLatency),
		zap.Duration("elapsed", time.Since(started)))

	if *plotFile != "" {
		last, ok := e.Last()
		if !ok {
			logger.Warn("no cycle completed; skipping plot")
			return nil
		}
		title := fmt.Sprintf("cycle %d (%d hits)", last.Index, last.Hits)
		if err := patternplot.SaveCloudPNG(last.Points, title, *plotFile); err != nil {
			return fmt.Errorf("failed to write plot: %w", err)
		}
		logger.Info("wrote point cloud plot", zap.String("path", *plotFile))
	}
	return nil
}

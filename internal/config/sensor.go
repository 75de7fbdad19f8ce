package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/simlidar/internal/simlidar/engine"
	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical sensor defaults file.
const DefaultConfigPath = "config/sensor.defaults.json"

// Pattern kinds.
const (
	PatternGrid      = "grid"
	PatternVertical  = "vertical"
	PatternIntervals = "intervals"
	PatternDatasheet = "datasheet"
)

// Pose sampling policies.
const (
	PoseSamplingReadback = "readback"
	PoseSamplingDispatch = "dispatch"
)

// SensorConfig describes a simulated sensor: its ray pattern, range gate and
// scheduling. Fields are pointers so partial files keep the Get* defaults.
type SensorConfig struct {
	// Pattern params
	Pattern           *string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	HorizontalRays    *int               `json:"horizontal_rays,omitempty" yaml:"horizontal_rays,omitempty"`
	VerticalRays      *int               `json:"vertical_rays,omitempty" yaml:"vertical_rays,omitempty"`
	HorizontalFOV     *float64           `json:"horizontal_fov_deg,omitempty" yaml:"horizontal_fov_deg,omitempty"`
	VerticalFOV       *float64           `json:"vertical_fov_deg,omitempty" yaml:"vertical_fov_deg,omitempty"`
	VerticalAngles    []float64          `json:"vertical_angles_deg,omitempty" yaml:"vertical_angles_deg,omitempty"`
	VerticalIntervals []pattern.Interval `json:"vertical_intervals,omitempty" yaml:"vertical_intervals,omitempty"`
	Datasheet         *string            `json:"datasheet,omitempty" yaml:"datasheet,omitempty"` // embedded name or path to a .csv

	// Range gate
	MinDistance *float64 `json:"min_distance,omitempty" yaml:"min_distance,omitempty"`
	MaxDistance *float64 `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`

	// Scheduling
	Workers      *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	BatchSize    *int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	PoseSampling *string `json:"pose_sampling,omitempty" yaml:"pose_sampling,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // duration string like "100ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySensorConfig returns a SensorConfig with all fields unset.
func EmptySensorConfig() *SensorConfig {
	return &SensorConfig{}
}

// DefaultSensorConfig returns a SensorConfig with every field set to its
// default.
func DefaultSensorConfig() *SensorConfig {
	c := EmptySensorConfig()
	return &SensorConfig{
		Pattern:        ptrString(c.GetPattern()),
		HorizontalRays: ptrInt(c.GetHorizontalRays()),
		VerticalRays:   ptrInt(c.GetVerticalRays()),
		HorizontalFOV:  ptrFloat64(c.GetHorizontalFOV()),
		VerticalFOV:    ptrFloat64(c.GetVerticalFOV()),
		MinDistance:    ptrFloat64(c.GetMinDistance()),
		MaxDistance:    ptrFloat64(c.GetMaxDistance()),
		Workers:        ptrInt(c.GetWorkers()),
		BatchSize:      ptrInt(c.GetBatchSize()),
		PoseSampling:   ptrString(c.GetPoseSampling()),
		TickInterval:   ptrString(c.GetTickInterval().String()),
	}
}

// LoadSensorConfig loads a SensorConfig from a JSON or YAML file, chosen by
// extension. Omitted fields keep their defaults.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySensorConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SensorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/simlidar/engine/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSensorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	switch p := c.GetPattern(); p {
	case PatternGrid:
	case PatternVertical:
		if len(c.VerticalAngles) == 0 {
			return fmt.Errorf("pattern %q requires vertical_angles_deg", p)
		}
	case PatternIntervals:
		if len(c.VerticalIntervals) == 0 {
			return fmt.Errorf("pattern %q requires vertical_intervals", p)
		}
	case PatternDatasheet:
		if c.Datasheet == nil || *c.Datasheet == "" {
			return fmt.Errorf("pattern %q requires datasheet", p)
		}
	default:
		return fmt.Errorf("unknown pattern %q (want grid, vertical, intervals or datasheet)", p)
	}

	if c.HorizontalRays != nil && *c.HorizontalRays < 1 {
		return fmt.Errorf("horizontal_rays must be at least 1, got %d", *c.HorizontalRays)
	}
	if c.VerticalRays != nil && *c.VerticalRays < 1 {
		return fmt.Errorf("vertical_rays must be at least 1, got %d", *c.VerticalRays)
	}
	if c.HorizontalFOV != nil && !inRange(*c.HorizontalFOV, 0, 360) {
		return fmt.Errorf("horizontal_fov_deg must be between 0 and 360, got %f", *c.HorizontalFOV)
	}
	if c.VerticalFOV != nil && !inRange(*c.VerticalFOV, 0, 180) {
		return fmt.Errorf("vertical_fov_deg must be between 0 and 180, got %f", *c.VerticalFOV)
	}

	minD, maxD := c.GetMinDistance(), c.GetMaxDistance()
	if !inRange(minD, 0, math.MaxFloat64) {
		return fmt.Errorf("min_distance must be non-negative, got %f", minD)
	}
	if !(maxD > minD) || math.IsInf(maxD, 0) {
		return fmt.Errorf("max_distance must be finite and greater than min_distance %f, got %f", minD, maxD)
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.BatchSize != nil && *c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative, got %d", *c.BatchSize)
	}

	if ps := c.GetPoseSampling(); ps != PoseSamplingReadback && ps != PoseSamplingDispatch {
		return fmt.Errorf("pose_sampling must be %q or %q, got %q", PoseSamplingReadback, PoseSamplingDispatch, ps)
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %s", d)
		}
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// BuildPattern generates the configured ray pattern.
func (c *SensorConfig) BuildPattern() (pattern.Set, error) {
	width := c.GetHorizontalRays()
	hFov := c.GetHorizontalFOV()

	switch p := c.GetPattern(); p {
	case PatternGrid:
		return pattern.UniformGrid(width, c.GetVerticalRays(), hFov, c.GetVerticalFOV())
	case PatternVertical:
		return pattern.CustomVerticalAngles(c.VerticalAngles, width, hFov)
	case PatternIntervals:
		return pattern.FromIntervals(c.VerticalIntervals, width, hFov)
	case PatternDatasheet:
		ds, err := c.loadDatasheet()
		if err != nil {
			return nil, err
		}
		return pattern.CustomVerticalAngles(ds.VerticalAngles(), width, hFov)
	default:
		return nil, fmt.Errorf("unknown pattern %q", p)
	}
}

func (c *SensorConfig) loadDatasheet() (pattern.Datasheet, error) {
	name := ""
	if c.Datasheet != nil {
		name = *c.Datasheet
	}
	if !strings.HasSuffix(name, ".csv") {
		return pattern.EmbeddedDatasheet(name)
	}
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open datasheet: %w", err)
	}
	defer f.Close()
	return pattern.LoadDatasheetCSV(f)
}

// EngineOptions maps the range gate and scheduling fields onto engine options.
func (c *SensorConfig) EngineOptions() engine.Options {
	ps := engine.PoseAtReadback
	if c.GetPoseSampling() == PoseSamplingDispatch {
		ps = engine.PoseAtDispatch
	}
	return engine.Options{
		MinDistance:  c.GetMinDistance(),
		MaxDistance:  c.GetMaxDistance(),
		BatchSize:    c.GetBatchSize(),
		PoseSampling: ps,
	}
}

// GetPattern returns the pattern kind or the default.
func (c *SensorConfig) GetPattern() string {
	if c.Pattern == nil || *c.Pattern == "" {
		return PatternGrid
	}
	return *c.Pattern
}

// GetHorizontalRays returns the horizontal_rays value or the default.
func (c *SensorConfig) GetHorizontalRays() int {
	if c.HorizontalRays == nil {
		return 360
	}
	return *c.HorizontalRays
}

// GetVerticalRays returns the vertical_rays value or the default.
func (c *SensorConfig) GetVerticalRays() int {
	if c.VerticalRays == nil {
		return 16
	}
	return *c.VerticalRays
}

// GetHorizontalFOV returns the horizontal_fov_deg value or the default.
func (c *SensorConfig) GetHorizontalFOV() float64 {
	if c.HorizontalFOV == nil {
		return 360
	}
	return *c.HorizontalFOV
}

// GetVerticalFOV returns the vertical_fov_deg value or the default.
func (c *SensorConfig) GetVerticalFOV() float64 {
	if c.VerticalFOV == nil {
		return 30
	}
	return *c.VerticalFOV
}

// GetMinDistance returns the min_distance value or the default.
func (c *SensorConfig) GetMinDistance() float64 {
	if c.MinDistance == nil {
		return 0.3
	}
	return *c.MinDistance
}

// GetMaxDistance returns the max_distance value or the default.
func (c *SensorConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return 100
	}
	return *c.MaxDistance
}

// GetWorkers returns the workers value or the default (0 = GOMAXPROCS).
func (c *SensorConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetBatchSize returns the batch_size value or the default (0 = automatic).
func (c *SensorConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 0
	}
	return *c.BatchSize
}

// GetPoseSampling returns the pose_sampling value or the default.
func (c *SensorConfig) GetPoseSampling() string {
	if c.PoseSampling == nil || *c.PoseSampling == "" {
		return PoseSamplingReadback
	}
	return *c.PoseSampling
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *SensorConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

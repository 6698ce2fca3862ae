// Package config holds the run configuration and its validation.
package config

import (
	"errors"
	"runtime"
	"time"
)

// Errors
var (
	ErrNoTargetCount    = errors.New("target count must be at least 1")
	ErrBadBatchSize     = errors.New("batch size must be positive")
	ErrBadWorkerCount   = errors.New("worker count must not be negative")
	ErrBadLanes         = errors.New("gpu lane count must not be negative")
	ErrNegativeMaxTime  = errors.New("max time must not be negative")
	ErrBadLogInterval   = errors.New("log interval must be at least 1 second")
	ErrBenchmarkWithDB  = errors.New("benchmark mode does not persist keys, drop --db")
	ErrOutputUnwritable = errors.New("output directory is not usable")
)

// Config holds the application configuration.
type Config struct {
	// Pattern selection. At least one of Prefix or VanityLen must be set;
	// the pattern package validates their contents.
	Prefix    string
	VanityLen int

	// Search shape.
	Count       int // number of keys to find
	Workers     int // CPU workers, 0 = NumCPU
	BatchSize   int
	MaxTime     time.Duration // 0 = unlimited
	MaxAttempts uint64        // 0 = unlimited

	// GPU path.
	UseGPU  bool
	Backend string // forced backend name, empty = auto
	Lanes   int    // 0 = backend default

	// Output.
	OutputDir string
	DBPath    string // empty = no database
	Benchmark bool   // derive and match only, write nothing
	NoVerify  bool   // skip MeshCore validation of candidates
	JSON      bool   // machine-readable summary

	// Logging.
	Verbose     bool
	LogFile     string
	LogInterval int // seconds between progress lines
}

// NewConfig creates a configuration with default values.
func NewConfig() *Config {
	return &Config{
		Count:       1,
		Workers:     runtime.NumCPU(),
		BatchSize:   1000,
		OutputDir:   ".",
		LogInterval: 5,
	}
}

// Validate checks the configuration. Pattern contents are validated by
// pattern.Compile; this covers everything else.
func (c *Config) Validate() error {
	if c.Count < 1 {
		return ErrNoTargetCount
	}
	if c.BatchSize <= 0 {
		return ErrBadBatchSize
	}
	if c.Workers < 0 {
		return ErrBadWorkerCount
	}
	if c.Lanes < 0 {
		return ErrBadLanes
	}
	if c.MaxTime < 0 {
		return ErrNegativeMaxTime
	}
	if c.LogInterval < 1 {
		return ErrBadLogInterval
	}
	if c.Benchmark && c.DBPath != "" {
		return ErrBenchmarkWithDB
	}
	return nil
}

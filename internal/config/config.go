// Package config loads the configuration surface from spec §6 into a
// single value type constructed once at startup and threaded through by
// reference, replacing the duck-typed/string-keyed configuration pattern
// spec §9 calls out for re-architecture. Parsing an actual config *file* is
// out of scope (spec §1); values come from the process environment, the
// same way the teacher's internal/config/config.go reads PHOTOPRISM_* vars.
package config

import (
	"os"
	"strconv"
)

// Config is the full configuration surface consumed by the core pipeline.
type Config struct {
	InputRoot  string
	OutputRoot string
	LogRoot    string

	Tolerance   float64
	MinFaceSize int

	BackendEngine string
	BackendModel  string
	BackendURL    string

	Parallel ParallelConfig
	Cluster  ClusterConfig

	MaxRefsPerPerson int

	Force ForceToggles
}

// ParallelConfig configures the Recognition Driver's mode decision (spec §4.6).
type ParallelConfig struct {
	Enabled   bool
	Workers   int
	ChunkSize int
	MinPhotos int
}

// ClusterConfig configures the Unknown Clustering component (spec §4.8).
type ClusterConfig struct {
	Enabled        bool
	Threshold      float64
	MinClusterSize int
}

// ForceToggles are advisory overrides, from any source (spec §6).
type ForceToggles struct {
	ForceSerial                    bool
	ForceParallel                  bool
	ForceParallelMinPhotosOverride bool
}

// Load reads Config from the process environment, applying the defaults
// from spec §6's configuration table.
func Load() *Config {
	return &Config{
		InputRoot:  envString("INPUT_ROOT", "input"),
		OutputRoot: envString("OUTPUT_ROOT", "output"),
		LogRoot:    envString("LOG_ROOT", "logs"),

		Tolerance:   envFloat("TOLERANCE", 0.6),
		MinFaceSize: envInt("MIN_FACE_SIZE", 50),

		BackendEngine: envString("BACKEND_ENGINE", "insightface"),
		BackendModel:  envString("BACKEND_MODEL", "buffalo_l"),
		BackendURL:    envString("BACKEND_URL", "http://localhost:8000"),

		Parallel: ParallelConfig{
			Enabled:   envBool("PARALLEL_ENABLED", true),
			Workers:   envInt("PARALLEL_WORKERS", 6),
			ChunkSize: envInt("PARALLEL_CHUNK_SIZE", 12),
			MinPhotos: envInt("PARALLEL_MIN_PHOTOS", 30),
		},
		Cluster: ClusterConfig{
			Enabled:        envBool("CLUSTER_ENABLED", true),
			Threshold:      envFloat("CLUSTER_THRESHOLD", 0.45),
			MinClusterSize: envInt("CLUSTER_MIN_CLUSTER_SIZE", 2),
		},

		MaxRefsPerPerson: envInt("MAX_REFS_PER_PERSON", 5),

		Force: ForceToggles{
			ForceSerial:                    envBool("FORCE_SERIAL", false),
			ForceParallel:                  envBool("FORCE_PARALLEL", false),
			ForceParallelMinPhotosOverride: envBool("FORCE_PARALLEL_MIN_PHOTOS_OVERRIDE", false),
		},
	}
}

// ClampWorkers bounds Workers to the host's CPU count (spec §6: "clamped to
// CPU count"), returning the effective worker count to use for a run.
func (c *Config) ClampWorkers(cpuCount int) int {
	if c.Parallel.Workers <= 0 {
		return 1
	}
	if cpuCount > 0 && c.Parallel.Workers > cpuCount {
		return cpuCount
	}
	return c.Parallel.Workers
}

func envString(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// Package container runs a single command inside an isolated, disposable
// Docker container: "build once, run once" execution for probe scripts, k6
// load tests and Playwright suites.
package container

import (
	"os"
	"time"
)

// Config holds container-backend configuration.
type Config struct {
	DefaultImage       string        // WORKER_IMAGE
	SeccompProfilePath string        // SECCOMP_PROFILE_PATH
	Network            string        // optional Docker network name
	DefaultMemoryMB    int           // must lie in [128, 8192]
	DefaultCPUFraction float64       // must lie in [0.1, 4.0]
	DefaultTimeout     time.Duration // must lie in [5s, 1h]
	PidsLimit          int64         // default 256
	ShmSizeMB          int           // default 512
}

// Resource limit bounds enforced by Executor.validate, which rejects an
// out-of-range value with an error rather than adjusting it.
const (
	MinMemoryMB    = 128
	MaxMemoryMB    = 8192
	MinCPUFraction = 0.1
	MaxCPUFraction = 4.0
	MinTimeout     = 5 * time.Second
	MaxTimeout     = time.Hour
)

// DefaultConfig returns sensible defaults for the container backend.
func DefaultConfig() *Config {
	image := os.Getenv("WORKER_IMAGE")
	if image == "" {
		image = "beacon-worker-runtime"
	}
	return &Config{
		DefaultImage:       image,
		SeccompProfilePath: os.Getenv("SECCOMP_PROFILE_PATH"),
		Network:            os.Getenv("BEACON_DOCKER_NETWORK"),
		DefaultMemoryMB:    512,
		DefaultCPUFraction: 1.0,
		DefaultTimeout:     30 * time.Second,
		PidsLimit:          256,
		ShmSizeMB:          512,
	}
}

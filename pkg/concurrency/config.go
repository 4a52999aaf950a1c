package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Source records where a setting came from.
type Source string

const (
	SourceEnv        Source = "environment_variable"
	SourceAutoDetect Source = "auto_detect"
	SourceDefault    Source = "default"
)

const (
	DefaultMaxWorkers        = 4
	DefaultHTTPTimeout       = 120 * time.Second
	DefaultHTTPMaxRetries    = 3
	DefaultCheckpointBackend = "file"
	DefaultBreakerThreshold  = 0
	DefaultBreakerReset      = 30 * time.Second
)

// Config holds the host's runtime settings.
type Config struct {
	MaxWorkers        int
	WorkerSource      Source
	HTTPTimeout       time.Duration
	HTTPMaxRetries    int
	CheckpointBackend string

	// BreakerThreshold enables the HTTP circuit breaker when positive.
	BreakerThreshold int
	BreakerReset     time.Duration

	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig reads COURIER_* variables. COURIER_MAX_WORKERS wins, then
// COURIER_WORKER_MULTIPLIER times the effective CPU count, then the
// default. Inside Kubernetes the default is capped by the CPU quota.
func LoadConfig() *Config {
	cfg := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	switch {
	case envInt("COURIER_MAX_WORKERS", 0) > 0:
		cfg.MaxWorkers = envInt("COURIER_MAX_WORKERS", 0)
		cfg.WorkerSource = SourceEnv
	case envInt("COURIER_WORKER_MULTIPLIER", 0) > 0:
		cfg.MaxWorkers = cfg.EffectiveCPUs * envInt("COURIER_WORKER_MULTIPLIER", 0)
		cfg.WorkerSource = SourceEnv
	case cfg.IsKubernetes:
		cfg.MaxWorkers = min(DefaultMaxWorkers, max(cfg.EffectiveCPUs*2, 1))
		cfg.WorkerSource = SourceAutoDetect
	default:
		cfg.MaxWorkers = DefaultMaxWorkers
		cfg.WorkerSource = SourceDefault
	}

	cfg.HTTPTimeout = envDuration("COURIER_HTTP_TIMEOUT", DefaultHTTPTimeout)
	cfg.HTTPMaxRetries = envInt("COURIER_HTTP_MAX_RETRIES", DefaultHTTPMaxRetries)
	if cfg.HTTPMaxRetries < 0 {
		cfg.HTTPMaxRetries = DefaultHTTPMaxRetries
	}
	cfg.CheckpointBackend = strings.ToLower(envString("COURIER_CHECKPOINT_BACKEND", DefaultCheckpointBackend))
	cfg.BreakerThreshold = envInt("COURIER_BREAKER_THRESHOLD", DefaultBreakerThreshold)
	cfg.BreakerReset = envDuration("COURIER_BREAKER_RESET", DefaultBreakerReset)
	return cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxWorkers: %d (%s), HTTPTimeout: %s, HTTPMaxRetries: %d, Checkpoint: %s, Breaker: %d/%s, IsK8s: %t, CPUs: %d}",
		c.MaxWorkers, c.WorkerSource,
		c.HTTPTimeout, c.HTTPMaxRetries,
		c.CheckpointBackend,
		c.BreakerThreshold, c.BreakerReset,
		c.IsKubernetes, c.EffectiveCPUs,
	)
}

// NewBreaker returns the configured circuit breaker, or nil when disabled.
func (c *Config) NewBreaker() *CircuitBreaker {
	if c.BreakerThreshold <= 0 {
		return nil
	}
	return NewCircuitBreaker(int64(c.BreakerThreshold), c.BreakerReset)
}

func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

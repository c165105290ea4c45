// Package config reads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the market engine.
type Config struct {
	Port            int
	DatabaseURL     string // empty → in-memory store
	RedisURL        string // empty → no cache layer
	CacheTTL        time.Duration
	MatchWorkers    int
	MatchQueueSize  int
	SchedulerTick   time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applies defaults, and
// validates values. A local .env file is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	matchWorkers, err := getInt("MATCH_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_WORKERS: %w", err)
	}
	if matchWorkers < 1 {
		return nil, fmt.Errorf("MATCH_WORKERS must be at least 1, got %d", matchWorkers)
	}

	matchQueueSize, err := getInt("MATCH_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_QUEUE_SIZE: %w", err)
	}
	if matchQueueSize < 1 {
		return nil, fmt.Errorf("MATCH_QUEUE_SIZE must be at least 1, got %d", matchQueueSize)
	}

	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	schedulerTick, err := getDuration("SCHEDULER_TICK", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TICK: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		CacheTTL:        cacheTTL,
		MatchWorkers:    matchWorkers,
		MatchQueueSize:  matchQueueSize,
		SchedulerTick:   schedulerTick,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

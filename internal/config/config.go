// Package config loads runtime configuration for the memtrack binaries.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	OutputPath       string
	Granularity      time.Duration
	MemoryBudget     datasize.ByteSize
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	ProcRoot         string
	WS               WebsocketConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Default returns the configuration used when no environment overrides
// are present.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		OutputPath:     "memtrack.csv",
		Granularity:    50 * time.Millisecond,
		MemoryBudget:   32 * datasize.MB,
		AllowedOrigins: []string{"*"},
		LogLevel:       slog.LevelInfo,
		ProcRoot:       "/proc",
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Default()

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_LISTEN_ADDR")); value != "" {
		cfg.ListenAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_OUTPUT")); value != "" {
		cfg.OutputPath = value
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_GRANULARITY")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_GRANULARITY: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("MEMTRACK_GRANULARITY must be > 0")
		}
		cfg.Granularity = duration
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_MEMORY_BUDGET")); value != "" {
		budget, err := datasize.ParseString(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_MEMORY_BUDGET: %w", err)
		}
		if budget == 0 {
			return Config{}, fmt.Errorf("MEMTRACK_MEMORY_BUDGET must be > 0")
		}
		cfg.MemoryBudget = budget
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_ALLOWED_ORIGINS")); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("MEMTRACK_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_ENABLE_PPROF")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_WS_MAX_CLIENTS")); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("MEMTRACK_WS_MAX_CLIENTS must be > 0")
		}
		cfg.WS.MaxClients = maxClients
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_WS_WRITE_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_WS_WRITE_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("MEMTRACK_WS_WRITE_TIMEOUT must be > 0")
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("MEMTRACK_WS_READ_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEMTRACK_WS_READ_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("MEMTRACK_WS_READ_TIMEOUT must be > 0")
		}
		cfg.WS.ReadTimeout = timeout
	}

	return cfg, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}

//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package config loads the studio configuration. Values are resolved in
// order: defaults, then the YAML file, then STUDIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STUDIO"

// Checkpoint backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full studio configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`
	Threads    ThreadsConfig    `yaml:"threads" env:"THREADS"`
	Builder    BuilderConfig    `yaml:"builder" env:"BUILDER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// StreamDelay spaces SSE frames; 0 disables pacing.
	StreamDelay time.Duration `yaml:"stream_delay" env:"STREAM_DELAY"`
	// PublicURL is reported to clients as the API url.
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
}

// DatabaseConfig selects the entity store.
type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the sqlite file of the sqlite backend.
	Path string `yaml:"path" env:"PATH"`
	// URL is the redis url of the redis backend.
	URL       string `yaml:"url" env:"URL"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ThreadsConfig configures the thread registry.
type ThreadsConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// BuilderConfig configures graph construction.
type BuilderConfig struct {
	// Parallelism bounds concurrent tool server connections per build.
	Parallelism int `yaml:"parallelism" env:"PARALLELISM"`
	// MaxSteps bounds node executions per run; 0 is unlimited.
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// TelemetryConfig configures OTLP export. Export is off without an
// endpoint.
type TelemetryConfig struct {
	TracesEndpoint string `yaml:"traces_endpoint" env:"TRACES_ENDPOINT"`
	// TracesURL is a full collector url with a path, http protocol only.
	TracesURL       string `yaml:"traces_url" env:"TRACES_URL"`
	MetricsEndpoint string `yaml:"metrics_endpoint" env:"METRICS_ENDPOINT"`
	ServiceName     string `yaml:"service_name" env:"SERVICE_NAME"`
	// Protocol is grpc or http.
	Protocol string `yaml:"protocol" env:"PROTOCOL"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
			StreamDelay:     10 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "studio.db",
		},
		Checkpoint: CheckpointConfig{
			Backend:   BackendMemory,
			Path:      "checkpoints.db",
			KeyPrefix: "studio",
		},
		Threads: ThreadsConfig{SweepInterval: time.Minute},
		Builder: BuilderConfig{Parallelism: 4},
		Log:     LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "trpc-agent-studio",
		},
	}
}

// Load reads path, which may be empty or missing, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if c.Server.StreamDelay < 0 {
		problems = append(problems, "server.stream_delay is negative")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not postgres or sqlite", c.Database.Driver))
	}
	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Checkpoint.Path == "" {
			problems = append(problems, "checkpoint.path is required for sqlite")
		}
	case BackendRedis:
		if c.Checkpoint.URL == "" {
			problems = append(problems, "checkpoint.url is required for redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("checkpoint.backend %q is not memory, sqlite or redis", c.Checkpoint.Backend))
	}
	if c.Threads.SweepInterval <= 0 {
		problems = append(problems, "threads.sweep_interval must be positive")
	}
	if c.Builder.Parallelism <= 0 {
		problems = append(problems, "builder.parallelism must be positive")
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.protocol %q is not grpc or http", c.Telemetry.Protocol))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

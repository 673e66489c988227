// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Memory     Memory     `yaml:"memory"`
	Store      Store      `yaml:"store"`
	Journal    Journal    `yaml:"journal"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	GRPC       GRPC       `yaml:"grpc"`
	Metrics    Metrics    `yaml:"metrics"`
	Broadcast  Broadcast  `yaml:"broadcast"`
	Log        Log        `yaml:"log"`
	Nodes      []Node     `yaml:"nodes"`
}

type Memory struct {
	// 0 picks the platform default
	MaxBytes   int64 `yaml:"max_bytes"`
	RegionSize int   `yaml:"region_size"`
}

type Store struct {
	// Dispatcher mailbox for listener deliveries.
	Mailbox int `yaml:"mailbox"`
}

type Journal struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	SegmentSize int64  `yaml:"segment_size"`
	Sync        bool   `yaml:"sync"`
}

type Checkpoint struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Metrics struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

type Broadcast struct {
	// kafka-go, sarama or log
	Driver   string        `yaml:"driver"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	Paths    []string      `yaml:"paths"`
	Interval time.Duration `yaml:"interval"`
	Capacity int           `yaml:"capacity"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Node declares a model node created at startup.
type Node struct {
	Path    string `yaml:"path"`
	Kind    string `yaml:"kind"`
	Initial any    `yaml:"initial"`
}

func Default() Config {
	return Config{
		Memory: Memory{RegionSize: 4 << 20},
		Store:  Store{Mailbox: 4096},
		Journal: Journal{
			Enabled:     true,
			Dir:         "./data/journal",
			SegmentSize: 64 << 20,
		},
		Checkpoint: Checkpoint{
			Enabled:  true,
			Dir:      "./data/checkpoint",
			Interval: time.Minute,
		},
		GRPC:    GRPC{Addr: ":50051"},
		Metrics: Metrics{Addr: ":9464"},
		Broadcast: Broadcast{
			Driver:   "log",
			Topic:    "strata.changes",
			Interval: 250 * time.Millisecond,
			Capacity: 4096,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

var kinds = map[string]bool{
	"folder": true, "float": true, "int": true,
	"string": true, "bool": true, "samples": true,
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Memory.MaxBytes >= 0, "memory.max_bytes must not be negative")
	check(c.Memory.RegionSize >= 0, "memory.region_size must not be negative")
	check(c.Store.Mailbox > 0, "store.mailbox must be positive")
	check(!c.Journal.Enabled || c.Journal.Dir != "", "journal.dir is required")
	check(!c.Checkpoint.Enabled || c.Checkpoint.Dir != "", "checkpoint.dir is required")
	check(!c.Checkpoint.Enabled || c.Checkpoint.Interval > 0, "checkpoint.interval must be positive")
	check(c.GRPC.Addr != "", "grpc.addr is required")

	switch c.Broadcast.Driver {
	case "log", "":
	case "kafka-go", "sarama":
		check(len(c.Broadcast.Brokers) > 0, "broadcast.brokers is required for %s", c.Broadcast.Driver)
		check(c.Broadcast.Topic != "", "broadcast.topic is required")
	default:
		check(false, "broadcast.driver %q is not one of kafka-go, sarama, log", c.Broadcast.Driver)
	}
	check(c.Broadcast.Interval > 0, "broadcast.interval must be positive")

	check(c.Log.Format == "console" || c.Log.Format == "json", "log.format %q is not console or json", c.Log.Format)

	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		check(n.Path != "" && n.Path != "/", "nodes: path %q is not a node path", n.Path)
		check(kinds[n.Kind], "nodes: %s has unknown kind %q", n.Path, n.Kind)
		check(!seen[n.Path], "nodes: %s declared twice", n.Path)
		seen[n.Path] = true
	}
	return errors.Join(errs...)
}

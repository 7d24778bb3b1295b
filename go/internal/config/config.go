// Package config loads coopblocks settings. Defaults are overlaid by an
// optional YAML file; the command layer applies COOP_* environment variables
// and flags on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the relay store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendNATS     Backend = "nats"
	BackendPostgres Backend = "postgres"
)

// Transport selects how the two sessions exchange sync messages.
type Transport string

const (
	TransportRelay  Transport = "relay"
	TransportPeer   Transport = "peer"
	TransportHybrid Transport = "hybrid"
)

type Config struct {
	PlayerName string    `yaml:"player_name"`
	Backend    Backend   `yaml:"backend"`
	Transport  Transport `yaml:"transport"`
	LogLevel   string    `yaml:"log_level"`
	// LogFile receives log output while the terminal UI owns the screen.
	LogFile string `yaml:"log_file"`
	// Seed fixes the piece sequence when non-zero. Host only.
	Seed int64 `yaml:"seed"`
	// Leaderboard enables score persistence in Postgres.
	Leaderboard bool `yaml:"leaderboard"`

	NATS     NATS     `yaml:"nats"`
	Peer     Peer     `yaml:"peer"`
	Game     Game     `yaml:"game"`
	Database Database `yaml:"database"`
}

type NATS struct {
	URL    string        `yaml:"url"`
	Bucket string        `yaml:"bucket"`
	TTL    time.Duration `yaml:"ttl"`
}

type Peer struct {
	ListenAddr       string        `yaml:"listen_addr"`
	PublicURL        string        `yaml:"public_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type Game struct {
	SyncInterval     time.Duration `yaml:"sync_interval"`
	BaseDropInterval time.Duration `yaml:"base_drop_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend:   BackendMemory,
		Transport: TransportRelay,
		LogLevel:  "info",
		LogFile:   "coop.log",
		NATS: NATS{
			URL:    "nats://localhost:4222",
			Bucket: "COOP_RELAY",
			TTL:    24 * time.Hour,
		},
		Peer: Peer{
			ListenAddr:       ":0",
			HandshakeTimeout: 2 * time.Minute,
		},
		Game: Game{
			SyncInterval:     100 * time.Millisecond,
			BaseDropInterval: time.Second,
		},
		Database: DatabaseFromEnv(),
	}
}

// Load overlays the YAML file at path on the defaults. A missing file is not
// an error when optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendNATS, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q (want memory, nats or postgres)", c.Backend)
	}
	switch c.Transport {
	case TransportRelay, TransportPeer, TransportHybrid:
	default:
		return fmt.Errorf("unknown transport %q (want relay, peer or hybrid)", c.Transport)
	}
	if c.Game.SyncInterval <= 0 || c.Game.BaseDropInterval <= 0 {
		return errors.New("game intervals must be positive")
	}
	if c.Seed < 0 {
		return fmt.Errorf("seed must not be negative: %d", c.Seed)
	}
	return nil
}

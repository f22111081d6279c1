package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/driftdb/driftdb/internal/engine"
)

// Config is a node's YAML configuration file.
type Config struct {
	// Database is the path of the replica's SQLite file.
	Database string `yaml:"database"`
	// NodeIDFile stores the persistent node identity. Defaults to
	// <database>.nodeid.
	NodeIDFile string `yaml:"node_id_file"`
	// Topic is the broadcast topic shared by all replicas of one
	// application.
	Topic string `yaml:"topic"`
	// SchemaDir holds the CUE table declarations.
	SchemaDir string `yaml:"schema_dir"`

	Transport TransportConfig `yaml:"transport"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// TransportConfig selects and parameterizes the peer transport.
type TransportConfig struct {
	// Kind is "ws" (websocket hub) or "memory" (in-process loopback,
	// single-node demos only).
	Kind string `yaml:"kind"`
	// Hub is the websocket hub URL to dial, e.g. ws://host:9443/sync.
	Hub string `yaml:"hub"`
	// Listen, when set, also serves a hub on this address so one node
	// can act as the rendezvous point, e.g. ":9443".
	Listen string `yaml:"listen"`
}

// DispatchConfig parameterizes the outbound queue.
type DispatchConfig struct {
	QueueSize int `yaml:"queue_size"`
	// Policy is "block" (back-pressure, default) or "drop-oldest"
	// (lossy, counted).
	Policy      string `yaml:"policy"`
	RetryBudget int    `yaml:"retry_budget"`
}

// LoadConfig reads and validates a node config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	switch c.Transport.Kind {
	case "", "ws", "memory":
	default:
		return fmt.Errorf("unknown transport kind %q (want ws or memory)", c.Transport.Kind)
	}
	if c.Transport.Kind == "ws" && c.Transport.Hub == "" && c.Transport.Listen == "" {
		return fmt.Errorf("ws transport needs a hub URL or a listen address")
	}
	switch c.Dispatch.Policy {
	case "", "block", "drop-oldest":
	default:
		return fmt.Errorf("unknown dispatch policy %q (want block or drop-oldest)", c.Dispatch.Policy)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.NodeIDFile == "" {
		c.NodeIDFile = c.Database + ".nodeid"
	}
	if c.Topic == "" {
		c.Topic = engine.DefaultTopic
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "ws"
	}
	if c.SchemaDir == "" {
		c.SchemaDir = filepath.Join(filepath.Dir(c.Database), "schema")
	}
}

// OverflowPolicy maps the configured policy name to the engine constant.
func (c *Config) OverflowPolicy() engine.OverflowPolicy {
	if c.Dispatch.Policy == "drop-oldest" {
		return engine.PolicyDropOldest
	}
	return engine.PolicyBlock
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/topicrelay/internal/broker"
	"github.com/ppiankov/topicrelay/internal/envelope"
	"github.com/ppiankov/topicrelay/internal/policy"
	"github.com/ppiankov/topicrelay/internal/render"
)

// P2PConfig configures the gossip backend.
type P2PConfig struct {
	ListenAddrs     []string `yaml:"listen_addrs"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// BrokerConfig selects the backend and how to reach it.
type BrokerConfig struct {
	Kind      string   `yaml:"kind"`
	Addresses []string `yaml:"addresses"`
	// GroupID empty means a fresh consumer-<uuid> per run.
	GroupID string    `yaml:"group_id"`
	P2P     P2PConfig `yaml:"p2p"`
}

// ServiceConfig identifies the emitting application in every envelope.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Config holds everything a relay session needs.
type Config struct {
	Broker      BrokerConfig  `yaml:"broker"`
	Topic       string        `yaml:"topic"`
	EventName   string        `yaml:"event_name"`
	Service     ServiceConfig `yaml:"service"`
	Prompt      string        `yaml:"prompt"`
	Format      string        `yaml:"format"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Policy      policy.Table  `yaml:"policy"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:      string(broker.KindKafka),
			Addresses: []string{"localhost:9092"},
			P2P: P2PConfig{
				Rendezvous: "topicrelay",
			},
		},
		Topic:     "events.test.producer",
		EventName: envelope.EventName,
		Service: ServiceConfig{
			Name: "topicrelay",
		},
		Prompt: "> ",
		Format: string(render.Text),
		Policy: policy.Default(),
	}
}

// DefaultPath returns ~/.topicrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".topicrelay", "config.yaml"), nil
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.topicrelay/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	kind, err := broker.ParseKind(c.Broker.Kind)
	if err != nil {
		return err
	}
	if kind == broker.KindKafka && len(c.Broker.Addresses) == 0 {
		return fmt.Errorf("broker.addresses is required for kafka")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if err := envelope.ValidateEventName(c.EventName); err != nil {
		return err
	}
	if _, err := render.ParseFormat(c.Format); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// BrokerOptions converts the broker section into broker.Options.
func (c *Config) BrokerOptions() broker.Options {
	return broker.Options{
		Kind:      broker.Kind(c.Broker.Kind),
		Addresses: c.Broker.Addresses,
		Topics:    []string{c.Topic},
		GroupID:   c.Broker.GroupID,
		P2P: broker.P2POptions{
			ListenAddrs:     c.Broker.P2P.ListenAddrs,
			Bootstrap:       c.Broker.P2P.Bootstrap,
			Rendezvous:      c.Broker.P2P.Rendezvous,
			EnableMDNS:      c.Broker.P2P.EnableMDNS,
			IdentityKeyFile: c.Broker.P2P.IdentityKeyFile,
		},
	}
}

// Codec returns the envelope codec stamped with this config's service identity.
func (c *Config) Codec() envelope.Codec {
	return envelope.Codec{
		EventName:      c.EventName,
		ServiceName:    c.Service.Name,
		ServiceVersion: c.Service.Version,
	}
}

// DefaultConfigYAML returns a commented YAML string for init-config.
func DefaultConfigYAML() string {
	return `# topicrelay configuration
# Generated by: topicrelay init-config
#
# Command-line flags override values in this file.

broker:
  # kafka | redis | p2p | memory
  kind: kafka
  addresses:
    - localhost:9092
  # Empty: a fresh consumer-<uuid> group per run, so each session only sees
  # messages published after it started. Set a fixed id to resume offsets.
  group_id: ""
  p2p:
    listen_addrs: []
    bootstrap: []
    rendezvous: topicrelay
    enable_mdns: false

topic: events.test.producer

# Logical event type. The .vN suffix is the schema version; incompatible
# envelope changes ship under a new suffix.
event_name: analytics.publish.v1

service:
  name: topicrelay
  version: ""

prompt: "> "

# text: print the payload only. json: one JSON object per received event.
format: text

# Serve Prometheus metrics on this address (e.g. :9464). Empty disables.
metrics_addr: ""

# What to do when a boundary fails. Reloaded when this file changes.
# Actions: abort | retry (publish only) | skip
policy:
  publish:
    action: retry
    max_retries: 3
    retry_interval: 200ms
  receive:
    action: abort
  malformed:
    action: skip
  input:
    action: skip
`
}

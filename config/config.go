// Package config loads a conduit Peer's construction options from YAML,
// for deployments that prefer a config file over wiring conduit.Option
// values in code. Grounded on cellorg's internal/config package: a single
// Load(path) entry point, yaml.v3 struct tags, and defaulting applied
// after unmarshal.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PeerConfig mirrors the configuration table of spec §6.
type PeerConfig struct {
	ID        string `yaml:"id"`
	Codec     string `yaml:"codec"`
	Timeout   int    `yaml:"timeout_millis"`
	ChunkSize int    `yaml:"chunk_size_bytes"`

	Broker BrokerConfig `yaml:"broker"`
}

// BrokerConfig describes how to reach the MQTT broker this peer connects
// through.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
}

// Load reads and validates a PeerConfig from filename, applying the same
// defaults conduit.New does when an option is omitted.
func Load(filename string) (*PeerConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var c PeerConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if c.Codec == "" {
		c.Codec = "cbor"
	}
	if c.Timeout == 0 {
		c.Timeout = 10000
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 16384
	}
	if c.Timeout < 0 {
		return nil, fmt.Errorf("config: timeout_millis cannot be negative: %d", c.Timeout)
	}
	if c.ChunkSize < 0 {
		return nil, fmt.Errorf("config: chunk_size_bytes cannot be negative: %d", c.ChunkSize)
	}
	if c.Codec != "cbor" && c.Codec != "json" {
		return nil, fmt.Errorf("config: unknown codec %q (want \"cbor\" or \"json\")", c.Codec)
	}

	return &c, nil
}

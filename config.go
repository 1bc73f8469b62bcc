// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes a Transport: its local endpoints and the defaults for
// port sets built from it.
//
//	endpoints:
//	  - ocpi-smb-pio:pioA;1048576.0.2
//	segment_dir: /dev/shm
//	buffer_count: 2
//	buffer_length: 4096
//	log_level: debug
type Config struct {
	Endpoints    []string `yaml:"endpoints"`
	SegmentDir   string   `yaml:"segment_dir"`
	BufferCount  int      `yaml:"buffer_count"`
	BufferLength uint32   `yaml:"buffer_length"`
	LogLevel     string   `yaml:"log_level"`
}

// DefaultConfig returns a Config with no endpoints and the default buffer
// geometry.
func DefaultConfig() Config {
	return Config{
		BufferCount:  2,
		BufferLength: 4096,
		LogLevel:     "info",
	}
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("dataplane: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dataplane: load config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks the endpoints and buffer geometry.
func (c *Config) Validate() error {
	for _, s := range c.Endpoints {
		if _, err := ParseEndpoint(s); err != nil {
			return err
		}
	}
	if c.BufferCount < 1 || c.BufferCount > MaxBuffers {
		return newError(NoMoreBufferAvailable, "buffer count %d not in [1,%d]", c.BufferCount, MaxBuffers)
	}
	if c.BufferLength == 0 {
		return newError(NoMoreBufferAvailable, "zero buffer length")
	}
	return nil
}

// PortSetMetaData returns a set description with the configured geometry.
func (c *Config) PortSetMetaData(output bool, dist Distribution, part Partition) *PortSetMetaData {
	return NewPortSetMetaData(output, dist, part, c.BufferCount, c.BufferLength)
}

// NewTransportFromConfig builds a Transport on reg with cfg's logger and
// local endpoints. reg should be created with WithSegmentDir(cfg.SegmentDir)
// when cfg uses ocpi-shm-pio endpoints.
func NewTransportFromConfig(reg *Registry, cfg Config, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("dataplane: log level: %w", err)
	}
	t := NewTransport(reg, append([]Option{WithLogger(l)}, opts...)...)
	for _, ep := range cfg.Endpoints {
		if _, err := t.AddLocalEndpoint(ep); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

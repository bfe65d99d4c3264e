package config

import "time"

// Config represents the complete mqbridge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Store   StoreConfig   `yaml:"store"`
	Worker  WorkerConfig  `yaml:"worker"`
	Wire    WireConfig    `yaml:"wire,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StoreConfig defines message store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig defines how worker processes are spawned.
type WorkerConfig struct {
	Bin          string        `yaml:"bin"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// WireConfig tunes the packet framing. Workers negotiate their line
// decorations per spawn; only the fold width is configurable here.
type WireConfig struct {
	WrapWidth int `yaml:"wrap_width,omitempty"`
}

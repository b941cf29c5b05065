// Package config holds pipeline defaults and the layer configuration schema.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server defaults
const (
	DefaultPort    = "8080"
	DefaultDataDir = "./data/broadbandsync"
)

// Upstream session defaults. Retry/backoff parameters are deliberately
// configuration, not hardcoded policy; these are only fallbacks.
const (
	DefaultPageSize       = 1000
	DefaultMaxAttempts    = 4
	DefaultRetryWaitMin   = 1 * time.Second
	DefaultRetryWaitMax   = 30 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

// Orchestration defaults
const (
	DefaultMaxParallelLayers = 1
	DefaultRunTimeout        = 30 * time.Minute
)

// Spatial defaults
const (
	DefaultResolution = 8
)

// WebSocket configuration for the run-progress stream
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSPingInterval    = 30 * time.Second
	WSReadDeadline    = 60 * time.Second
)

// SyncMode selects how a layer is published.
type SyncMode string

const (
	// ModeReplace atomically replaces the layer's entire contents
	ModeReplace SyncMode = "replace"

	// ModeAppend adds only rows whose identifier is not already present
	ModeAppend SyncMode = "append"
)

// Layer configures one published feature layer and the ingestion that feeds it.
type Layer struct {
	// Name identifies the target feature layer
	Name string `yaml:"name"`

	// Endpoint is the upstream API path for this layer's records
	Endpoint string `yaml:"endpoint"`

	// PageSize for paginated upstream calls (0 = DefaultPageSize)
	PageSize int `yaml:"page_size"`

	// Resolution is the spatial cell resolution for indexing. Changing it
	// invalidates comparability of indices across runs.
	Resolution int `yaml:"resolution"`

	// Mode is replace or append
	Mode SyncMode `yaml:"mode"`

	// Categorical lists the columns to dictionary-encode. Designated here
	// rather than auto-detected so the schema is deterministic across runs.
	Categorical []string `yaml:"categorical"`

	// SummaryLayer, if set, also publishes a max-service summary
	// (max down/up speeds per cell/provider/tech) to the named layer.
	SummaryLayer string `yaml:"summary_layer"`

	// SummaryResolution is the cell resolution for the summary layer.
	// When coarser than Resolution, indices are rolled up to parent cells.
	// 0 means same as Resolution.
	SummaryResolution int `yaml:"summary_resolution"`
}

// Config is the full pipeline configuration.
type Config struct {
	// BaseURL of the upstream availability API
	BaseURL string `yaml:"base_url"`

	// Token is the bearer credential for the upstream API. Usually supplied
	// via environment rather than the file.
	Token string `yaml:"token"`

	// Session behavior
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryWaitMin   time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax   time.Duration `yaml:"retry_wait_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxParallelLayers bounds fan-out across independent layers
	MaxParallelLayers int `yaml:"max_parallel_layers"`

	// DataDir holds the checkpoint store (and the local layer store, if used)
	DataDir string `yaml:"data_dir"`

	Layers []Layer `yaml:"layers"`
}

// Load reads a YAML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with package defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWaitMin == 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax == 0 {
		c.RetryWaitMax = DefaultRetryWaitMax
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxParallelLayers == 0 {
		c.MaxParallelLayers = DefaultMaxParallelLayers
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}

	for i := range c.Layers {
		layer := &c.Layers[i]
		if layer.PageSize == 0 {
			layer.PageSize = DefaultPageSize
		}
		if layer.Resolution == 0 {
			layer.Resolution = DefaultResolution
		}
		if layer.Mode == "" {
			layer.Mode = ModeReplace
		}
		if layer.SummaryResolution == 0 {
			layer.SummaryResolution = layer.Resolution
		}
	}
}

// Validate checks the configuration for contradictions that would otherwise
// surface mid-run.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if len(c.Layers) == 0 {
		return fmt.Errorf("at least one layer must be configured")
	}

	seen := make(map[string]bool, len(c.Layers))
	for _, layer := range c.Layers {
		if layer.Name == "" {
			return fmt.Errorf("layer name is required")
		}
		if seen[layer.Name] {
			return fmt.Errorf("duplicate layer name %q", layer.Name)
		}
		seen[layer.Name] = true

		if layer.Endpoint == "" {
			return fmt.Errorf("layer %q: endpoint is required", layer.Name)
		}
		if layer.Mode != ModeReplace && layer.Mode != ModeAppend {
			return fmt.Errorf("layer %q: unknown mode %q", layer.Name, layer.Mode)
		}
		if layer.Resolution < 0 || layer.Resolution > 15 {
			return fmt.Errorf("layer %q: resolution %d out of range [0, 15]", layer.Name, layer.Resolution)
		}
		if layer.SummaryResolution > layer.Resolution {
			return fmt.Errorf("layer %q: summary_resolution %d finer than resolution %d",
				layer.Name, layer.SummaryResolution, layer.Resolution)
		}
	}
	return nil
}

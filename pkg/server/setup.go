// Package server exposes the pipeline over HTTP: a trigger endpoint, status
// and health checks, and a WebSocket stream of run progress.
package server

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/openbdc/broadbandsync/pkg/checkpoint"
	"github.com/openbdc/broadbandsync/pkg/config"
	"github.com/openbdc/broadbandsync/pkg/pipeline"
	"github.com/openbdc/broadbandsync/pkg/publish"
)

// Options holds server process configuration. Pipeline behavior lives in the
// YAML config file; these are deployment knobs read from the environment.
type Options struct {
	Port         string
	ConfigPath   string
	MaxStorageGB int64

	// RunInterval enables scheduled runs when positive
	RunInterval time.Duration
}

// LoadOptions loads server options from environment variables.
func LoadOptions() Options {
	configPath := os.Getenv("BDSYNC_CONFIG")
	if configPath == "" {
		configPath = "./broadbandsync.yaml"
	}

	return Options{
		Port:         getPort(),
		ConfigPath:   configPath,
		MaxStorageGB: getEnvInt64("BDSYNC_MAX_STORAGE_GB", 10),
		RunInterval:  getEnvDuration("BDSYNC_RUN_INTERVAL", 0),
	}
}

// LoadPipelineConfig loads the pipeline configuration, letting the
// environment override the upstream credential so tokens stay out of files.
func LoadPipelineConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if token := os.Getenv("BDSYNC_TOKEN"); token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

// InitializeStores opens the durable feature store and checkpoint store
// under the configured data directory.
func InitializeStores(dataDir string) (*publish.Store, *checkpoint.Badger, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, err
	}

	log.Println("Initializing BadgerDB feature store with Snappy compression...")
	features, err := publish.NewStore(publish.StoreConfig{
		Path: filepath.Join(dataDir, "features"),
	})
	if err != nil {
		return nil, nil, err
	}

	checkpoints, err := checkpoint.NewBadger(checkpoint.Config{
		Path: filepath.Join(dataDir, "checkpoints"),
	})
	if err != nil {
		features.Close()
		return nil, nil, err
	}

	log.Println("Feature and checkpoint stores initialized")
	return features, checkpoints, nil
}

// InitializeOrchestrator wires the orchestrator to the stores and the
// progress stream.
func InitializeOrchestrator(cfg *config.Config, svc publish.FeatureService, checkpoints checkpoint.Store, hub *RunHub) *pipeline.Orchestrator {
	orch := pipeline.New(cfg, svc, checkpoints,
		pipeline.WithNotify(hub.BroadcastEvent),
	)
	log.Printf("Orchestrator ready (%d layers, %d parallel)", len(cfg.Layers), cfg.MaxParallelLayers)
	return orch
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvDuration gets a duration from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

// getPort gets the server port from PORT environment variable or returns default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}

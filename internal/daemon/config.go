// Package daemon manages the Lemonade daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/siavashhub/lemonade/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	API            APIConfig            `toml:"api"`
	Models         ModelsConfig         `toml:"models"`
	Inference      InferenceConfig      `toml:"inference"`
	Logging        LoggingConfig        `toml:"logging"`
	Telemetry      TelemetryConfig      `toml:"telemetry"`
	Beacon         BeaconConfig         `toml:"beacon"`
	SingleInstance SingleInstanceConfig `toml:"single_instance"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ModelsConfig controls model storage and per-class pool capacities.
type ModelsConfig struct {
	Dir                string `toml:"dir"`
	MaxLLMModels       int    `toml:"max_llm_models"`
	MaxEmbeddingModels int    `toml:"max_embedding_models"`
	MaxRerankingModels int    `toml:"max_reranking_models"`
	MaxAudioModels     int    `toml:"max_audio_models"`
}

// InferenceConfig controls recipe-option defaults and the binary paths
// ModelManager's backend factory dispatches to.
type InferenceConfig struct {
	CtxSize           int    `toml:"ctx_size"`
	LlamaCppBackend   string `toml:"llamacpp_backend"`
	LlamaCppArgs      string `toml:"llamacpp_args"`
	ApproximateTokens bool   `toml:"approximate_tokens"`
	LlamaServerPath   string `toml:"llamacpp_server_path"`
	WhisperServerPath string `toml:"whispercpp_server_path"`
	OGAServerPath     string `toml:"oga_server_path"`
	RyzenAIServerPath string `toml:"ryzenai_server_path"`
	FLMServerPath     string `toml:"flm_server_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool `toml:"prometheus"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// BeaconConfig controls LAN discovery beaconing.
type BeaconConfig struct {
	Enabled         bool    `toml:"enabled"`
	Port            int     `toml:"port"`
	IntervalSeconds float64 `toml:"interval_seconds"`
}

// SingleInstanceConfig controls process-wide mutual exclusion.
type SingleInstanceConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := lemonadeHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8700,
		},
		Models: ModelsConfig{
			Dir:                filepath.Join(homeDir, "models"),
			MaxLLMModels:       1,
			MaxEmbeddingModels: 1,
			MaxRerankingModels: 1,
			MaxAudioModels:     1,
		},
		Inference: InferenceConfig{
			CtxSize:           4096,
			LlamaCppBackend:   "vulkan",
			ApproximateTokens: true,
			LlamaServerPath:   filepath.Join(homeDir, "bin", "llama-server"),
			WhisperServerPath: filepath.Join(homeDir, "bin", "whisper-server"),
			OGAServerPath:     filepath.Join(homeDir, "bin", "oga-server"),
			RyzenAIServerPath: filepath.Join(homeDir, "bin", "ryzenai-server"),
			FLMServerPath:     filepath.Join(homeDir, "bin", "flm-server"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "lemonade.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus:     false,
			PrometheusPort: 9090,
		},
		Beacon: BeaconConfig{
			Enabled:         false,
			Port:            11435,
			IntervalSeconds: 1,
		},
		SingleInstance: SingleInstanceConfig{
			Enabled: true,
			Name:    "lemonade",
		},
	}
}

// ClassCapacities maps per-class pool sizes for engine.NewModelManager.
func (c Config) ClassCapacities() map[domain.ModelClass]int {
	return map[domain.ModelClass]int{
		domain.ClassLLM:       c.Models.MaxLLMModels,
		domain.ClassEmbedding: c.Models.MaxEmbeddingModels,
		domain.ClassReranker:  c.Models.MaxRerankingModels,
		domain.ClassAudio:     c.Models.MaxAudioModels,
	}
}

// LoadConfig reads config from <cache>/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(lemonadeHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to <cache>/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(lemonadeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// lemonadeHome returns the Lemonade cache directory. LEMONADE_CACHE_DIR
// overrides it; otherwise it is ".lemonade" under the user's home directory.
func lemonadeHome() string {
	if env := os.Getenv("LEMONADE_CACHE_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lemonade")
}

// LemonadeHome is exported for use by other packages (CLI help text, bin
// directory for downloaded backend binaries).
func LemonadeHome() string {
	return lemonadeHome()
}

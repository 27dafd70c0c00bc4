package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8700 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8700)
	}
	if cfg.Models.MaxLLMModels != 1 {
		t.Errorf("Models.MaxLLMModels = %d, want 1", cfg.Models.MaxLLMModels)
	}
	if cfg.Inference.CtxSize != 4096 {
		t.Errorf("Inference.CtxSize = %d, want 4096", cfg.Inference.CtxSize)
	}
	if cfg.Inference.LlamaCppBackend != "vulkan" {
		t.Errorf("Inference.LlamaCppBackend = %q, want vulkan", cfg.Inference.LlamaCppBackend)
	}
	if !cfg.SingleInstance.Enabled {
		t.Error("SingleInstance.Enabled = false, want true")
	}
}

func TestClassCapacities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.MaxEmbeddingModels = 3

	caps := cfg.ClassCapacities()
	if caps["embedding"] != 3 {
		t.Errorf("ClassCapacities()[embedding] = %d, want 3", caps["embedding"])
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("LEMONADE_CACHE_DIR", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 8700 {
		t.Errorf("API.Port = %d, want default 8700", cfg.API.Port)
	}
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	t.Setenv("LEMONADE_CACHE_DIR", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 9999
	cfg.Beacon.Enabled = true

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", loaded.API.Port)
	}
	if !loaded.Beacon.Enabled {
		t.Error("Beacon.Enabled = false, want true")
	}
}

func TestLemonadeHomeRespectsEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-cache")
	t.Setenv("LEMONADE_CACHE_DIR", dir)

	if got := LemonadeHome(); got != dir {
		t.Errorf("LemonadeHome() = %q, want %q", got, dir)
	}
}

func TestLemonadeHomeDefaultsUnderUserHome(t *testing.T) {
	t.Setenv("LEMONADE_CACHE_DIR", "")
	home, _ := os.UserHomeDir()

	got := LemonadeHome()
	want := filepath.Join(home, ".lemonade")
	if got != want {
		t.Errorf("LemonadeHome() = %q, want %q", got, want)
	}
}

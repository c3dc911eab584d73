package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"ctlungseg/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}
	if cfg.Training.K != 4 || cfg.Training.Subsamples != 100 {
		t.Errorf("Expected k=4 n=100, got k=%d n=%d", cfg.Training.K, cfg.Training.Subsamples)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training.K = 0
	cfg.Training.Subsamples = -1
	cfg.Training.Init = "kmeans||"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", got, err)
	}
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration in %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Training.Backend != "lloyd" {
		t.Errorf("Expected default backend, got %q", cfg.Training.Backend)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctlungseg.yaml")

	cfg := DefaultConfig()
	cfg.Training.K = 5
	cfg.Training.Init = "++"
	cfg.Refinement.Background = "border"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Training.K != 5 || loaded.Training.Init != "++" || loaded.Refinement.Background != "border" {
		t.Errorf("Round trip lost values: %+v", loaded.Training)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("training:\n  k: -2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestLoadErrorsNameTheFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("training: [k\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config "+path) {
		t.Errorf("Expected a parse error naming %s, got %v", path, err)
	}

	// a directory cannot be read as a file
	if _, err := LoadConfig(dir); err == nil || !strings.Contains(err.Error(), "failed to read config") {
		t.Errorf("Expected a read error, got %v", err)
	}

	cfg := DefaultConfig()
	if !cfg.Refinement.Smooth || cfg.Refinement.SmoothRadius != 3 {
		t.Errorf("Expected median smoothing of radius 3 by default, got %v/%d", cfg.Refinement.Smooth, cfg.Refinement.SmoothRadius)
	}
}

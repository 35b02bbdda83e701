package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meet-minimalist/nsedata/internal/apperror"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "nse_data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Source != "nse" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.PaceInterval != 2*time.Second {
		t.Errorf("PaceInterval = %s", cfg.PaceInterval)
	}
	if got := cfg.EpochDate(); !got.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EpochDate = %s", got)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "data_dir: /tmp/cache\nsource: yahoo\nworkers: 8\npace_interval: 500ms\nepoch: \"2010-06-15\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/cache" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Source != "yahoo" {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.PaceInterval != 500*time.Millisecond {
		t.Errorf("PaceInterval = %s", cfg.PaceInterval)
	}
	if got := cfg.EpochDate(); !got.Equal(time.Date(2010, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EpochDate = %s", got)
	}
	// Untouched keys keep their defaults.
	if cfg.SymbolTimeout != 2*time.Minute {
		t.Errorf("SymbolTimeout = %s", cfg.SymbolTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NSEDATA_SYMBOLS_FILE", "/data/nifty50.txt")
	t.Setenv("NSEDATA_INDEX", "nifty50")
	t.Setenv("NSEDATA_WORKERS", "6")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SymbolsFile != "/data/nifty50.txt" {
		t.Errorf("SymbolsFile = %q", cfg.SymbolsFile)
	}
	if cfg.Index != "nifty50" {
		t.Errorf("Index = %q", cfg.Index)
	}
	if cfg.Workers != 6 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown source", "source: bloomberg\n"},
		{"zero workers", "workers: 0\n"},
		{"bad epoch", "epoch: \"01-01-2000\"\n"},
		{"negative pace", "pace_interval: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := apperror.CodeOf(err); code != apperror.Config {
				t.Errorf("code = %s, want %s", code, apperror.Config)
			}
		})
	}
}

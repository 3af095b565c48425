package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Grid.P != 1 || cfg.Grid.Q != 1 {
		t.Errorf("default grid = %dx%d, want 1x1", cfg.Grid.P, cfg.Grid.Q)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SCR_PREFIX", "/tmp/custom-prefix")
	t.Setenv("SCR_CHECKPOINT_INTERVAL", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checkpoint.SCRPrefix != "/tmp/custom-prefix" {
		t.Errorf("SCRPrefix = %q, want /tmp/custom-prefix", cfg.Checkpoint.SCRPrefix)
	}
	if cfg.Checkpoint.Interval != 42 {
		t.Errorf("Interval = %d, want 42", cfg.Checkpoint.Interval)
	}
}

func TestLoadIgnoresInvalidIntervalEnv(t *testing.T) {
	t.Setenv("SCR_CHECKPOINT_INTERVAL", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checkpoint.Interval != Default().Checkpoint.Interval {
		t.Errorf("Interval = %d, want default %d", cfg.Checkpoint.Interval, Default().Checkpoint.Interval)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_SCR_PREFIX", "/data/scr")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("checkpoint:\n  scr_prefix: \"${TEST_SCR_PREFIX}\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checkpoint.SCRPrefix != "/data/scr" {
		t.Errorf("SCRPrefix = %q, want /data/scr", cfg.Checkpoint.SCRPrefix)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(c *Config)
		worldSize int
		wantErr   bool
	}{
		{"ok", func(c *Config) {}, 1, false},
		{"p*q mismatch", func(c *Config) { c.Grid.P, c.Grid.Q = 2, 2 }, 1, true},
		{"zero NB", func(c *Config) { c.Grid.NB = 0 }, 1, true},
		{"zero interval", func(c *Config) { c.Checkpoint.Interval = 0 }, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate(tc.worldSize)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateDefaultsMBToNB(t *testing.T) {
	cfg := Default()
	cfg.Grid.MB = 0
	if err := cfg.Validate(1); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Grid.MB != cfg.Grid.NB {
		t.Errorf("MB = %d, want %d (defaulted from NB)", cfg.Grid.MB, cfg.Grid.NB)
	}
}

func TestStabilityLimit(t *testing.T) {
	cfg := Default()
	cfg.Grid.HX, cfg.Grid.HY, cfg.Grid.Diffusion = 2, 4, 1

	got := cfg.StabilityLimit()
	want := 0.25 * 2 * 2 / 1.0
	if got != want {
		t.Errorf("StabilityLimit() = %v, want %v", got, want)
	}
}

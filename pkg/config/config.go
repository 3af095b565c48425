// Package config loads solver configuration from CLI flags, an
// optional YAML file and environment variables, following the same
// layering the teacher's config package uses: defaults, then file,
// then environment overrides for the values an external checkpoint
// backend is expected to own.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lapesd/faultsolve/pkg/errs"
	"gopkg.in/yaml.v3"
)

var errConfig = errs.ErrConfig

// Config is the full solver configuration.
type Config struct {
	Framework  FrameworkConfig  `yaml:"framework"`
	Grid       GridConfig       `yaml:"grid"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Fault      FaultConfig      `yaml:"fault"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// FrameworkConfig contains general framework settings.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Debug     bool   `yaml:"debug"`
}

// GridConfig describes the process grid and the global NB x MB domain
// that grid.Partitioner splits into per-rank tiles.
type GridConfig struct {
	P         int     `yaml:"p"`
	Q         int     `yaml:"q"`
	NB        int     `yaml:"nb"`
	MB        int     `yaml:"mb"`
	MaxIter   int     `yaml:"max_iter"`
	Epsilon   float64 `yaml:"epsilon"`
	DeltaT    float64 `yaml:"delta_t"`
	Diffusion float64 `yaml:"diffusion"` // k in the heat kernel
	HX        float64 `yaml:"hx"`
	HY        float64 `yaml:"hy"`
	Temp1Init float64 `yaml:"temp1_init"`
	Temp2Init float64 `yaml:"temp2_init"`
}

// CheckpointConfig configures both checkpoint backends.
type CheckpointConfig struct {
	// SCRPrefix is the root directory for the external-store backend's
	// datasets. Overridden by the SCR_PREFIX environment variable.
	SCRPrefix string `yaml:"scr_prefix"`

	// Interval is the modulo-K checkpoint period. Overridden by the
	// SCR_CHECKPOINT_INTERVAL environment variable.
	Interval int `yaml:"checkpoint_interval"`

	// UseStoreNeedCheckpoint delegates the "should I checkpoint now?"
	// decision to the store instead of the modulo-K heuristic.
	UseStoreNeedCheckpoint bool `yaml:"use_store_need_checkpoint"`

	// KeepLastN bounds how many durable datasets the fsbackend keeps.
	KeepLastN int `yaml:"keep_last_n"`

	// Buddy enables the in-memory circular-buddy checkpoint instead of
	// the external store.
	Buddy bool `yaml:"buddy"`
}

// FaultConfig configures the fault-injection test hook and the world
// repair protocol's retry behavior.
type FaultConfig struct {
	MaxRepairAttempts int           `yaml:"max_repair_attempts"`
	RepairBackoff     time.Duration `yaml:"repair_backoff"`
	TerminatedLogPath string        `yaml:"terminated_log_path"`
	InstanceIDPath    string        `yaml:"instance_id_path"`

	// SpawnImage, SpawnCmd and SpawnNetwork configure --docker
	// replacement-rank containers; unused outside that mode.
	SpawnImage   string   `yaml:"spawn_image"`
	SpawnCmd     []string `yaml:"spawn_cmd"`
	SpawnNetwork string   `yaml:"spawn_network"`
}

// MetricsConfig configures the prometheus exporter.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a configuration with the defaults observed in the
// teacher's config.DefaultConfig: conservative intervals, a local
// checkpoint directory, and text logging.
func Default() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Grid: GridConfig{
			P: 1, Q: 1, NB: 16, MB: 16,
			MaxIter: 100, Epsilon: 0,
			DeltaT: 0.1, Diffusion: 1,
			HX: 1, HY: 1,
			Temp1Init: 10, Temp2Init: -10,
		},
		Checkpoint: CheckpointConfig{
			SCRPrefix: "./checkpoints",
			Interval:  10,
			KeepLastN: 5,
		},
		Fault: FaultConfig{
			MaxRepairAttempts: 5,
			RepairBackoff:     200 * time.Millisecond,
			TerminatedLogPath: "terminated_instances.txt",
			InstanceIDPath:    "instance_id.txt",
		},
		Metrics: MetricsConfig{},
	}
}

// Load reads a YAML file (if it exists) over the defaults, then
// applies the SCR_PREFIX / SCR_CHECKPOINT_INTERVAL environment
// overrides the external-store variant's contract requires (spec §6).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			expanded := []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if v := os.Getenv("SCR_PREFIX"); v != "" {
		cfg.Checkpoint.SCRPrefix = v
	}
	if v := os.Getenv("SCR_CHECKPOINT_INTERVAL"); v != "" {
		var interval int
		if _, err := fmt.Sscanf(v, "%d", &interval); err == nil && interval > 0 {
			cfg.Checkpoint.Interval = interval
		}
	}

	return cfg, nil
}

// Validate checks the invariants the driver relies on before it will
// accept a configuration: P*Q must equal the world size. Δt is not
// compared against StabilityLimit here, and nothing warns when it
// exceeds it.
func (c *Config) Validate(worldSize int) error {
	if c.Grid.P < 1 || c.Grid.Q < 1 {
		return fmt.Errorf("%w: p and q must be >= 1", errConfig)
	}
	if c.Grid.NB < 1 {
		return fmt.Errorf("%w: NB must be >= 1", errConfig)
	}
	if c.Grid.MB == 0 {
		c.Grid.MB = c.Grid.NB
	}
	if c.Grid.P*c.Grid.Q != worldSize {
		return fmt.Errorf("%w: p*q (%d) must equal world size (%d)", errConfig, c.Grid.P*c.Grid.Q, worldSize)
	}
	if c.Checkpoint.Interval < 1 {
		return fmt.Errorf("%w: checkpoint interval must be >= 1", errConfig)
	}
	return nil
}

// StabilityLimit returns the maximum Δt the explicit heat scheme can
// take without blowing up: ¼·min(hx,hy)²/k.
func (c *Config) StabilityLimit() float64 {
	h := c.Grid.HX
	if c.Grid.HY < h {
		h = c.Grid.HY
	}
	return 0.25 * h * h / c.Grid.Diffusion
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`

	Recorder RecorderTuning `yaml:"recorder"`
	Engine   EngineTuning   `yaml:"engine"`
	Ordering Ordering       `yaml:"ordering"`
	World    WorldTuning    `yaml:"world"`
}

type RecorderTuning struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxPerCycle int `yaml:"max_per_cycle"`
	MaxRetries  int `yaml:"max_retries"`
}

type EngineTuning struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxPerSlice int `yaml:"max_per_slice"`
}

// Ordering configures the replay-safety sort for rollback/restore queries.
// Membership is world data, not code: the sets depend on which materials the
// host's game version treats as attached to a structural support.
type Ordering struct {
	// Tiers lists materials that must be rebuilt after everything in earlier
	// tiers (and after unlisted materials, which are tier 0).
	Tiers [][]string `yaml:"tiers"`
	// TopDown lists materials rebuilt from their support downward (y
	// descending during rollback).
	TopDown []string `yaml:"top_down"`
}

type WorldTuning struct {
	Height    int `yaml:"height"`
	BoundaryR int `yaml:"boundary_r"`
}

func defaults() Config {
	return Config{
		DataDir: "./data",
		DBPath:  "./data/ledger.db",
		Recorder: RecorderTuning{
			IntervalMs:  1000,
			MaxPerCycle: 1000,
			MaxRetries:  3,
		},
		Engine: EngineTuning{
			IntervalMs:  250,
			MaxPerSlice: 1000,
		},
		Ordering: Ordering{
			Tiers: [][]string{
				{"vine", "pointed_dripstone"},
				{"cave_vines_plant"},
				{"cave_vines"},
			},
			TopDown: []string{"vine", "pointed_dripstone", "cave_vines_plant"},
		},
		World: WorldTuning{
			Height:    256,
			BoundaryR: 0,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.DBPath == "" {
		c.DBPath = c.DataDir + "/ledger.db"
	}
	if c.Recorder.IntervalMs <= 0 {
		c.Recorder.IntervalMs = 1000
	}
	if c.Recorder.MaxPerCycle <= 0 {
		c.Recorder.MaxPerCycle = 1000
	}
	if c.Recorder.MaxRetries <= 0 {
		c.Recorder.MaxRetries = 3
	}
	if c.Engine.IntervalMs <= 0 {
		c.Engine.IntervalMs = 250
	}
	if c.Engine.MaxPerSlice <= 0 {
		c.Engine.MaxPerSlice = 1000
	}
	if c.World.Height <= 0 {
		c.World.Height = 256
	}
	if c.World.BoundaryR < 0 {
		c.World.BoundaryR = 0
	}
}

package hpmc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MoveConfig groups the trial move parameters.
type MoveConfig struct {
	D         []float64 `yaml:"d"`          // per-type translation cube half-width
	A         []float64 `yaml:"a"`          // per-type rotation angle (radians)
	MoveRatio *float64  `yaml:"move_ratio"` // probability of a translate move (default 0.5, 0 = rotations only)
}

// DepletantPairConfig sets the implicit-depletant parameters for one
// type pair. NTrial == 0 selects the direct Poisson mode; NTrial > 0
// selects the auxiliary-variable estimator with that many trials.
type DepletantPairConfig struct {
	TypeI    int     `yaml:"type_i"`
	TypeJ    int     `yaml:"type_j"`
	Fugacity float64 `yaml:"fugacity"` // sign selects insertion (+) vs deletion (-) ensemble
	NTrial   int     `yaml:"ntrial"`
}

// DeviceConfig groups the parallel execution parameters.
type DeviceConfig struct {
	Devices int `yaml:"devices"` // number of compute units (default GOMAXPROCS)
}

// RunConfig is the full configuration surface of the update engine.
type RunConfig struct {
	Seed    uint64 `yaml:"seed"`
	NSelect int    `yaml:"nselect"` // sweeps per step (default 1)

	Moves      MoveConfig            `yaml:"moves"`
	Depletants []DepletantPairConfig `yaml:"depletants"`
	Device     DeviceConfig          `yaml:"device"`

	// EnablePatch turns on soft-potential rejection when a PatchEnergy
	// implementation is injected.
	EnablePatch bool `yaml:"enable_patch"`
}

// LoadRunConfig reads a RunConfig from a YAML file.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return cfg, nil
}

// validate fills defaults and rejects malformed configurations.
func (cfg *RunConfig) validate(ntypes int) error {
	if cfg.NSelect <= 0 {
		cfg.NSelect = 1
	}
	if r := cfg.MoveRatioOrDefault(); r < 0 || r > 1 {
		return fatalConfigf("move_ratio %v outside [0, 1]", r)
	}
	if len(cfg.Moves.D) != ntypes {
		return fatalConfigf("have %d translation sizes for %d types", len(cfg.Moves.D), ntypes)
	}
	if len(cfg.Moves.A) != 0 && len(cfg.Moves.A) != ntypes {
		return fatalConfigf("have %d rotation sizes for %d types", len(cfg.Moves.A), ntypes)
	}
	if cfg.MoveRatioOrDefault() == 0 && len(cfg.Moves.A) == 0 {
		return fatalConfigf("move_ratio 0 needs per-type rotation sizes")
	}
	for _, dp := range cfg.Depletants {
		if dp.TypeI < 0 || dp.TypeI >= ntypes || dp.TypeJ < 0 || dp.TypeJ >= ntypes {
			return fatalConfigf("depletant pair (%d,%d) outside %d types", dp.TypeI, dp.TypeJ, ntypes)
		}
		if dp.NTrial < 0 {
			return fatalConfigf("negative ntrial for pair (%d,%d)", dp.TypeI, dp.TypeJ)
		}
	}
	return nil
}

// MoveRatioOrDefault returns the configured translate probability,
// defaulting to 0.5 when move_ratio is absent. An explicit 0 makes
// every sweep rotation-only.
func (cfg *RunConfig) MoveRatioOrDefault() float64 {
	if cfg.Moves.MoveRatio == nil {
		return 0.5
	}
	return *cfg.Moves.MoveRatio
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AdPulse/services/bandit/signals"
)

// Objective selects which metric pair the bandit learns on.
type Objective string

const (
	// ObjectiveCTR learns click-through: successes are click deltas,
	// trials are impression deltas.
	ObjectiveCTR Objective = "ctr"

	// ObjectiveCVR learns conversion: successes are conversion deltas,
	// trials are click deltas.
	ObjectiveCVR Objective = "cvr"
)

// PriorConfig is the creation prior for fresh arms.
type PriorConfig struct {
	Alpha0 float64 `json:"alpha0" yaml:"alpha0" validate:"gte=1"`
	Beta0  float64 `json:"beta0" yaml:"beta0" validate:"gte=1"`
}

// ScalingConfig holds the advisor thresholds.
type ScalingConfig struct {
	// ScaleThreshold is the minimum posterior mean for a scale decision.
	ScaleThreshold float64 `json:"scale_threshold" yaml:"scale_threshold" validate:"gte=0,lte=1"`

	// KillMinPulls is the minimum pulls before a weak verdict may kill.
	KillMinPulls int64 `json:"kill_min_pulls" yaml:"kill_min_pulls" validate:"gte=0"`
}

// TrainerConfig holds the maintenance schedule and pruning policy.
type TrainerConfig struct {
	// PruneFloor is the pulls count below which an arm may be pruned.
	PruneFloor int64 `json:"prune_floor" yaml:"prune_floor" validate:"gte=0"`

	// Retention is how long a below-floor arm survives without updates.
	Retention time.Duration `json:"retention" yaml:"retention" validate:"gte=0"`

	// RefitEnabled turns on empirical-Bayes prior re-fitting.
	RefitEnabled bool `json:"refit_enabled" yaml:"refit_enabled"`

	// RefitMinPulls is the minimum pulls for an arm to join the re-fit.
	RefitMinPulls int64 `json:"refit_min_pulls" yaml:"refit_min_pulls" validate:"gte=0"`

	// Interval is the background schedule period. Zero disables the
	// background runner; explicit train calls still work.
	Interval time.Duration `json:"interval" yaml:"interval" validate:"gte=0"`

	// Timeout bounds one scheduled pass. Zero means no deadline.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// Config is the immutable service configuration.
//
// Supplied once at construction and never mutated; Reconfigure builds
// a whole new component set from a new Config rather than patching the
// old one in place.
type Config struct {
	// Objective selects the learning metric: "ctr" or "cvr".
	Objective Objective `json:"objective" yaml:"objective" validate:"required,oneof=ctr cvr"`

	// StoreTimeout bounds each store operation issued by the facade.
	// Zero means the caller's context deadline is the only bound.
	StoreTimeout time.Duration `json:"store_timeout" yaml:"store_timeout" validate:"gte=0"`

	// AutoCreateArms lazily creates arms on first outcome.
	AutoCreateArms bool `json:"auto_create_arms" yaml:"auto_create_arms"`

	// CredibleLevel is the reported credible-interval level.
	CredibleLevel float64 `json:"credible_level" yaml:"credible_level"`

	// Prior seeds fresh arms until the trainer re-fits it.
	Prior PriorConfig `json:"prior" yaml:"prior"`

	// Windows is the ordered early-signal threshold table.
	Windows signals.Windows `json:"windows" yaml:"windows"`

	// Scaling holds the advisor thresholds.
	Scaling ScalingConfig `json:"scaling" yaml:"scaling"`

	// Trainer holds the maintenance policy.
	Trainer TrainerConfig `json:"trainer" yaml:"trainer"`

	// BulkLimit bounds concurrent per-item analyses in bulk endpoints.
	BulkLimit int `json:"bulk_limit" yaml:"bulk_limit" validate:"gte=0"`
}

// DefaultConfig returns production-shaped defaults.
func DefaultConfig() Config {
	return Config{
		Objective:      ObjectiveCTR,
		StoreTimeout:   2 * time.Second,
		AutoCreateArms: true,
		CredibleLevel:  0.95,
		Prior:          PriorConfig{Alpha0: 1, Beta0: 1},
		Windows:        signals.DefaultWindows(),
		Scaling:        ScalingConfig{ScaleThreshold: 0.02, KillMinPulls: 500},
		Trainer: TrainerConfig{
			PruneFloor:    50,
			Retention:     7 * 24 * time.Hour,
			RefitEnabled:  true,
			RefitMinPulls: 100,
			Interval:      6 * time.Hour,
			Timeout:       time.Minute,
		},
		BulkLimit: 8,
	}
}

// LoadConfig reads a yaml file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %q: %v", ErrConfigInvalid, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate is the shared struct validator. validator.New is expensive;
// the instance is safe for concurrent use.
var validate = validator.New()

// Validate checks field constraints and the cross-field invariants the
// tag grammar cannot express. Any violation is ErrConfigInvalid.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	switch c.CredibleLevel {
	case 0.90, 0.95, 0.99:
	default:
		return fmt.Errorf("%w: credible level %.3f not one of 0.90, 0.95, 0.99", ErrConfigInvalid, c.CredibleLevel)
	}

	if err := c.Windows.Validate(); err != nil {
		return fmt.Errorf("%w: windows: %v", ErrConfigInvalid, err)
	}
	return nil
}

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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ObjectiveCTR, cfg.Objective)
	assert.Len(t, cfg.Windows, 3)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("bad objective", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Objective = "roas"
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})

	t.Run("prior below one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Prior.Alpha0 = 0.5
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})

	t.Run("unsupported credible level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CredibleLevel = 0.8
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})

	t.Run("empty windows", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Windows = nil
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})

	t.Run("scale threshold above one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Scaling.ScaleThreshold = 1.2
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})

	t.Run("negative store timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.StoreTimeout = -time.Second
		assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("objective: cvr\nbulk_limit: 16\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, ObjectiveCVR, cfg.Objective)
		assert.Equal(t, 16, cfg.BulkLimit)
		// Untouched fields keep their defaults.
		assert.Equal(t, DefaultConfig().Windows, cfg.Windows)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("objective: [broken"), 0o644))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("objective: nonsense\n"), 0o644))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrConfigInvalid)
	})
}

package cnn_go

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Model.ReducedLength())
	assert.Equal(t, 12800, cfg.Model.DerivedFlattenSize())
	assert.Equal(t, 12800, cfg.Model.DeclaredFlattenSize())
	assert.Equal(t, SolverSGD, cfg.Train.Optimizer)
	assert.Equal(t, 64, cfg.Train.BatchSize)
	assert.Equal(t, 769, cfg.Data.LabelOffset)
	assert.Zero(t, cfg.Train.L1Lambda)
}

func TestDeclaredFlattenSize(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.FlattenSize = 1000
	assert.Equal(t, 1000, cfg.DeclaredFlattenSize())
	// Mismatch is reported by forward pass, not by validation
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	raw := []byte(`
model:
  dims: [8, 16, 32]
train:
  epochs: 3
  optimizer: adam
data:
  source: synthetic
`)
	require.NoError(t, os.WriteFile(path, raw, 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 16, 32}, cfg.Model.Dims)
	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, SolverAdam, cfg.Train.Optimizer)
	assert.Equal(t, DataSourceSynthetic, cfg.Data.Source)
	// Untouched keys keep defaults
	assert.Equal(t, 22, cfg.Model.InChannels)
	assert.Equal(t, 0.1, cfg.Train.LabelSmoothing)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  batch_size: 0\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"dims shorter than blocks": func(c *Config) { c.Model.Dims = []int{64} },
		"zero classes":             func(c *Config) { c.Model.NumClasses = 0 },
		"dropout of one":           func(c *Config) { c.Model.Dropout = 1 },
		"unknown activation":       func(c *Config) { c.Model.Activation = "swish" },
		"negative epochs":          func(c *Config) { c.Train.Epochs = -1 },
		"unknown optimizer":        func(c *Config) { c.Train.Optimizer = "lbfgs" },
		"smoothing of one":         func(c *Config) { c.Train.LabelSmoothing = 1 },
		"unknown source":           func(c *Config) { c.Data.Source = "parquet" },
		"val fraction of one":      func(c *Config) { c.Data.ValFraction = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

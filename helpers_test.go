package cnn_go

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// smallModelConfig Two blocks over 3x16 windows: flatten size is 8 * 16/4 = 32
func smallModelConfig() ModelConfig {
	cfg := DefaultModelConfig()
	cfg.InChannels = 3
	cfg.InLength = 16
	cfg.ConvBlocks = 2
	cfg.Dims = []int{4, 8}
	cfg.KernelSize = 3
	cfg.Padding = 1
	cfg.HiddenSizes = []int{8}
	return cfg
}

func smallConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Model = smallModelConfig()
	cfg.Train.Epochs = 2
	cfg.Train.BatchSize = 8
	cfg.Train.Progress = false
	cfg.Train.CheckpointPath = filepath.Join(dir, "weights", "cnn_weights.gob")
	cfg.Train.PlotPath = filepath.Join(dir, "weights", "cnn_history.png")
	cfg.Data.Source = DataSourceSynthetic
	cfg.Data.Crop = 0
	cfg.Data.SyntheticSamples = 40
	return cfg
}

func newTestModel(t *testing.T, cfg ModelConfig, seed int64) *Model {
	model, err := NewModel(cfg, SeedEverything(seed))
	require.NoError(t, err)
	t.Cleanup(model.Close)
	return model
}

func randomInput(seed int64, shape ...int) *tensor.Dense {
	return NormRandDense(rand.New(rand.NewSource(seed)), shape...)
}

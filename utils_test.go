package cnn_go

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestGenerateSyntheticSet(t *testing.T) {
	a, err := GenerateSyntheticSet(20, 3, 16, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := GenerateSyntheticSet(20, 3, 16, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{20, 3, 16}, a.Data.Shape())
	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Data.Data(), b.Data.Data())
	for _, label := range a.Labels {
		assert.True(t, label >= 0 && label < 4)
	}
	for _, v := range a.Data.Data().([]float64) {
		assert.False(t, math.IsNaN(v))
	}

	_, err = GenerateSyntheticSet(0, 3, 16, 4, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = GenerateSyntheticSet(20, 0, 16, 4, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestNormRandDense(t *testing.T) {
	d := NormRandDense(rand.New(rand.NewSource(3)), 200, 50)
	assert.Equal(t, tensor.Shape{200, 50}, d.Shape())
	data := d.Data().([]float64)
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))
	assert.InDelta(t, 0, mean, 0.05)
	assert.Equal(t, data, NormRandDense(rand.New(rand.NewSource(3)), 200, 50).Data())
}

func TestCountCorrect(t *testing.T) {
	logits := tensor.New(tensor.WithShape(3, 4), tensor.WithBacking([]float64{
		0.1, 0.9, 0.0, 0.0,
		2.0, 1.0, 0.0, -1.0,
		0.0, 0.0, 0.0, 5.0,
	}))
	correct, err := countCorrect(logits, []int{1, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, correct)

	_, err = countCorrect(logits, []int{1})
	assert.Error(t, err)
}

func TestPlotHistory(t *testing.T) {
	hist := &History{}
	hist.Append(EpochResult{Loss: 1.4, Accuracy: 0.3}, EpochResult{Loss: 1.5, Accuracy: 0.25})
	hist.Append(EpochResult{Loss: 1.2, Accuracy: 0.45}, EpochResult{Loss: 1.3, Accuracy: 0.4})
	assert.Equal(t, "loss=1.4000 acc=0.3000", EpochResult{Loss: 1.4, Accuracy: 0.3}.String())
	best, acc := hist.BestValAccuracy()
	assert.Equal(t, 1, best)
	assert.Equal(t, 0.4, acc)

	fname := filepath.Join(t.TempDir(), "history.png")
	require.NoError(t, PlotHistory(hist, fname))
	info, err := os.Stat(fname)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, PlotHistory(nil, fname))
}

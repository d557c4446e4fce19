package cnn_go

import (
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// sequentialSet Window i holds values i*100 + position, label i%4
func sequentialSet(t *testing.T, n, channels, length int) *TrainSet {
	data := make([]float64, n*channels*length)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = i % 4
		for j := 0; j < channels*length; j++ {
			data[i*channels*length+j] = float64(i*100 + j)
		}
	}
	set, err := NewTrainSet(data, labels, channels, length)
	require.NoError(t, err)
	return set
}

func drain(t *testing.T, src BatchSource) []*Batch {
	var batches []*Batch
	for {
		b, err := src.Next()
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, b)
	}
}

func TestNewTrainSet(t *testing.T) {
	_, err := NewTrainSet(make([]float64, 10), []int{0, 1}, 2, 3)
	assert.Error(t, err)
	_, err = NewTrainSet(nil, nil, 0, 3)
	assert.Error(t, err)
	set := sequentialSet(t, 5, 2, 3)
	assert.Equal(t, 5, set.DataLength)
	assert.Equal(t, 2, set.Channels())
	assert.Equal(t, 3, set.Length())
}

func TestDataLoaderBatches(t *testing.T) {
	set := sequentialSet(t, 10, 2, 3)
	loader, err := NewDataLoader(set, 4, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.NumBatches())

	batches := drain(t, loader)
	require.Len(t, batches, 3)
	sizes := []int{4, 4, 2}
	for i, b := range batches {
		assert.Equal(t, sizes[i], b.Size())
		assert.Equal(t, tensor.Shape{sizes[i], 2, 3}, b.Inputs.Shape())
	}
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].Labels)
	assert.Equal(t, 400.0, batches[1].Inputs.Data().([]float64)[0])

	// Exhausted until reset
	_, err = loader.Next()
	assert.Equal(t, io.EOF, err)
	loader.Reset()
	assert.Len(t, drain(t, loader), 3)
}

func TestDataLoaderSingleRowBatch(t *testing.T) {
	set := sequentialSet(t, 7, 2, 3)
	loader, err := NewDataLoader(set, 3, false, nil)
	require.NoError(t, err)
	batches := drain(t, loader)
	require.Len(t, batches, 3)
	last := batches[2]
	assert.Equal(t, tensor.Shape{1, 2, 3}, last.Inputs.Shape())
	assert.Equal(t, []int{2}, last.Labels)
	assert.Equal(t, []float64{600, 601, 602, 603, 604, 605}, last.Inputs.Data().([]float64))
}

func TestDataLoaderShuffle(t *testing.T) {
	set := sequentialSet(t, 9, 1, 2)
	order := func(seed int64) []int {
		loader, err := NewDataLoader(set, 4, true, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		var firsts []int
		for _, b := range drain(t, loader) {
			data := b.Inputs.Data().([]float64)
			for i := 0; i < b.Size(); i++ {
				window := int(data[i*2]) / 100
				assert.Equal(t, window%4, b.Labels[i])
				firsts = append(firsts, window)
			}
		}
		return firsts
	}
	a := order(11)
	assert.Equal(t, a, order(11))
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, a)

	_, err := NewDataLoader(set, 4, true, nil)
	assert.Error(t, err)
	_, err = NewDataLoader(set, 0, false, nil)
	assert.Error(t, err)
}

func TestTrainSetCrop(t *testing.T) {
	set := sequentialSet(t, 2, 2, 4)
	cropped, err := set.Crop(3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2, 3}, cropped.Data.Shape())
	assert.Equal(t, []float64{
		0, 1, 2, 4, 5, 6,
		100, 101, 102, 104, 105, 106,
	}, cropped.Data.Data().([]float64))

	_, err = set.Crop(5)
	assert.Error(t, err)
}

func TestTrainSetSplit(t *testing.T) {
	set := sequentialSet(t, 10, 1, 2)
	train, val, err := set.Split(0.2, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	assert.Equal(t, 8, train.DataLength)
	assert.Equal(t, 2, val.DataLength)

	seen := map[float64]bool{}
	for _, part := range []*TrainSet{train, val} {
		data := part.Data.Data().([]float64)
		for i := 0; i < part.DataLength; i++ {
			seen[data[i*2]] = true
		}
	}
	assert.Len(t, seen, 10)

	_, _, err = set.Split(1, rand.New(rand.NewSource(0)))
	assert.Error(t, err)
}

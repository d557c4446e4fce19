package cnn_go

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// TrainSet Labeled windows held in memory.
//
// Data - tensor of shape (DataLength, channels, length)
// Labels - class index per window
//
type TrainSet struct {
	Data       *tensor.Dense
	Labels     []int
	DataLength int
}

// NewTrainSet Wraps flat channel-major window data
func NewTrainSet(data []float64, labels []int, channels, length int) (*TrainSet, error) {
	if channels <= 0 || length <= 0 {
		return nil, fmt.Errorf("channels and length must be > 0 (got %d, %d)", channels, length)
	}
	window := channels * length
	if len(data) != len(labels)*window {
		return nil, fmt.Errorf("data has %d values, %d labels of %dx%d windows need %d", len(data), len(labels), channels, length, len(labels)*window)
	}
	return &TrainSet{
		Data:       tensor.New(tensor.WithShape(len(labels), channels, length), tensor.WithBacking(data)),
		Labels:     labels,
		DataLength: len(labels),
	}, nil
}

// Channels Number of channels per window
func (ts *TrainSet) Channels() int { return ts.Data.Shape()[1] }

// Length Number of samples per channel
func (ts *TrainSet) Length() int { return ts.Data.Shape()[2] }

func (ts *TrainSet) values() []float64 {
	return ts.Data.Data().([]float64)
}

// Subset Copies windows with provided indices, in that order
func (ts *TrainSet) Subset(indices []int) (*TrainSet, error) {
	window := ts.Channels() * ts.Length()
	src := ts.values()
	data := make([]float64, len(indices)*window)
	labels := make([]int, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= ts.DataLength {
			return nil, fmt.Errorf("index %d is out of range [0, %d)", idx, ts.DataLength)
		}
		copy(data[i*window:(i+1)*window], src[idx*window:(idx+1)*window])
		labels[i] = ts.Labels[idx]
	}
	return NewTrainSet(data, labels, ts.Channels(), ts.Length())
}

// Split Shuffles indices and returns (1-fraction, fraction) parts
func (ts *TrainSet) Split(fraction float64, rng *rand.Rand) (*TrainSet, *TrainSet, error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("fraction must be in [0, 1) (got %g)", fraction)
	}
	perm := rng.Perm(ts.DataLength)
	held := int(float64(ts.DataLength) * fraction)
	first, err := ts.Subset(perm[held:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't build first part")
	}
	second, err := ts.Subset(perm[:held])
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't build second part")
	}
	return first, second, nil
}

// Crop Keeps first length samples of every channel
func (ts *TrainSet) Crop(length int) (*TrainSet, error) {
	if length <= 0 || length > ts.Length() {
		return nil, fmt.Errorf("crop length must be in [1, %d] (got %d)", ts.Length(), length)
	}
	if length == ts.Length() {
		return ts, nil
	}
	channels, full := ts.Channels(), ts.Length()
	src := ts.values()
	data := make([]float64, ts.DataLength*channels*length)
	for row := 0; row < ts.DataLength*channels; row++ {
		copy(data[row*length:(row+1)*length], src[row*full:row*full+length])
	}
	return NewTrainSet(data, ts.Labels, channels, length)
}

// Batch Inputs of shape (size, channels, length) with their labels
type Batch struct {
	Inputs *tensor.Dense
	Labels []int
}

// Size Number of windows in batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// BatchSource Iterable source of batches. Next returns io.EOF after the last batch of a pass.
type BatchSource interface {
	Reset()
	Next() (*Batch, error)
	NumBatches() int
}

// DataLoader Cuts TrainSet into batches. The last batch may be smaller.
type DataLoader struct {
	set       *TrainSet
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
	pos       int
}

// NewDataLoader Constructor for DataLoader. When shuffle is set rng must not be nil.
func NewDataLoader(set *TrainSet, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if set == nil {
		return nil, fmt.Errorf("train set is nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires random source")
	}
	l := &DataLoader{set: set, batchSize: batchSize, shuffle: shuffle, rng: rng}
	l.Reset()
	return l, nil
}

// NumBatches Implements BatchSource
func (l *DataLoader) NumBatches() int {
	return (l.set.DataLength + l.batchSize - 1) / l.batchSize
}

// Reset Implements BatchSource. Draws new order when shuffling.
func (l *DataLoader) Reset() {
	l.pos = 0
	if !l.shuffle {
		l.order = nil
		return
	}
	l.order = l.rng.Perm(l.set.DataLength)
}

// Next Implements BatchSource
func (l *DataLoader) Next() (*Batch, error) {
	if l.pos >= l.set.DataLength {
		return nil, io.EOF
	}
	end := l.pos + l.batchSize
	if end > l.set.DataLength {
		end = l.set.DataLength
	}
	start := l.pos
	l.pos = end
	// Slicing a single row would drop the batch axis
	if l.order == nil && end-start > 1 {
		view, err := l.set.Data.Slice(SlicerOneStep{StartIdx: start, EndIdx: end})
		if err != nil {
			return nil, errors.Wrap(err, "Can't slice batch")
		}
		inputs, ok := view.Materialize().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("batch has unexpected type %T", view)
		}
		return &Batch{Inputs: inputs, Labels: append([]int(nil), l.set.Labels[start:end]...)}, nil
	}
	indices := l.order
	if indices == nil {
		indices = []int{start}
		start, end = 0, 1
	}
	subset, err := l.set.Subset(indices[start:end])
	if err != nil {
		return nil, errors.Wrap(err, "Can't gather batch")
	}
	return &Batch{Inputs: subset.Data, Labels: subset.Labels}, nil
}

package cnn_go

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ReadNPYFile Reads numpy array (format version 1.0) and converts its elements to float64.
// float64, float32, int64 and int32 arrays are accepted.
func ReadNPYFile(fname string) (*tensor.Dense, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open file")
	}
	defer f.Close()
	raw := new(tensor.Dense)
	if err := raw.ReadNpy(f); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't decode '%s'", fname))
	}
	data, err := asFloat64s(raw)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't convert '%s'", fname))
	}
	return tensor.New(tensor.WithShape(raw.Shape().Clone()...), tensor.WithBacking(data)), nil
}

func asFloat64s(t *tensor.Dense) ([]float64, error) {
	switch src := t.Data().(type) {
	case []float64:
		return src, nil
	case []float32:
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dtype %v is not supported", t.Dtype())
	}
}

// loadNPYSet Reads (N, C, T) windows and (N) labels, shifting labels by offset
func loadNPYSet(xPath, yPath string, labelOffset int) (*TrainSet, error) {
	x, err := ReadNPYFile(xPath)
	if err != nil {
		return nil, err
	}
	xShape := x.Shape()
	if xShape.Dims() != 3 {
		return nil, fmt.Errorf("'%s' must hold (windows, channels, samples) array, got shape %v", xPath, xShape)
	}
	y, err := ReadNPYFile(yPath)
	if err != nil {
		return nil, err
	}
	yData := y.Data().([]float64)
	if len(yData) != xShape[0] {
		return nil, fmt.Errorf("'%s' must hold %d labels, got shape %v", yPath, xShape[0], y.Shape())
	}
	labels := make([]int, len(yData))
	for i, v := range yData {
		labels[i] = int(math.Round(v)) - labelOffset
	}
	return NewTrainSet(x.Data().([]float64), labels, xShape[1], xShape[2])
}

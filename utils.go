package cnn_go

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense of provided shape filled with normally distributed float64 values
func NormRandDense(rng *rand.Rand, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// GenerateSyntheticSet Generates numSamples windows of shape (channels, length) with labels in [0, classes).
// Every class is a sinusoid with its own frequency, each channel gets random gain and phase, plus gaussian noise.
func GenerateSyntheticSet(numSamples, channels, length, classes int, rng *rand.Rand) (*TrainSet, error) {
	if numSamples <= 0 || classes <= 0 {
		return nil, fmt.Errorf("number of samples and classes must be > 0 (got %d, %d)", numSamples, classes)
	}
	if channels <= 0 || length <= 0 {
		return nil, fmt.Errorf("window shape must be positive (got %d, %d)", channels, length)
	}
	noise := NormRandDense(rng, numSamples, channels, length).Data().([]float64)
	data := make([]float64, len(noise))
	labels := make([]int, numSamples)
	for i := range labels {
		label := rng.Intn(classes)
		labels[i] = label
		freq := float64(label+1) * 2
		for c := 0; c < channels; c++ {
			offset := (i*channels + c) * length
			gain := 0.5 + rng.Float64()
			phase := 2 * math.Pi * rng.Float64()
			row := data[offset : offset+length]
			for t := range row {
				row[t] = gain*math.Sin(2*math.Pi*freq*float64(t)/float64(length)+phase) + 0.3*noise[offset+t]
			}
		}
	}
	return NewTrainSet(data, labels, channels, length)
}

// SlicerOneStep Just iterator with step size = 1
type SlicerOneStep struct {
	StartIdx, EndIdx int
}

func (s SlicerOneStep) Start() int { return s.StartIdx }
func (s SlicerOneStep) End() int   { return s.EndIdx }
func (s SlicerOneStep) Step() int  { return 1 }

// countCorrect Number of rows where argmax of logits equals label
func countCorrect(logits *tensor.Dense, labels []int) (int, error) {
	shp := logits.Shape()
	if shp.Dims() != 2 || shp[0] != len(labels) {
		return 0, fmt.Errorf("logits of shape %v do not match %d labels", shp, len(labels))
	}
	data, ok := logits.Data().([]float64)
	if !ok {
		return 0, fmt.Errorf("logits must be float64, got %v", logits.Dtype())
	}
	classes := shp[1]
	correct := 0
	for i, label := range labels {
		if floats.MaxIdx(data[i*classes:(i+1)*classes]) == label {
			correct++
		}
	}
	return correct, nil
}

// PlotHistory Plot train and validation accuracy per epoch
func PlotHistory(h *History, fname string) error {
	if h == nil {
		return fmt.Errorf("history is nil")
	}
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "accuracy"
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())
	series := []struct {
		name   string
		values []float64
		color  color.RGBA
	}{
		{"train", h.TrainAccuracy, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"val", h.ValAccuracy, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
	}
	for _, s := range series {
		if len(s.values) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(s.values))
		for i, v := range s.values {
			xys[i].X = float64(i)
			xys[i].Y = v
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't init line for '%s'", s.name))
		}
		line.Color = s.color
		points.Color = s.color
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}
	// Save the plot to a PNG file.
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}

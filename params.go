package cnn_go

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Param Named tensor owned by a model. Buffers (Learnable == false) are persisted but never touched by a solver.
type Param struct {
	Name      string
	Value     *tensor.Dense
	Learnable bool
}

// Data Returns backing slice of the parameter
func (p *Param) Data() []float64 {
	return p.Value.Data().([]float64)
}

// Params Ordered parameter store
type Params struct {
	list  []*Param
	index map[string]*Param
}

func newParams() *Params {
	return &Params{index: make(map[string]*Param)}
}

func (ps *Params) add(name string, shape tensor.Shape, learnable bool, fill func([]float64)) *Param {
	data := make([]float64, shape.TotalSize())
	if fill != nil {
		fill(data)
	}
	p := &Param{
		Name:      name,
		Value:     tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
		Learnable: learnable,
	}
	ps.list = append(ps.list, p)
	ps.index[name] = p
	return p
}

// Get Returns parameter by its name or nil
func (ps *Params) Get(name string) *Param {
	return ps.index[name]
}

// All Returns every parameter and buffer in construction order
func (ps *Params) All() []*Param {
	return ps.list
}

// Learnables Returns learnable parameters in construction order
func (ps *Params) Learnables() []*Param {
	learnables := make([]*Param, 0, len(ps.list))
	for _, p := range ps.list {
		if p.Learnable {
			learnables = append(learnables, p)
		}
	}
	return learnables
}

// uniformFill U(-bound, bound)
func uniformFill(rng *rand.Rand, bound float64) func([]float64) {
	return func(data []float64) {
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
	}
}

func constFill(v float64) func([]float64) {
	return func(data []float64) {
		for i := range data {
			data[i] = v
		}
	}
}

// initParams Allocates parameters of every layer. Weights and biases of convolution and linear
// layers are drawn from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func initParams(layers []*Layer, rng *rand.Rand) (*Params, error) {
	ps := newParams()
	for _, l := range layers {
		switch l.Type {
		case LayerConvolutional:
			fanIn := l.InFeatures * l.KernelSize
			bound := 1.0 / math.Sqrt(float64(fanIn))
			ps.add(l.WeightName, tensor.Shape{l.OutFeatures, l.InFeatures, 1, l.KernelSize}, true, uniformFill(rng, bound))
			ps.add(l.BiasName, tensor.Shape{1, l.OutFeatures, 1, 1}, true, uniformFill(rng, bound))
		case LayerBatchNorm:
			shp := tensor.Shape{1, l.OutFeatures, 1, 1}
			ps.add(l.WeightName, shp, true, constFill(1))
			ps.add(l.BiasName, shp, true, nil)
			ps.add(l.RunningMeanName, shp, false, nil)
			ps.add(l.RunningVarName, shp, false, constFill(1))
		case LayerLinear:
			if l.InFeatures <= 0 {
				return nil, fmt.Errorf("Layer %s has %d input features", l.Name, l.InFeatures)
			}
			bound := 1.0 / math.Sqrt(float64(l.InFeatures))
			ps.add(l.WeightName, tensor.Shape{l.OutFeatures, l.InFeatures}, true, uniformFill(rng, bound))
			ps.add(l.BiasName, tensor.Shape{1, l.OutFeatures}, true, uniformFill(rng, bound))
		default:
			if !noWeightsAllowed(l.Type) {
				return nil, fmt.Errorf("Layer %s type '%s' has no parameter layout", l.Name, l.Type)
			}
		}
	}
	return ps, nil
}

// l1 Sum of absolute values over learnable parameters
func (ps *Params) l1() float64 {
	total := 0.0
	for _, p := range ps.Learnables() {
		total += floats.Norm(p.Data(), 1)
	}
	return total
}

package cnn_go

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	SolverSGD      = "sgd"
	SolverMomentum = "momentum"
	SolverAdam     = "adam"
	SolverRMSProp  = "rmsprop"
)

// SolverState Persistable snapshot of solver.
// Velocity is filled for SGD only: gorgonia's own solvers keep their caches private.
type SolverState struct {
	Kind        string
	LearnRate   float64
	Momentum    float64
	WeightDecay float64
	Steps       int
	Velocity    [][]float64
}

// SGD Stochastic gradient descent with momentum and weight decay added to gradient:
//
// d = grad + weightDecay*w
// v = d (first step), v = momentum*v + d (next steps)
// w = w - learnRate*v
//
// Implements gorgonia.Solver.
type SGD struct {
	LearnRate   float64
	Momentum    float64
	WeightDecay float64

	velocity [][]float64
	steps    int
}

// NewSGD Constructor for SGD
func NewSGD(learnRate, momentum, weightDecay float64) *SGD {
	return &SGD{
		LearnRate:   learnRate,
		Momentum:    momentum,
		WeightDecay: weightDecay,
	}
}

// Step Implements gorgonia.Solver. Values are updated in place.
func (s *SGD) Step(model []gorgonia.ValueGrad) error {
	if s.velocity == nil {
		s.velocity = make([][]float64, len(model))
	}
	if len(model) != len(s.velocity) {
		return fmt.Errorf("solver was used with %d parameters, got %d", len(s.velocity), len(model))
	}
	for i, vg := range model {
		w, err := float64Data(vg.Value())
		if err != nil {
			return fmt.Errorf("value #%d: %v", i, err)
		}
		gv, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("Can't get gradient of value #%d: %v", i, err)
		}
		g, err := float64Data(gv)
		if err != nil {
			return fmt.Errorf("gradient #%d: %v", i, err)
		}
		if len(g) != len(w) {
			return fmt.Errorf("gradient #%d has %d elements, value has %d", i, len(g), len(w))
		}
		if s.Momentum == 0 {
			// w = w*(1 - lr*wd) - lr*g
			floats.Scale(1-s.LearnRate*s.WeightDecay, w)
			floats.AddScaled(w, -s.LearnRate, g)
			continue
		}
		v := s.velocity[i]
		if v == nil {
			v = make([]float64, len(w))
			copy(v, g)
			s.velocity[i] = v
		} else {
			if len(v) != len(w) {
				return fmt.Errorf("value #%d changed size from %d to %d", i, len(v), len(w))
			}
			floats.Scale(s.Momentum, v)
			floats.Add(v, g)
		}
		floats.AddScaled(v, s.WeightDecay, w)
		floats.AddScaled(w, -s.LearnRate, v)
	}
	s.steps++
	return nil
}

// State Returns copy of solver state
func (s *SGD) State() SolverState {
	state := SolverState{
		Kind:        SolverSGD,
		LearnRate:   s.LearnRate,
		Momentum:    s.Momentum,
		WeightDecay: s.WeightDecay,
		Steps:       s.steps,
		Velocity:    make([][]float64, len(s.velocity)),
	}
	for i, v := range s.velocity {
		if v != nil {
			state.Velocity[i] = append([]float64(nil), v...)
		}
	}
	return state
}

// LoadState Restores state produced by State
func (s *SGD) LoadState(state SolverState) error {
	if state.Kind != SolverSGD {
		return fmt.Errorf("can't load '%s' state into SGD", state.Kind)
	}
	s.LearnRate = state.LearnRate
	s.Momentum = state.Momentum
	s.WeightDecay = state.WeightDecay
	s.steps = state.Steps
	s.velocity = make([][]float64, len(state.Velocity))
	for i, v := range state.Velocity {
		if v != nil {
			s.velocity[i] = append([]float64(nil), v...)
		}
	}
	return nil
}

// NewSolver Builds solver described by configuration
func NewSolver(cfg TrainConfig) (gorgonia.Solver, error) {
	switch cfg.Optimizer {
	case SolverSGD, "":
		return NewSGD(cfg.LearningRate, cfg.Momentum, cfg.WeightDecay), nil
	case SolverMomentum:
		return gorgonia.NewMomentum(gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithMomentum(cfg.Momentum), gorgonia.WithL2Reg(cfg.WeightDecay)), nil
	case SolverAdam:
		return gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithL2Reg(cfg.WeightDecay)), nil
	case SolverRMSProp:
		return gorgonia.NewRMSPropSolver(gorgonia.WithLearnRate(cfg.LearningRate), gorgonia.WithL2Reg(cfg.WeightDecay)), nil
	default:
		return nil, fmt.Errorf("optimizer '%s' is not supported", cfg.Optimizer)
	}
}

// SolverStateOf Returns full state for SGD and hyperparameters for any other solver
func SolverStateOf(solver gorgonia.Solver, cfg TrainConfig) SolverState {
	if sgd, ok := solver.(*SGD); ok {
		return sgd.State()
	}
	return SolverState{
		Kind:        cfg.Optimizer,
		LearnRate:   cfg.LearningRate,
		Momentum:    cfg.Momentum,
		WeightDecay: cfg.WeightDecay,
	}
}

func float64Data(v gorgonia.Value) ([]float64, error) {
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("expected *tensor.Dense, got %T", v)
	}
	data, ok := d.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("expected float64 data, got %v", d.Dtype())
	}
	return data, nil
}

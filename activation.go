package cnn_go

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

const (
	ActivationNone      = "none"
	ActivationLeakyRelu = "leaky_relu"
	ActivationRelu      = "relu"
	ActivationTanh      = "tanh"
	ActivationSigmoid   = "sigmoid"
)

func NoActivation(a *gorgonia.Node) (*gorgonia.Node, error) { return a, nil }
func Rectify(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }
func Tanh(a *gorgonia.Node) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }

// LeakyRelu Returns leaky ReLU with provided slope for negative inputs
func LeakyRelu(alpha float64) ActivationFunc {
	return func(a *gorgonia.Node) (*gorgonia.Node, error) {
		return gorgonia.LeakyRelu(a, alpha)
	}
}

// ActivationByName Resolves activation from its config name. Slope is used by leaky ReLU only.
func ActivationByName(name string, slope float64) (ActivationFunc, error) {
	switch name {
	case ActivationNone:
		return NoActivation, nil
	case ActivationLeakyRelu:
		return LeakyRelu(slope), nil
	case ActivationRelu:
		return Rectify, nil
	case ActivationTanh:
		return Tanh, nil
	case ActivationSigmoid:
		return Sigmoid, nil
	default:
		return nil, fmt.Errorf("activation '%s' is not supported", name)
	}
}

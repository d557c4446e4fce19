package cnn_go

import (
	"fmt"
)

// Layer Descriptor of single step of the feedforward.
// Parameters are referenced by name, values live in the model's parameter store.
type Layer struct {
	Name       string
	Type       LayerType
	Activation ActivationFunc

	WeightName string
	BiasName   string
	// Batch normalization buffers
	RunningMeanName string
	RunningVarName  string

	// Channels for convolution and batch normalization, features for linear layers
	InFeatures  int
	OutFeatures int

	KernelSize  int
	Padding     int
	Stride      int
	Probability float64
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerMaxpool
	LayerBatchNorm
	LayerDropout
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv1d"
	case LayerMaxpool:
		return "maxpool1d"
	case LayerBatchNorm:
		return "batchnorm1d"
	case LayerDropout:
		return "dropout"
	default:
		return fmt.Sprintf("LayerType(%d)", uint16(lt))
	}
}

var (
	allowedNoWeights = []LayerType{LayerMaxpool, LayerFlatten, LayerDropout}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// ConvBlock Convolution -> activation -> max pooling -> batch normalization -> dropout, applied as one unit.
// Channel count flows from one block's OutChannels into next block's InChannels.
type ConvBlock struct {
	Index       int
	InChannels  int
	OutChannels int
	// Sequence length before the block and the declared length after pooling
	InLength  int
	OutLength int

	Conv *Layer
	Pool *Layer
	Norm *Layer
	Drop *Layer
}

// Layers Returns block layers in application order
func (b *ConvBlock) Layers() []*Layer {
	return []*Layer{b.Conv, b.Pool, b.Norm, b.Drop}
}

// buildBlocks Turns configuration into ordered block descriptors
func buildBlocks(cfg ModelConfig, activation ActivationFunc) []*ConvBlock {
	blocks := make([]*ConvBlock, 0, cfg.ConvBlocks)
	prevChannels := cfg.InChannels
	length := cfg.InLength
	for i := 0; i < cfg.ConvBlocks; i++ {
		outChannels := cfg.Dims[i]
		prefix := fmt.Sprintf("block%d", i)
		block := &ConvBlock{
			Index:       i,
			InChannels:  prevChannels,
			OutChannels: outChannels,
			InLength:    length,
			OutLength:   length / 2,
			Conv: &Layer{
				Name:        prefix + ".conv",
				Type:        LayerConvolutional,
				Activation:  activation,
				WeightName:  prefix + ".conv.weight",
				BiasName:    prefix + ".conv.bias",
				InFeatures:  prevChannels,
				OutFeatures: outChannels,
				KernelSize:  cfg.KernelSize,
				Padding:     cfg.Padding,
				Stride:      cfg.Stride,
			},
			Pool: &Layer{
				Name:        prefix + ".pool",
				Type:        LayerMaxpool,
				Activation:  NoActivation,
				InFeatures:  outChannels,
				OutFeatures: outChannels,
				KernelSize:  2,
				Padding:     0,
				Stride:      2,
			},
			Norm: &Layer{
				Name:            prefix + ".norm",
				Type:            LayerBatchNorm,
				Activation:      NoActivation,
				WeightName:      prefix + ".norm.weight",
				BiasName:        prefix + ".norm.bias",
				RunningMeanName: prefix + ".norm.running_mean",
				RunningVarName:  prefix + ".norm.running_var",
				InFeatures:      outChannels,
				OutFeatures:     outChannels,
			},
			Drop: &Layer{
				Name:        prefix + ".drop",
				Type:        LayerDropout,
				Activation:  NoActivation,
				InFeatures:  outChannels,
				OutFeatures: outChannels,
				Probability: cfg.Dropout,
			},
		}
		blocks = append(blocks, block)
		prevChannels = outChannels
		length /= 2
	}
	return blocks
}

// buildHead Flatten followed by fully-connected layers. The last one has no activation and produces logits.
func buildHead(cfg ModelConfig, activation ActivationFunc) []*Layer {
	head := []*Layer{{
		Name:       "flatten",
		Type:       LayerFlatten,
		Activation: NoActivation,
	}}
	sizes := append(append([]int{}, cfg.HiddenSizes...), cfg.NumClasses)
	in := cfg.DeclaredFlattenSize()
	for i, out := range sizes {
		name := fmt.Sprintf("fc%d", i+1)
		act := activation
		if i == len(sizes)-1 {
			act = NoActivation
		}
		head = append(head, &Layer{
			Name:        name,
			Type:        LayerLinear,
			Activation:  act,
			WeightName:  name + ".weight",
			BiasName:    name + ".bias",
			InFeatures:  in,
			OutFeatures: out,
		})
		in = out
	}
	return head
}

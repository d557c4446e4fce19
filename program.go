package cnn_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// programKey Identifies compiled graph. Criterion must be comparable.
type programKey struct {
	batchSize int
	training  bool
	criterion Criterion
	l1Lambda  float64
}

// dropoutMask Input node fed with fresh mask before every run
type dropoutMask struct {
	node *gorgonia.Node
	prob float64
}

// normStats Batch statistics of single batch normalization layer, read back after every run
type normStats struct {
	layer    *Layer
	count    int
	mean     gorgonia.Value
	variance gorgonia.Value
}

type boundParam struct {
	node  *gorgonia.Node
	param *Param
}

// program Expression graph of the model compiled for one batch size and mode.
//
// In training mode batch normalization uses batch statistics and dropout masks are inputs;
// in evaluation mode running statistics are inputs and dropout is skipped.
// When criterion is provided the graph ends with a cost node (and its gradients in training mode).
//
type program struct {
	model     *Model
	batchSize int
	training  bool

	graph  *gorgonia.ExprGraph
	vm     gorgonia.VM
	input  *gorgonia.Node
	target *gorgonia.Node

	nodes      map[string]*gorgonia.Node
	bound      []*boundParam
	learnables gorgonia.Nodes
	masks      []*dropoutMask
	norms      []*normStats

	logits gorgonia.Value
	cost   gorgonia.Value
}

// compile Builds the graph by walking the layers in order
func (m *Model) compile(batchSize int, training bool, criterion Criterion, l1Lambda float64) (*program, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	g := gorgonia.NewGraph()
	p := &program{
		model:     m,
		batchSize: batchSize,
		training:  training,
		graph:     g,
		nodes:     make(map[string]*gorgonia.Node),
	}
	for _, prm := range m.params.All() {
		// Running statistics are consumed in evaluation mode only
		if training && !prm.Learnable {
			continue
		}
		n := gorgonia.NewTensor(g, tensor.Float64, prm.Value.Dims(), gorgonia.WithShape(prm.Value.Shape()...), gorgonia.WithName(prm.Name), gorgonia.WithValue(prm.Value))
		p.nodes[prm.Name] = n
		p.bound = append(p.bound, &boundParam{node: n, param: prm})
		if prm.Learnable {
			p.learnables = append(p.learnables, n)
		}
	}

	p.input = gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(batchSize, m.cfg.InChannels, 1, m.cfg.InLength), gorgonia.WithName("input"))
	lastActivated := p.input
	for i, l := range m.Layers() {
		if l == nil {
			return nil, fmt.Errorf("%s layer #%d is nil", m.Name, i)
		}
		if l.WeightName == "" && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("%s layer's #%d (%s) weights are not defined", m.Name, i, l.Name)
		}
		nonActivated, err := p.fwd(l, lastActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d %s] Can't feedforward input before activation", m.Name, i, l.Name))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%s", m.Name, l.Name))(nonActivated)
		activation := l.Activation
		if activation == nil {
			activation = NoActivation
		}
		activated, err := activation(nonActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of %s layer #%d (%s)", m.Name, i, l.Name))
		}
		gorgonia.WithName(fmt.Sprintf("%s_activated_%s", m.Name, l.Name))(activated)
		lastActivated = activated
	}
	gorgonia.Read(lastActivated, &p.logits)

	if criterion != nil {
		p.target = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(batchSize, m.cfg.NumClasses), gorgonia.WithName("target"))
		cost, err := criterion.Loss(lastActivated, p.target)
		if err != nil {
			return nil, errors.Wrap(err, "Can't build loss")
		}
		if l1Lambda > 0 {
			penalty, err := L1Penalty(p.learnables)
			if err != nil {
				return nil, errors.Wrap(err, "Can't build L1 penalty")
			}
			scaled, err := gorgonia.Mul(gorgonia.NewConstant(l1Lambda), penalty)
			if err != nil {
				return nil, errors.Wrap(err, "Can't scale L1 penalty")
			}
			if cost, err = gorgonia.Add(cost, scaled); err != nil {
				return nil, errors.Wrap(err, "Can't add L1 penalty to loss")
			}
		}
		gorgonia.WithName("cost")(cost)
		gorgonia.Read(cost, &p.cost)
		if training {
			if _, err := gorgonia.Grad(cost, p.learnables...); err != nil {
				return nil, errors.Wrap(err, "Can't define gradients")
			}
		}
	}

	if training && criterion != nil {
		p.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(p.learnables...))
	} else {
		p.vm = gorgonia.NewTapeMachine(g)
	}
	return p, nil
}

// fwd Applies single layer without its activation
func (p *program) fwd(l *Layer, x *gorgonia.Node) (*gorgonia.Node, error) {
	switch l.Type {
	case LayerConvolutional:
		// 1-D convolution as 2-D convolution over (N, C, 1, L) with 1xK kernel
		conv, err := gorgonia.Conv2d(x, p.nodes[l.WeightName], tensor.Shape{1, l.KernelSize}, []int{0, l.Padding}, []int{1, l.Stride}, []int{1, 1})
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[1D] input by kernel")
		}
		if b := p.nodes[l.BiasName]; b != nil {
			if conv, err = gorgonia.BroadcastAdd(conv, b, nil, []byte{0, 2, 3}); err != nil {
				return nil, errors.Wrap(err, "Can't add bias to convolution output")
			}
		}
		return conv, nil
	case LayerMaxpool:
		pooled, err := gorgonia.MaxPool2D(x, tensor.Shape{1, l.KernelSize}, []int{0, l.Padding}, []int{1, l.Stride})
		if err != nil {
			return nil, errors.Wrap(err, "Can't maxpool[1D] input")
		}
		return pooled, nil
	case LayerBatchNorm:
		return p.batchNorm(l, x)
	case LayerDropout:
		if !p.training || l.Probability <= 0 {
			return x, nil
		}
		mask := gorgonia.NewTensor(p.graph, tensor.Float64, x.Dims(), gorgonia.WithShape(x.Shape()...), gorgonia.WithName(l.Name+".mask"))
		p.masks = append(p.masks, &dropoutMask{node: mask, prob: l.Probability})
		dropped, err := gorgonia.HadamardProd(x, mask)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply dropout mask")
		}
		return dropped, nil
	case LayerFlatten:
		flat, err := gorgonia.Reshape(x, tensor.Shape{p.batchSize, x.Shape().TotalSize() / p.batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
		return flat, nil
	case LayerLinear:
		if x.Dims() != 2 || x.Shape()[1] != l.InFeatures {
			return nil, fmt.Errorf("shape mismatch: layer expects %d input features, got input of shape %v", l.InFeatures, x.Shape())
		}
		tOp, err := gorgonia.Transpose(p.nodes[l.WeightName])
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		out, err := gorgonia.Mul(x, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
		if b := p.nodes[l.BiasName]; b != nil {
			if p.batchSize < 2 {
				out, err = gorgonia.Add(out, b)
			} else {
				out, err = gorgonia.BroadcastAdd(out, b, nil, []byte{0})
			}
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't add bias [batch_size = %d]", p.batchSize))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
}

// batchNorm Per-channel normalization of (N, C, 1, L) input
func (p *program) batchNorm(l *Layer, x *gorgonia.Node) (*gorgonia.Node, error) {
	var err error
	pattern := []byte{0, 2, 3}
	channels := tensor.Shape{1, l.OutFeatures, 1, 1}
	var centered, variance *gorgonia.Node
	if p.training {
		batchMean, err := gorgonia.Mean(x, 0, 2, 3)
		if err != nil {
			return nil, errors.Wrap(err, "Can't compute batch mean")
		}
		mean, err := gorgonia.Reshape(batchMean, channels)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch mean")
		}
		if centered, err = gorgonia.BroadcastSub(x, mean, nil, pattern); err != nil {
			return nil, errors.Wrap(err, "Can't center input")
		}
		sqr, err := gorgonia.Square(centered)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x^2)")
		}
		batchVar, err := gorgonia.Mean(sqr, 0, 2, 3)
		if err != nil {
			return nil, errors.Wrap(err, "Can't compute batch variance")
		}
		if variance, err = gorgonia.Reshape(batchVar, channels); err != nil {
			return nil, errors.Wrap(err, "Can't reshape batch variance")
		}
		shp := x.Shape()
		stats := &normStats{layer: l, count: shp[0] * shp[2] * shp[3]}
		gorgonia.Read(batchMean, &stats.mean)
		gorgonia.Read(batchVar, &stats.variance)
		p.norms = append(p.norms, stats)
	} else {
		if centered, err = gorgonia.BroadcastSub(x, p.nodes[l.RunningMeanName], nil, pattern); err != nil {
			return nil, errors.Wrap(err, "Can't center input")
		}
		variance = p.nodes[l.RunningVarName]
	}
	shifted, err := gorgonia.Add(variance, gorgonia.NewConstant(p.model.cfg.BatchNormEpsilon))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do √x")
	}
	normalized, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't normalize input")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normalized, p.nodes[l.WeightName], nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't scale normalized input")
	}
	out, err := gorgonia.BroadcastAdd(scaled, p.nodes[l.BiasName], nil, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't shift normalized input")
	}
	return out, nil
}

// run Feeds batch (and smoothed targets if graph has cost) and executes the tape.
// Caller must call reset once it has read the results.
func (p *program) run(x *tensor.Dense, targets *tensor.Dense) error {
	shp := x.Shape()
	if shp.Dims() != 3 || shp[0] != p.batchSize {
		return fmt.Errorf("program is compiled for batch size %d, got input of shape %v", p.batchSize, shp)
	}
	if x.IsView() {
		x = x.Materialize().(*tensor.Dense)
	}
	data, ok := x.Data().([]float64)
	if !ok {
		return fmt.Errorf("input must be float64, got %v", x.Dtype())
	}
	in := tensor.New(tensor.WithShape(shp[0], shp[1], 1, shp[2]), tensor.WithBacking(data))
	if err := gorgonia.Let(p.input, in); err != nil {
		return errors.Wrap(err, "Can't init input value")
	}
	if p.target != nil {
		if targets == nil {
			return fmt.Errorf("program has loss but no targets were provided")
		}
		if err := gorgonia.Let(p.target, targets); err != nil {
			return errors.Wrap(err, "Can't init target value")
		}
	}
	for _, bp := range p.bound {
		if err := gorgonia.Let(bp.node, bp.param.Value); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't bind parameter '%s'", bp.param.Name))
		}
	}
	for _, mk := range p.masks {
		if err := gorgonia.Let(mk.node, p.model.dropoutMask(mk.node.Shape(), mk.prob)); err != nil {
			return errors.Wrap(err, "Can't init dropout mask")
		}
	}
	if err := p.vm.RunAll(); err != nil {
		return errors.Wrap(err, "Can't run VM")
	}
	return nil
}

// step Applies solver to gradients of the last run and copies results back to the parameter store
func (p *program) step(solver gorgonia.Solver) error {
	if err := solver.Step(gorgonia.NodesToValueGrads(p.learnables)); err != nil {
		return errors.Wrap(err, "Can't make solver step")
	}
	for _, bp := range p.bound {
		if !bp.param.Learnable {
			continue
		}
		v, ok := bp.node.Value().(*tensor.Dense)
		if !ok || v == bp.param.Value {
			continue
		}
		copy(bp.param.Data(), v.Data().([]float64))
	}
	return nil
}

// updateRunningStats Moves running statistics towards batch statistics of the last run.
// Variance is stored unbiased.
func (p *program) updateRunningStats() error {
	if !p.training {
		return nil
	}
	momentum := p.model.cfg.BatchNormMomentum
	for _, stats := range p.norms {
		if stats.mean == nil || stats.variance == nil {
			return fmt.Errorf("batch statistics of %s were not computed", stats.layer.Name)
		}
		mean, ok := stats.mean.Data().([]float64)
		if !ok {
			return fmt.Errorf("batch mean of %s is not float64", stats.layer.Name)
		}
		variance, ok := stats.variance.Data().([]float64)
		if !ok {
			return fmt.Errorf("batch variance of %s is not float64", stats.layer.Name)
		}
		runningMean := p.model.params.Get(stats.layer.RunningMeanName).Data()
		runningVar := p.model.params.Get(stats.layer.RunningVarName).Data()
		if len(mean) != len(runningMean) || len(variance) != len(runningVar) {
			return fmt.Errorf("batch statistics of %s have %d channels, expected %d", stats.layer.Name, len(mean), len(runningMean))
		}
		unbias := 1.0
		if stats.count > 1 {
			unbias = float64(stats.count) / float64(stats.count-1)
		}
		floats.Scale(1-momentum, runningMean)
		floats.AddScaled(runningMean, momentum, mean)
		floats.Scale(1-momentum, runningVar)
		floats.AddScaled(runningVar, momentum*unbias, variance)
	}
	return nil
}

// logitsDense Returns copy of logits of the last run
func (p *program) logitsDense() (*tensor.Dense, error) {
	d, ok := p.logits.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("logits have unexpected type %T", p.logits)
	}
	return d.Clone().(*tensor.Dense), nil
}

// costValue Returns scalar loss of the last run
func (p *program) costValue() (float64, error) {
	if p.cost == nil {
		return 0, fmt.Errorf("program has no loss")
	}
	v, ok := p.cost.Data().(float64)
	if !ok {
		return 0, fmt.Errorf("loss has unexpected type %T", p.cost.Data())
	}
	return v, nil
}

func (p *program) reset() {
	p.vm.Reset()
}

func (p *program) close() {
	p.vm.Close()
}

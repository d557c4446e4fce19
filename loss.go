package cnn_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type LossReduction uint16

// Zero value is 'mean'
const (
	LossReductionMean = LossReduction(iota)
	LossReductionSum
)

// Criterion Classification objective over logits.
// Implementations must be comparable since compiled graphs are cached by criterion.
type Criterion interface {
	// Loss Builds scalar cost node from logits (batch, classes) and target distribution of the same shape
	Loss(logits, target *gorgonia.Node) (*gorgonia.Node, error)
	// Targets Turns integer labels into target distribution
	Targets(labels []int, numClasses int) (*tensor.Dense, error)
}

// CrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// Softmax is applied to logits inside the loss. With LabelSmoothing = eps the target of label y is (1-eps)*onehot(y) + eps/K.
// 'mean' reduction averages over samples, not over samples*classes.
type CrossEntropyLoss struct {
	LabelSmoothing float64
	Reduction      LossReduction
}

// Loss Implements Criterion
func (c CrossEntropyLoss) Loss(logits, target *gorgonia.Node) (*gorgonia.Node, error) {
	if logits.Dims() != 2 {
		return nil, fmt.Errorf("logits must be matrix, got shape %v", logits.Shape())
	}
	if !logits.Shape().Eq(target.Shape()) {
		return nil, fmt.Errorf("logits shape %v does not match target shape %v", logits.Shape(), target.Shape())
	}
	logProbs, err := LogSoftMax(logits)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Neg(logProbs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	hprod, err := gorgonia.HadamardProd(neg, target)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	sum, err := gorgonia.Sum(hprod)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sum(x)")
	}
	switch c.Reduction {
	case LossReductionSum:
		return sum, nil
	case LossReductionMean:
		batch := gorgonia.NewConstant(float64(logits.Shape()[0]))
		mean, err := gorgonia.Div(sum, batch)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x/N)")
		}
		return mean, nil
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", c.Reduction)
	}
}

// Targets Implements Criterion
func (c CrossEntropyLoss) Targets(labels []int, numClasses int) (*tensor.Dense, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be > 0 (got %d)", numClasses)
	}
	off := c.LabelSmoothing / float64(numClasses)
	on := 1 - c.LabelSmoothing + off
	data := make([]float64, len(labels)*numClasses)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d of sample %d is out of range [0, %d)", label, i, numClasses)
		}
		row := data[i*numClasses : (i+1)*numClasses]
		for j := range row {
			row[j] = off
		}
		row[label] = on
	}
	return tensor.New(tensor.WithShape(len(labels), numClasses), tensor.WithBacking(data)), nil
}

// LogSoftMax Row-wise log(softmax(x)) of (batch, classes) matrix via log-sum-exp:
//
// m = max(x, 1)
// log_softmax(x) = (x - m) - log(sum(exp(x - m), 1))
//
// gorgonia.SoftMax backpropagates into the first row only, so it can't be used for batches.
func LogSoftMax(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 2 {
		return nil, fmt.Errorf("log-softmax expects matrix, got shape %v", x.Shape())
	}
	rowPattern := []byte{1}
	rowMax, err := gorgonia.Max(x, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x, 1)")
	}
	shifted, err := gorgonia.BroadcastSub(x, rowMax, nil, rowPattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-m)")
	}
	exp, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do exp(x)")
	}
	sum, err := gorgonia.Sum(exp, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sum(x, 1)")
	}
	lse, err := gorgonia.Log(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(x)")
	}
	out, err := gorgonia.BroadcastSub(shifted, lse, nil, rowPattern)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-lse)")
	}
	return out, nil
}

// L1Penalty Sum of absolute values of provided nodes. See ref. https://en.wikipedia.org/wiki/Lasso_(statistics)
func L1Penalty(nodes gorgonia.Nodes) (*gorgonia.Node, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes provided")
	}
	var total *gorgonia.Node
	for _, n := range nodes {
		abs, err := gorgonia.Abs(n)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do |x|")
		}
		sum, err := gorgonia.Sum(abs)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do sum(x)")
		}
		if total == nil {
			total = sum
			continue
		}
		if total, err = gorgonia.Add(total, sum); err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	return total, nil
}

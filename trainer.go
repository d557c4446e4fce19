package cnn_go

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gorgonia.org/gorgonia"
	"k8s.io/klog/v2"
)

// Trainer Drives epochs of model over batch sources.
//
// Model - network being trained
// Solver - updates learnable parameters after every batch
// Criterion - objective (smoothed cross-entropy by default)
// L1Lambda - weight of L1 penalty in objective; zero disables it
// Progress - show per-batch progress bar on stderr
//
type Trainer struct {
	Model     *Model
	Solver    gorgonia.Solver
	Criterion Criterion
	L1Lambda  float64
	Progress  bool
}

// NewTrainer Builds trainer for model with solver and criterion described by configuration
func NewTrainer(model *Model, cfg TrainConfig) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Can't build trainer")
	}
	solver, err := NewSolver(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build solver")
	}
	return &Trainer{
		Model:     model,
		Solver:    solver,
		Criterion: CrossEntropyLoss{LabelSmoothing: cfg.LabelSmoothing, Reduction: LossReductionMean},
		L1Lambda:  cfg.L1Lambda,
		Progress:  cfg.Progress,
	}, nil
}

// TrainEpoch Single pass over src in training mode. Solver is stepped after every batch.
func (t *Trainer) TrainEpoch(ctx context.Context, src BatchSource) (EpochResult, error) {
	t.Model.Train()
	return t.pass(ctx, src, true, "train")
}

// Evaluate Single pass over src in evaluation mode. Parameters are left untouched.
func (t *Trainer) Evaluate(ctx context.Context, src BatchSource) (EpochResult, error) {
	t.Model.Eval()
	return t.pass(ctx, src, false, "eval")
}

// Fit Runs epochs of training, each followed by validation. History holds completed epochs only.
func (t *Trainer) Fit(ctx context.Context, train, val BatchSource, epochs int) (*History, error) {
	if epochs < 0 {
		return nil, fmt.Errorf("number of epochs must be >= 0 (got %d)", epochs)
	}
	hist := &History{}
	for epoch := 0; epoch < epochs; epoch++ {
		trainRes, err := t.TrainEpoch(ctx, train)
		if err != nil {
			return hist, errors.Wrap(err, fmt.Sprintf("[Epoch #%d] Can't train", epoch))
		}
		valRes, err := t.Evaluate(ctx, val)
		if err != nil {
			return hist, errors.Wrap(err, fmt.Sprintf("[Epoch #%d] Can't validate", epoch))
		}
		hist.Append(trainRes, valRes)
		klog.Infof("epoch=%d/%d train: %s val: %s", epoch+1, epochs, trainRes, valRes)
	}
	return hist, nil
}

func (t *Trainer) pass(ctx context.Context, src BatchSource, training bool, desc string) (EpochResult, error) {
	if src == nil {
		return EpochResult{}, fmt.Errorf("batch source is nil")
	}
	src.Reset()
	var bar *progressbar.ProgressBar
	if t.Progress {
		bar = progressbar.NewOptions(src.NumBatches(),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
	}
	totalLoss, correct, seen := 0.0, 0, 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return EpochResult{}, err
		}
		batch, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return EpochResult{}, errors.Wrap(err, fmt.Sprintf("Can't read batch #%d", i))
		}
		loss, hits, err := t.batchStep(batch, training)
		if err != nil {
			return EpochResult{}, errors.Wrap(err, fmt.Sprintf("[Batch #%d] Can't process", i))
		}
		klog.V(2).Infof("mode=%s batch=%d size=%d loss=%.4f", desc, i, batch.Size(), loss)
		totalLoss += loss * float64(batch.Size())
		correct += hits
		seen += batch.Size()
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if seen == 0 {
		return EpochResult{}, fmt.Errorf("batch source yielded no samples")
	}
	return EpochResult{
		Loss:     totalLoss / float64(seen),
		Accuracy: float64(correct) / float64(seen),
	}, nil
}

// batchStep Runs graph with cost on single batch. Returns mean loss and number of correct predictions.
func (t *Trainer) batchStep(batch *Batch, training bool) (float64, int, error) {
	m := t.Model
	if err := m.checkInput(batch.Inputs); err != nil {
		return 0, 0, err
	}
	targets, err := t.Criterion.Targets(batch.Labels, m.cfg.NumClasses)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't build targets")
	}
	prog, err := m.program(batch.Size(), training, t.Criterion, t.L1Lambda)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't compile graph")
	}
	defer prog.reset()
	if err := prog.run(batch.Inputs, targets); err != nil {
		return 0, 0, err
	}
	loss, err := prog.costValue()
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't read loss")
	}
	logits, err := prog.logitsDense()
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't read logits")
	}
	hits, err := countCorrect(logits, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	if !training {
		return loss, hits, nil
	}
	if err := prog.step(t.Solver); err != nil {
		return 0, 0, err
	}
	if err := prog.updateRunningStats(); err != nil {
		return 0, 0, errors.Wrap(err, "Can't update running statistics")
	}
	return loss, hits, nil
}

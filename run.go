package cnn_go

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Run Trains model on splits for cfg.Train.Epochs epochs, evaluates it on test split
// and writes checkpoint to cfg.Train.CheckpointPath. Nothing is written if run fails or ctx is cancelled.
func Run(ctx context.Context, cfg Config, splits *Splits, rs *RandSource) (*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}
	if splits == nil || splits.Train == nil || splits.Val == nil || splits.Test == nil {
		return nil, fmt.Errorf("train, validation and test splits are required")
	}
	if rs == nil {
		return nil, fmt.Errorf("random source is nil")
	}
	model, err := NewModel(cfg.Model, rs)
	if err != nil {
		return nil, err
	}
	defer model.Close()
	klog.Infof("model=%s parameters=%s flatten_size=%d", model.Name, humanize.Comma(int64(model.NumParameters())), model.FlattenSize())

	trainer, err := NewTrainer(model, cfg.Train)
	if err != nil {
		return nil, err
	}
	trainLoader, err := NewDataLoader(splits.Train, cfg.Train.BatchSize, cfg.Train.Shuffle, rs.Shuffle)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build train loader")
	}
	valLoader, err := NewDataLoader(splits.Val, cfg.Train.BatchSize, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build validation loader")
	}
	testLoader, err := NewDataLoader(splits.Test, cfg.Train.BatchSize, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build test loader")
	}

	klog.Infof("epochs=%d batch_size=%d optimizer=%s lr=%g train=%d val=%d test=%d", cfg.Train.Epochs, cfg.Train.BatchSize, cfg.Train.Optimizer, cfg.Train.LearningRate, splits.Train.DataLength, splits.Val.DataLength, splits.Test.DataLength)
	hist, err := trainer.Fit(ctx, trainLoader, valLoader, cfg.Train.Epochs)
	if err != nil {
		return nil, err
	}
	test, err := trainer.Evaluate(ctx, testLoader)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate on test split")
	}
	klog.Infof("test_loss=%.4f test_acc=%.4f", test.Loss, test.Accuracy)

	ckpt := NewCheckpoint(model, SolverStateOf(trainer.Solver, cfg.Train), hist, test)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Train.CheckpointPath != "" {
		size, err := ckpt.Save(cfg.Train.CheckpointPath)
		if err != nil {
			return nil, errors.Wrap(err, "Can't save checkpoint")
		}
		klog.Infof("checkpoint=%s size=%s", cfg.Train.CheckpointPath, humanize.Bytes(uint64(size)))
	}
	if cfg.Train.PlotPath != "" && hist.Len() > 0 {
		if err := os.MkdirAll(filepath.Dir(cfg.Train.PlotPath), 0755); err != nil {
			klog.Warningf("Can't create plot directory: %v", err)
		} else if err := PlotHistory(hist, cfg.Train.PlotPath); err != nil {
			klog.Warningf("Can't plot history: %v", err)
		}
	}
	return ckpt, nil
}

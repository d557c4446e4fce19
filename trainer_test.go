package cnn_go

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticSplits(t *testing.T, cfg Config) *Splits {
	splits, err := LoadSplits(cfg.Data, cfg.Model, SeedEverything(cfg.Train.Seed))
	require.NoError(t, err)
	return splits
}

func TestTrainerFit(t *testing.T) {
	cfg := smallConfig(t)
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)

	rs := SeedEverything(0)
	train, err := NewDataLoader(splits.Train, cfg.Train.BatchSize, true, rs.Shuffle)
	require.NoError(t, err)
	val, err := NewDataLoader(splits.Val, cfg.Train.BatchSize, false, nil)
	require.NoError(t, err)

	before := model.StateDict()
	hist, err := trainer.Fit(context.Background(), train, val, 2)
	require.NoError(t, err)
	require.Equal(t, 2, hist.Len())
	for _, series := range [][]float64{hist.TrainLoss, hist.TrainAccuracy, hist.ValLoss, hist.ValAccuracy} {
		require.Len(t, series, 2)
		for _, v := range series {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
	for _, acc := range append(hist.TrainAccuracy, hist.ValAccuracy...) {
		assert.GreaterOrEqual(t, acc, 0.0)
		assert.LessOrEqual(t, acc, 1.0)
	}
	assert.NotEqual(t, before["fc1.weight"].Data(), model.Params().Get("fc1.weight").Data())
	assert.NotEqual(t, before["block0.norm.running_mean"].Data(), model.Params().Get("block0.norm.running_mean").Data())

	state := SolverStateOf(trainer.Solver, cfg.Train)
	assert.Equal(t, 2*train.NumBatches(), state.Steps)
	assert.Len(t, state.Velocity, len(model.Params().Learnables()))
}

func TestTrainerEvaluateLeavesParameters(t *testing.T) {
	cfg := smallConfig(t)
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)
	loader, err := NewDataLoader(splits.Test, 4, false, nil)
	require.NoError(t, err)

	before := model.StateDict()
	res, err := trainer.Evaluate(context.Background(), loader)
	require.NoError(t, err)
	assert.False(t, model.Training())
	assert.Greater(t, res.Loss, 0.0)
	for name, v := range model.StateDict() {
		assert.Equal(t, before[name].Data(), v.Data(), name)
	}

	// Same pass twice gives the same result
	again, err := trainer.Evaluate(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestTrainerWithL1(t *testing.T) {
	cfg := smallConfig(t)
	splits := syntheticSplits(t, cfg)
	loader, err := NewDataLoader(splits.Test, 4, false, nil)
	require.NoError(t, err)

	plain := newTestModel(t, cfg.Model, 0)
	plainTrainer, err := NewTrainer(plain, cfg.Train)
	require.NoError(t, err)
	plainRes, err := plainTrainer.Evaluate(context.Background(), loader)
	require.NoError(t, err)

	cfg.Train.L1Lambda = 1e-3
	penalized := newTestModel(t, cfg.Model, 0)
	penalizedTrainer, err := NewTrainer(penalized, cfg.Train)
	require.NoError(t, err)
	penalizedRes, err := penalizedTrainer.Evaluate(context.Background(), loader)
	require.NoError(t, err)
	assert.InDelta(t, plainRes.Loss+1e-3*penalized.L1Loss(), penalizedRes.Loss, 1e-9)
}

func TestTrainerCancelled(t *testing.T) {
	cfg := smallConfig(t)
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)
	loader, err := NewDataLoader(splits.Train, cfg.Train.BatchSize, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.TrainEpoch(ctx, loader)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckpointRestore(t *testing.T) {
	cfg := smallConfig(t)
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)
	train, err := NewDataLoader(splits.Train, cfg.Train.BatchSize, false, nil)
	require.NoError(t, err)
	_, err = trainer.TrainEpoch(context.Background(), train)
	require.NoError(t, err)

	model.Eval()
	x := splits.Test.Data
	expected, err := model.Forward(x)
	require.NoError(t, err)

	hist := &History{}
	hist.Append(EpochResult{Loss: 1.2, Accuracy: 0.5}, EpochResult{Loss: 1.3, Accuracy: 0.4})
	ckpt := NewCheckpoint(model, SolverStateOf(trainer.Solver, cfg.Train), hist, EpochResult{Loss: 1.1, Accuracy: 0.6})
	path := filepath.Join(t.TempDir(), "nested", "ckpt.gob")
	size, err := ckpt.Save(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, loaded.TestAccuracy)
	assert.Equal(t, *hist, loaded.TrainHist)
	assert.Equal(t, SolverSGD, loaded.OptimizerStateDict.Kind)
	assert.Equal(t, cfg.Model, loaded.ModelConfig)
	require.Len(t, loaded.ModelStateDict, len(ckpt.ModelStateDict))
	for name, d := range ckpt.ModelStateDict {
		got, ok := loaded.ModelStateDict[name]
		require.True(t, ok, name)
		assert.Equal(t, d.Shape(), got.Shape(), name)
		assert.Equal(t, d.Data(), got.Data(), name)
	}

	restored, err := NewModelFromCheckpoint(loaded, SeedEverything(99))
	require.NoError(t, err)
	t.Cleanup(restored.Close)
	got, err := restored.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, expected.Data(), got.Data())

	// No temporary files are left next to checkpoint
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTrainerSGDStep(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.Dropout = 0
	cfg.Train.Optimizer = SolverSGD
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)

	set := splits.Train
	targets, err := trainer.Criterion.Targets(set.Labels, cfg.Model.NumClasses)
	require.NoError(t, err)
	prog, err := model.program(set.DataLength, true, trainer.Criterion, trainer.L1Lambda)
	require.NoError(t, err)
	names := []string{"fc2.bias", "fc1.weight", "block0.conv.weight", "block1.norm.bias"}
	grads := parameterGrads(t, prog, set.Data, targets, names...)
	before := model.StateDict()

	// Whole set as one batch: exactly one solver step
	loader, err := NewDataLoader(set, set.DataLength, false, nil)
	require.NoError(t, err)
	_, err = trainer.TrainEpoch(context.Background(), loader)
	require.NoError(t, err)

	lr, wd := cfg.Train.LearningRate, cfg.Train.WeightDecay
	for _, name := range names {
		w0 := before[name].Data().([]float64)
		w1 := model.Params().Get(name).Data()
		for j := range w0 {
			expected := w0[j] - lr*(grads[name][j]+wd*w0[j])
			assert.InDelta(t, expected, w1[j], 1e-12, "%s[%d]", name, j)
		}
	}
}

func TestTrainerLowersLoss(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.Dropout = 0
	cfg.Train.LearningRate = 0.05
	splits := syntheticSplits(t, cfg)
	model := newTestModel(t, cfg.Model, 0)
	trainer, err := NewTrainer(model, cfg.Train)
	require.NoError(t, err)
	loader, err := NewDataLoader(splits.Train, splits.Train.DataLength, false, nil)
	require.NoError(t, err)

	losses := make([]float64, 20)
	for i := range losses {
		res, err := trainer.TrainEpoch(context.Background(), loader)
		require.NoError(t, err)
		losses[i] = res.Loss
	}
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.Less(t, losses[len(losses)-1], 0.9*losses[0], "losses: %v", losses)
}

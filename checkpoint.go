package cnn_go

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Checkpoint Everything produced by training run
type Checkpoint struct {
	ModelStateDict     map[string]*tensor.Dense
	OptimizerStateDict SolverState
	TrainHist          History
	TestAccuracy       float64
	TestLoss           float64
	ModelConfig        ModelConfig
}

// NewCheckpoint Snapshots model parameters, solver state and results
func NewCheckpoint(model *Model, state SolverState, hist *History, test EpochResult) *Checkpoint {
	ckpt := &Checkpoint{
		ModelStateDict:     model.StateDict(),
		OptimizerStateDict: state,
		TestAccuracy:       test.Accuracy,
		TestLoss:           test.Loss,
		ModelConfig:        model.Config(),
	}
	if hist != nil {
		ckpt.TrainHist = *hist
	}
	return ckpt
}

// Save Writes gob encoded checkpoint to temporary file in the same directory and renames it to fname.
// Parameters are encoded by *tensor.Dense itself. Returns number of bytes written.
func (c *Checkpoint) Save(fname string) (int64, error) {
	dir := filepath.Dir(fname)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrap(err, "Can't create checkpoint directory")
	}
	f, err := os.CreateTemp(dir, filepath.Base(fname)+".tmp*")
	if err != nil {
		return 0, errors.Wrap(err, "Can't create temporary file")
	}
	tmp := f.Name()
	// Removing is no-op after successful rename
	defer os.Remove(tmp)
	if err := gob.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return 0, errors.Wrap(err, "Can't encode checkpoint")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, errors.Wrap(err, "Can't stat checkpoint")
	}
	if err := f.Close(); err != nil {
		return 0, errors.Wrap(err, "Can't close checkpoint")
	}
	if err := os.Rename(tmp, fname); err != nil {
		return 0, errors.Wrap(err, "Can't move checkpoint into place")
	}
	return info.Size(), nil
}

// LoadCheckpoint Reads checkpoint written by Save
func LoadCheckpoint(fname string) (*Checkpoint, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open checkpoint")
	}
	defer f.Close()
	ckpt := &Checkpoint{}
	if err := gob.NewDecoder(f).Decode(ckpt); err != nil {
		return nil, errors.Wrap(err, "Can't decode checkpoint")
	}
	return ckpt, nil
}

// Restore Copies stored parameters into model. Architecture must match.
func (c *Checkpoint) Restore(model *Model) error {
	return model.LoadStateDict(c.ModelStateDict)
}

// NewModelFromCheckpoint Builds model with stored architecture and parameters
func NewModelFromCheckpoint(c *Checkpoint, rs *RandSource) (*Model, error) {
	model, err := NewModel(c.ModelConfig, rs)
	if err != nil {
		return nil, err
	}
	if err := c.Restore(model); err != nil {
		return nil, errors.Wrap(err, "Can't restore parameters")
	}
	model.Eval()
	return model, nil
}

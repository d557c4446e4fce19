package cnn_go

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ModelConfig Architecture hyperparameters. Every parameter shape of the model is derived from these values.
type ModelConfig struct {
	InChannels int     `yaml:"in_channels"`
	InLength   int     `yaml:"in_length"`
	ConvBlocks int     `yaml:"conv_blocks"`
	Dims       []int   `yaml:"dims"`
	NumClasses int     `yaml:"num_classes"`
	KernelSize int     `yaml:"kernel_size"`
	Stride     int     `yaml:"stride"`
	Padding    int     `yaml:"padding"`
	Dropout    float64 `yaml:"dropout"`

	// FlattenSize is the declared number of input features of the first fully-connected layer.
	// Zero means it is derived from the other values.
	FlattenSize int   `yaml:"flatten_size"`
	HiddenSizes []int `yaml:"hidden_sizes"`

	Activation        string  `yaml:"activation"`
	LeakySlope        float64 `yaml:"leaky_slope"`
	BatchNormMomentum float64 `yaml:"batchnorm_momentum"`
	BatchNormEpsilon  float64 `yaml:"batchnorm_epsilon"`
}

// TrainConfig Optimization and run settings.
type TrainConfig struct {
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	Optimizer      string  `yaml:"optimizer"`
	LearningRate   float64 `yaml:"learning_rate"`
	Momentum       float64 `yaml:"momentum"`
	WeightDecay    float64 `yaml:"weight_decay"`
	LabelSmoothing float64 `yaml:"label_smoothing"`
	// L1Lambda scales the L1 penalty added to the objective. Zero leaves the objective untouched.
	L1Lambda       float64 `yaml:"l1_lambda"`
	Seed           int64   `yaml:"seed"`
	Shuffle        bool    `yaml:"shuffle"`
	Progress       bool    `yaml:"progress"`
	CheckpointPath string  `yaml:"checkpoint_path"`
	PlotPath       string  `yaml:"plot_path"`
}

// DataConfig Where the train/validation/test windows come from.
type DataConfig struct {
	Source           string  `yaml:"source"`
	Dir              string  `yaml:"dir"`
	Crop             int     `yaml:"crop"`
	LabelOffset      int     `yaml:"label_offset"`
	ValFraction      float64 `yaml:"val_fraction"`
	SyntheticSamples int     `yaml:"synthetic_samples"`
}

// Config Full run configuration
type Config struct {
	Model ModelConfig `yaml:"model"`
	Train TrainConfig `yaml:"train"`
	Data  DataConfig  `yaml:"data"`
}

const (
	DataSourceNPY       = "npy"
	DataSourceCSV       = "csv"
	DataSourceSynthetic = "synthetic"
)

// DefaultModelConfig Returns the reference architecture: 22x400 windows, three blocks of [64, 128, 256] filters, 4 classes
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InChannels:        22,
		InLength:          400,
		ConvBlocks:        3,
		Dims:              []int{64, 128, 256},
		NumClasses:        4,
		KernelSize:        11,
		Stride:            1,
		Padding:           5,
		Dropout:           0.5,
		HiddenSizes:       []int{128, 64},
		Activation:        ActivationLeakyRelu,
		LeakySlope:        0.01,
		BatchNormMomentum: 0.1,
		BatchNormEpsilon:  1e-5,
	}
}

// DefaultTrainConfig Returns the reference optimization settings
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:         50,
		BatchSize:      64,
		Optimizer:      SolverSGD,
		LearningRate:   1e-3,
		Momentum:       0.9,
		WeightDecay:    1e-2,
		LabelSmoothing: 0.1,
		Seed:           0,
		Shuffle:        true,
		Progress:       true,
		CheckpointPath: "weights/cnn_weights.gob",
		PlotPath:       "weights/cnn_history.png",
	}
}

// DefaultDataConfig Returns settings for the BCI competition IV 2a numpy export
func DefaultDataConfig() DataConfig {
	return DataConfig{
		Source:           DataSourceNPY,
		Dir:              "data",
		Crop:             400,
		LabelOffset:      769,
		ValFraction:      0.2,
		SyntheticSamples: 1024,
	}
}

// DefaultConfig Returns configuration of the reference run
func DefaultConfig() Config {
	return Config{
		Model: DefaultModelConfig(),
		Train: DefaultTrainConfig(),
		Data:  DefaultDataConfig(),
	}
}

// LoadConfig Reads YAML file and applies it on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "Can't parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate Checks every section
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(err, "model")
	}
	if err := c.Train.Validate(); err != nil {
		return errors.Wrap(err, "train")
	}
	if err := c.Data.Validate(); err != nil {
		return errors.Wrap(err, "data")
	}
	return nil
}

// Validate Verifies the architecture can be built.
// A declared FlattenSize is not checked here: a wrong value has to show up as a shape error on the first forward pass.
func (c ModelConfig) Validate() error {
	if c.InChannels <= 0 {
		return fmt.Errorf("in_channels must be > 0 (got %d)", c.InChannels)
	}
	if c.InLength <= 0 {
		return fmt.Errorf("in_length must be > 0 (got %d)", c.InLength)
	}
	if c.ConvBlocks <= 0 {
		return fmt.Errorf("conv_blocks must be > 0 (got %d)", c.ConvBlocks)
	}
	if len(c.Dims) != c.ConvBlocks {
		return fmt.Errorf("dims must have conv_blocks=%d entries (got %d)", c.ConvBlocks, len(c.Dims))
	}
	for i, d := range c.Dims {
		if d <= 0 {
			return fmt.Errorf("dims[%d] must be > 0 (got %d)", i, d)
		}
	}
	for i, h := range c.HiddenSizes {
		if h <= 0 {
			return fmt.Errorf("hidden_sizes[%d] must be > 0 (got %d)", i, h)
		}
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.KernelSize <= 0 {
		return fmt.Errorf("kernel_size must be > 0 (got %d)", c.KernelSize)
	}
	if c.Stride <= 0 {
		return fmt.Errorf("stride must be > 0 (got %d)", c.Stride)
	}
	if c.Padding < 0 {
		return fmt.Errorf("padding must be >= 0 (got %d)", c.Padding)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	if c.FlattenSize < 0 {
		return fmt.Errorf("flatten_size must be >= 0 (got %d)", c.FlattenSize)
	}
	if c.ReducedLength() < 1 {
		return fmt.Errorf("in_length=%d is too short for %d pooling halvings", c.InLength, c.ConvBlocks)
	}
	if _, err := ActivationByName(c.Activation, c.LeakySlope); err != nil {
		return err
	}
	if c.BatchNormMomentum <= 0 || c.BatchNormMomentum > 1 {
		return fmt.Errorf("batchnorm_momentum must be in (0, 1] (got %g)", c.BatchNormMomentum)
	}
	if c.BatchNormEpsilon <= 0 {
		return fmt.Errorf("batchnorm_epsilon must be > 0 (got %g)", c.BatchNormEpsilon)
	}
	return nil
}

// ReducedLength Sequence length after all pooling halvings: in_length / 2^conv_blocks
func (c ModelConfig) ReducedLength() int {
	if c.ConvBlocks >= 31 {
		return 0
	}
	return c.InLength / (1 << uint(c.ConvBlocks))
}

// DerivedFlattenSize Number of features produced by flattening the last block's output
func (c ModelConfig) DerivedFlattenSize() int {
	if len(c.Dims) == 0 {
		return 0
	}
	return c.Dims[len(c.Dims)-1] * c.ReducedLength()
}

// DeclaredFlattenSize Input size of the first fully-connected layer
func (c ModelConfig) DeclaredFlattenSize() int {
	if c.FlattenSize > 0 {
		return c.FlattenSize
	}
	return c.DerivedFlattenSize()
}

// Validate Verifies optimization settings
func (c TrainConfig) Validate() error {
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return fmt.Errorf("label_smoothing must be in [0, 1) (got %g)", c.LabelSmoothing)
	}
	if c.L1Lambda < 0 {
		return fmt.Errorf("l1_lambda must be >= 0 (got %g)", c.L1Lambda)
	}
	switch c.Optimizer {
	case SolverSGD, SolverMomentum, SolverAdam, SolverRMSProp:
	default:
		return fmt.Errorf("optimizer '%s' is not supported", c.Optimizer)
	}
	return nil
}

// Validate Verifies data settings
func (c DataConfig) Validate() error {
	switch c.Source {
	case DataSourceNPY, DataSourceCSV:
		if c.Dir == "" {
			return fmt.Errorf("dir must be set for source '%s'", c.Source)
		}
	case DataSourceSynthetic:
		if c.SyntheticSamples <= 0 {
			return fmt.Errorf("synthetic_samples must be > 0 (got %d)", c.SyntheticSamples)
		}
	default:
		return fmt.Errorf("source '%s' is not supported", c.Source)
	}
	if c.Crop < 0 {
		return fmt.Errorf("crop must be >= 0 (got %d)", c.Crop)
	}
	if c.ValFraction < 0 || c.ValFraction >= 1 {
		return fmt.Errorf("val_fraction must be in [0, 1) (got %g)", c.ValFraction)
	}
	return nil
}

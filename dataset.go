package cnn_go

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	npyTrainValidX = "X_train_valid.npy"
	npyTrainValidY = "y_train_valid.npy"
	npyTestX       = "X_test.npy"
	npyTestY       = "y_test.npy"
	csvTrainValid  = "train_valid.csv"
	csvTest        = "test.csv"
)

// Splits Train, validation and test windows of a run
type Splits struct {
	Train *TrainSet
	Val   *TrainSet
	Test  *TrainSet
}

// LoadSplits Reads (or generates) windows described by data settings and checks them against model input.
// Validation part is drawn from train_valid windows with rs.Shuffle.
func LoadSplits(dataCfg DataConfig, modelCfg ModelConfig, rs *RandSource) (*Splits, error) {
	if err := dataCfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Can't load data")
	}
	if rs == nil {
		return nil, fmt.Errorf("Can't load data: random source is nil")
	}
	var trainValid, test *TrainSet
	var err error
	switch dataCfg.Source {
	case DataSourceNPY:
		trainValid, err = loadNPYSet(filepath.Join(dataCfg.Dir, npyTrainValidX), filepath.Join(dataCfg.Dir, npyTrainValidY), dataCfg.LabelOffset)
		if err != nil {
			return nil, errors.Wrap(err, "Can't load train_valid windows")
		}
		test, err = loadNPYSet(filepath.Join(dataCfg.Dir, npyTestX), filepath.Join(dataCfg.Dir, npyTestY), dataCfg.LabelOffset)
		if err != nil {
			return nil, errors.Wrap(err, "Can't load test windows")
		}
	case DataSourceCSV:
		trainValid, err = ReadCSVSetFile(filepath.Join(dataCfg.Dir, csvTrainValid), modelCfg.InChannels, dataCfg.LabelOffset)
		if err != nil {
			return nil, errors.Wrap(err, "Can't load train_valid windows")
		}
		test, err = ReadCSVSetFile(filepath.Join(dataCfg.Dir, csvTest), modelCfg.InChannels, dataCfg.LabelOffset)
		if err != nil {
			return nil, errors.Wrap(err, "Can't load test windows")
		}
	case DataSourceSynthetic:
		length := modelCfg.InLength
		if dataCfg.Crop > length {
			length = dataCfg.Crop
		}
		trainValid, err = GenerateSyntheticSet(dataCfg.SyntheticSamples, modelCfg.InChannels, length, modelCfg.NumClasses, rs.Shuffle)
		if err != nil {
			return nil, errors.Wrap(err, "Can't generate train_valid windows")
		}
		testSamples := dataCfg.SyntheticSamples / 4
		if testSamples == 0 {
			testSamples = 1
		}
		test, err = GenerateSyntheticSet(testSamples, modelCfg.InChannels, length, modelCfg.NumClasses, rs.Shuffle)
		if err != nil {
			return nil, errors.Wrap(err, "Can't generate test windows")
		}
	}
	if trainValid, err = prepareSet(trainValid, dataCfg, modelCfg); err != nil {
		return nil, errors.Wrap(err, "Invalid train_valid windows")
	}
	if test, err = prepareSet(test, dataCfg, modelCfg); err != nil {
		return nil, errors.Wrap(err, "Invalid test windows")
	}
	train, val, err := trainValid.Split(dataCfg.ValFraction, rs.Shuffle)
	if err != nil {
		return nil, errors.Wrap(err, "Can't split train_valid windows")
	}
	if train.DataLength == 0 || val.DataLength == 0 {
		return nil, fmt.Errorf("split of %d windows with val_fraction=%g leaves empty part", trainValid.DataLength, dataCfg.ValFraction)
	}
	klog.V(1).Infof("source=%s train=%d val=%d test=%d channels=%d length=%d", dataCfg.Source, train.DataLength, val.DataLength, test.DataLength, train.Channels(), train.Length())
	return &Splits{Train: train, Val: val, Test: test}, nil
}

// prepareSet Crops windows and verifies they fit model input and classes
func prepareSet(set *TrainSet, dataCfg DataConfig, modelCfg ModelConfig) (*TrainSet, error) {
	var err error
	if dataCfg.Crop > 0 {
		if set, err = set.Crop(dataCfg.Crop); err != nil {
			return nil, err
		}
	}
	if set.Channels() != modelCfg.InChannels || set.Length() != modelCfg.InLength {
		return nil, fmt.Errorf("windows of shape (%d, %d) don't fit model input (%d, %d)", set.Channels(), set.Length(), modelCfg.InChannels, modelCfg.InLength)
	}
	for i, label := range set.Labels {
		if label < 0 || label >= modelCfg.NumClasses {
			return nil, fmt.Errorf("label %d of window %d is out of range [0, %d)", label, i, modelCfg.NumClasses)
		}
	}
	return set, nil
}

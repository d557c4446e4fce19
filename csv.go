package cnn_go

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// ReadCSVSet Reads windows stored one per row: label followed by channels*length samples in channel-major order.
// Labels are shifted by labelOffset.
func ReadCSVSet(r io.Reader, channels, labelOffset int) (*TrainSet, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be > 0 (got %d)", channels)
	}
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
	)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "Can't parse CSV")
	}
	rows, cols := df.Nrow(), df.Ncol()
	if rows == 0 {
		return nil, fmt.Errorf("CSV has no rows")
	}
	samples := cols - 1
	if samples <= 0 || samples%channels != 0 {
		return nil, fmt.Errorf("row of %d values can't hold label and %d channels", cols, channels)
	}
	length := samples / channels
	names := df.Names()
	labelCol := df.Col(names[0]).Float()
	labels := make([]int, rows)
	for i, v := range labelCol {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("row %d has non-numeric label", i)
		}
		labels[i] = int(math.Round(v)) - labelOffset
	}
	data := make([]float64, rows*samples)
	for j, name := range names[1:] {
		for i, v := range df.Col(name).Float() {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("row %d column %d is not numeric", i, j+1)
			}
			data[i*samples+j] = v
		}
	}
	return NewTrainSet(data, labels, channels, length)
}

// ReadCSVSetFile Reads windows from CSV file, see ReadCSVSet
func ReadCSVSetFile(fname string, channels, labelOffset int) (*TrainSet, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open file")
	}
	defer f.Close()
	set, err := ReadCSVSet(f, channels, labelOffset)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't read '%s'", fname))
	}
	return set, nil
}

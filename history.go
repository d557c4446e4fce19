package cnn_go

import (
	"fmt"
	"math"
)

// EpochResult Mean loss and accuracy over every sample seen during single pass
type EpochResult struct {
	Loss     float64
	Accuracy float64
}

func (r EpochResult) String() string {
	return fmt.Sprintf("loss=%.4f acc=%.4f", r.Loss, r.Accuracy)
}

// History Per-epoch metrics. Every slice has one entry per completed epoch.
type History struct {
	TrainLoss     []float64
	TrainAccuracy []float64
	ValLoss       []float64
	ValAccuracy   []float64
}

// Append Records results of single epoch
func (h *History) Append(train, val EpochResult) {
	h.TrainLoss = append(h.TrainLoss, train.Loss)
	h.TrainAccuracy = append(h.TrainAccuracy, train.Accuracy)
	h.ValLoss = append(h.ValLoss, val.Loss)
	h.ValAccuracy = append(h.ValAccuracy, val.Accuracy)
}

// Len Number of completed epochs
func (h *History) Len() int {
	return len(h.TrainLoss)
}

// BestValAccuracy Returns epoch index and value of the highest validation accuracy, (-1, NaN) for empty history
func (h *History) BestValAccuracy() (int, float64) {
	best, value := -1, math.NaN()
	for i, acc := range h.ValAccuracy {
		if best < 0 || acc > value {
			best, value = i, acc
		}
	}
	return best, value
}

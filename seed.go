package cnn_go

import (
	"math/rand"
)

// RandSource Independent pseudo-random streams of a run.
//
// Init - parameter initialization
// Dropout - dropout masks
// Shuffle - dataset splitting, shuffling and synthetic data
//
type RandSource struct {
	Init    *rand.Rand
	Dropout *rand.Rand
	Shuffle *rand.Rand
}

// SeedEverything Derives every random stream of a run from single seed. Call it once before building a model.
func SeedEverything(seed int64) *RandSource {
	master := rand.New(rand.NewSource(seed))
	return &RandSource{
		Init:    rand.New(rand.NewSource(master.Int63())),
		Dropout: rand.New(rand.NewSource(master.Int63())),
		Shuffle: rand.New(rand.NewSource(master.Int63())),
	}
}

// Package draw decides whether a single game attempt wins.
//
// A draw samples r uniformly from [0, 100) and wins iff r <= p, where p is the
// game's win probability in percent. p = 0 never wins and p = 100 always wins;
// the boundary is the same for every game kind.
package draw

import (
	"math"
	"math/rand/v2"

	"github.com/medreza/honcho-rewards/pkg/apperr"
)

// RNG yields uniform samples in [0, 1). *rand.Rand satisfies it.
type RNG interface {
	Float64() float64
}

type globalRNG struct{}

func (globalRNG) Float64() float64 { return rand.Float64() }

// Default is safe for concurrent use.
var Default RNG = globalRNG{}

// Validate checks that p is a percentage in [0, 100].
func Validate(winProbability float64) error {
	if math.IsNaN(winProbability) || winProbability < 0 || winProbability > 100 {
		return apperr.Validation("win probability %v outside [0, 100]", winProbability)
	}
	return nil
}

// Draw reports whether an attempt with the given win probability wins.
func Draw(winProbability float64, rng RNG) (bool, error) {
	if err := Validate(winProbability); err != nil {
		return false, err
	}
	switch {
	case winProbability == 0:
		return false, nil
	case winProbability == 100:
		return true, nil
	}
	r := rng.Float64() * 100
	return r <= winProbability, nil
}

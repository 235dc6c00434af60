package draw

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreza/honcho-rewards/pkg/apperr"
)

type fixedRNG float64

func (f fixedRNG) Float64() float64 { return float64(f) }

func TestDrawWinRateTracksProbability(t *testing.T) {
	const draws = 10000
	rng := rand.New(rand.NewPCG(42, 1024))

	for _, p := range []float64{25, 50, 75} {
		wins := 0
		for i := 0; i < draws; i++ {
			won, err := Draw(p, rng)
			require.NoError(t, err)
			if won {
				wins++
			}
		}
		rate := float64(wins) / draws * 100
		assert.InDelta(t, p, rate, 2, "p=%v observed %.2f%%", p, rate)
	}
}

func TestDrawBoundaries(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 10000; i++ {
		won, err := Draw(0, rng)
		require.NoError(t, err)
		require.False(t, won)

		won, err = Draw(100, rng)
		require.NoError(t, err)
		require.True(t, won)
	}

	// r == 0 would satisfy r <= 0, p = 0 still never wins.
	won, err := Draw(0, fixedRNG(0))
	require.NoError(t, err)
	assert.False(t, won)
}

func TestDrawInclusiveThreshold(t *testing.T) {
	won, err := Draw(50, fixedRNG(0.5))
	require.NoError(t, err)
	assert.True(t, won)

	won, err = Draw(50, fixedRNG(0.5000001))
	require.NoError(t, err)
	assert.False(t, won)

	won, err = Draw(33.33, fixedRNG(0.3332))
	require.NoError(t, err)
	assert.True(t, won)
}

func TestDrawRejectsInvalidProbability(t *testing.T) {
	for _, p := range []float64{-0.01, 100.01, math.NaN(), math.Inf(1)} {
		_, err := Draw(p, Default)
		assert.ErrorIs(t, err, apperr.ErrValidation, "p=%v", p)
	}
}

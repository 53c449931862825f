package actuator

import (
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-swarm/pkg/radio"
)

// Personality parameterizes patrol motion so each cube moves in a visibly
// different way. Left = base + turn, right = base - turn.
type Personality struct {
	BaseMin, BaseMax     int           // Base speed range
	Turn                 int           // Turn offset drawn from [-Turn, Turn]
	RepeatMin, RepeatMax time.Duration // Hold time between commands

	PauseChance        float64 // Probability of a standstill instead of a move
	PauseMin, PauseMax time.Duration
}

// DefaultPersonalities returns the table used on the demo mat.
func DefaultPersonalities() map[int]Personality {
	return map[int]Personality{
		// 0: fast and straight
		0: {BaseMin: 15, BaseMax: 40, Turn: 10, RepeatMin: 100 * time.Millisecond, RepeatMax: 200 * time.Millisecond},
		// 1: spins
		1: {BaseMin: 10, BaseMax: 25, Turn: 25, RepeatMin: 200 * time.Millisecond, RepeatMax: 300 * time.Millisecond},
		// 2: cautious, stops now and then
		2: {
			BaseMin: 5, BaseMax: 20, Turn: 15,
			RepeatMin: 300 * time.Millisecond, RepeatMax: 400 * time.Millisecond,
			PauseChance: 0.1, PauseMin: 500 * time.Millisecond, PauseMax: time.Second,
		},
	}
}

// DefaultPersonality applies to ids missing from the table.
func DefaultPersonality() Personality {
	return Personality{BaseMin: 20, BaseMax: 40, Turn: 20, RepeatMin: 400 * time.Millisecond, RepeatMax: 500 * time.Millisecond}
}

// Move is one patrol command and how long to hold it.
type Move struct {
	Left  int
	Right int
	Hold  time.Duration
}

// Next draws the next patrol move.
func (p Personality) Next(rng *rand.Rand) Move {
	if p.PauseChance > 0 && rng.Float64() < p.PauseChance {
		return Move{Hold: between(rng, p.PauseMin, p.PauseMax)}
	}

	base := intBetween(rng, p.BaseMin, p.BaseMax)
	turn := intBetween(rng, -p.Turn, p.Turn)
	return Move{
		Left:  radio.ClampSpeed(base + turn),
		Right: radio.ClampSpeed(base - turn),
		Hold:  between(rng, p.RepeatMin, p.RepeatMax),
	}
}

func intBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}

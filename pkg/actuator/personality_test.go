package actuator

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPersonality_NextWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for id, p := range DefaultPersonalities() {
		pauses := 0
		for i := 0; i < 1000; i++ {
			mv := p.Next(rng)
			if mv.Left == 0 && mv.Right == 0 && p.PauseChance > 0 {
				pauses++
				assert.GreaterOrEqual(t, mv.Hold, p.PauseMin)
				assert.LessOrEqual(t, mv.Hold, p.PauseMax)
				continue
			}
			base := (mv.Left + mv.Right) / 2
			turn := (mv.Left - mv.Right) / 2
			assert.GreaterOrEqual(t, base, p.BaseMin, "personality %d", id)
			assert.LessOrEqual(t, base, p.BaseMax, "personality %d", id)
			assert.LessOrEqual(t, turn, p.Turn, "personality %d", id)
			assert.GreaterOrEqual(t, turn, -p.Turn, "personality %d", id)
			assert.GreaterOrEqual(t, mv.Hold, p.RepeatMin)
			assert.LessOrEqual(t, mv.Hold, p.RepeatMax)
		}
		if p.PauseChance > 0 {
			assert.Greater(t, pauses, 0, "personality %d never paused", id)
		}
	}
}

func TestConfig_PersonalityFallback(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultPersonalities()[1], cfg.Personality(1))
	assert.Equal(t, DefaultPersonality(), cfg.Personality(9))
}

func TestManeuverDurations(t *testing.T) {
	assert.Equal(t, 1400*time.Millisecond, ZoneManeuver().Duration())
	assert.Equal(t, 8700*time.Millisecond, RecoveryManeuver(true).Duration())

	left := RecoveryManeuver(false).Steps[6]
	right := RecoveryManeuver(true).Steps[6]
	assert.Greater(t, left.Left, left.Right)
	assert.Greater(t, right.Right, right.Left)
}

func TestStateText(t *testing.T) {
	b, err := StuckRecoveryManeuver.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "stuck_recovery", string(b))
	assert.Equal(t, "unknown", State(99).String())
}

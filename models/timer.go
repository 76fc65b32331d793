package models

import (
	"math/rand"
	"time"
)

// FrequencyClock gates periodic work. It never fires on its own: callers ask
// Elapsed whether a full period has passed since the last Tick.
//
// A staggered clock spreads its first firing uniformly across one period so
// that a batch of clocks created together does not fire in lockstep.
type FrequencyClock struct {
	Frequency float32
	LastTick  time.Time
	staggered bool
}

func NewFrequencyClock(frequencyHz float32) FrequencyClock {
	return FrequencyClock{Frequency: frequencyHz}
}

// Period returns the duration of one cycle, or 0 if the clock is disabled.
func (clock *FrequencyClock) Period() time.Duration {
	if clock.Frequency == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(clock.Frequency))
}

// Tick marks the clock as having fired at the given instant.
func (clock *FrequencyClock) Tick(now time.Time) {
	clock.LastTick = now
}

// Elapsed returns true when at least one period has passed since the last
// tick. A clock with zero frequency never elapses. With stagger enabled, the
// very first call backdates the clock by a random fraction of the period.
func (clock *FrequencyClock) Elapsed(now time.Time, staggered bool) bool {
	period := clock.Period()
	if period == 0 {
		return false
	}
	if staggered && !clock.staggered && clock.LastTick.IsZero() {
		clock.staggered = true
		clock.LastTick = now.Add(-time.Duration(rand.Float64() * float64(period)))
	}
	return now.Sub(clock.LastTick) >= period
}

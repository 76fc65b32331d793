package models

import (
	"testing"
	"time"
)

func TestFrequencyClockZeroFrequencyNeverElapses(t *testing.T) {
	clock := NewFrequencyClock(0)
	now := time.Now()
	if clock.Elapsed(now, false) {
		t.Error("disabled clock elapsed")
	}
	if clock.Elapsed(now.Add(time.Hour), true) {
		t.Error("disabled clock elapsed after an hour")
	}
}

func TestFrequencyClockPeriod(t *testing.T) {
	tests := []struct {
		frequency float32
		period    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{10, 100 * time.Millisecond},
		{0.5, 2 * time.Second},
	}
	for _, tc := range tests {
		clock := NewFrequencyClock(tc.frequency)
		if got := clock.Period(); got != tc.period {
			t.Errorf("frequency %f: period %s, want %s", tc.frequency, got, tc.period)
		}
	}
}

func TestFrequencyClockElapsesAfterPeriod(t *testing.T) {
	clock := NewFrequencyClock(10)
	start := time.Now()
	clock.Tick(start)

	if clock.Elapsed(start.Add(50*time.Millisecond), false) {
		t.Error("elapsed after half a period")
	}
	if !clock.Elapsed(start.Add(100*time.Millisecond), false) {
		t.Error("did not elapse after a full period")
	}
	if !clock.Elapsed(start.Add(time.Second), false) {
		t.Error("did not elapse long after the period")
	}
}

func TestFrequencyClockTickResets(t *testing.T) {
	clock := NewFrequencyClock(10)
	start := time.Now()
	clock.Tick(start)
	clock.Tick(start.Add(90 * time.Millisecond))
	if clock.Elapsed(start.Add(100*time.Millisecond), false) {
		t.Error("elapsed despite recent tick")
	}
	if !clock.Elapsed(start.Add(190*time.Millisecond), false) {
		t.Error("did not elapse one period after the tick")
	}
}

// A staggered clock backdates itself on the first Elapsed call so the first
// firing lands somewhere inside the first period, never beyond it.
func TestFrequencyClockStaggeredStart(t *testing.T) {
	start := time.Now()
	for i := 0; i < 100; i++ {
		clock := NewFrequencyClock(1)
		clock.Elapsed(start, true)
		if clock.LastTick.After(start) {
			t.Fatal("staggered clock backdated into the future")
		}
		if start.Sub(clock.LastTick) > time.Second {
			t.Fatal("staggered clock backdated more than one period")
		}
		if !clock.Elapsed(start.Add(time.Second), true) {
			t.Fatal("staggered clock did not elapse after a full period")
		}
	}
}

func TestFrequencyClockNonStaggeredStartsFromZero(t *testing.T) {
	clock := NewFrequencyClock(10)
	// without a tick the zero LastTick is long in the past
	if !clock.Elapsed(time.Now(), false) {
		t.Error("untouched non-staggered clock should read as elapsed")
	}
}

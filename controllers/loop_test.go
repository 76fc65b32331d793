package controllers

import (
	"testing"
	"time"

	"github.com/ovdx/candiag/models/can"
)

// End to end through the serve loop: admission via Dispatch, transmission on
// the ticker, response delivery through the bus rx pump.
func TestRunnerRoundTrip(t *testing.T) {
	h := newHarness()
	runner := NewRunner(h.manager)
	go runner.Serve()
	defer runner.Stop()

	var admitted bool
	runner.Dispatch(func(m *DiagnosticsManager) {
		admitted = m.AddRequest(h.bus, directedRequest(0x7E0), "", false, nil, nil)
	})
	if !admitted {
		t.Fatal("admission failed")
	}

	waitFor(t, "request transmission", func() bool {
		return len(h.driver.SentFrames()) > 0
	})

	h.driver.Inject(can.NewFrame(0x7E8, []byte{0x04, 0x41, 0x0C, 0x1A, 0xF8, 0, 0, 0}))

	waitFor(t, "pipeline message", func() bool {
		var published bool
		runner.Dispatch(func(m *DiagnosticsManager) {
			published = len(h.pipeline.messages) > 0
		})
		return published
	})
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

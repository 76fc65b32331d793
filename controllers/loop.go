package controllers

import (
	"time"

	"github.com/ovdx/candiag/models/can"
)

const sendInterval = 10 * time.Millisecond

type busFrame struct {
	bus   *can.Bus
	frame can.Frame
}

// Runner drives a DiagnosticsManager from a single goroutine: a periodic
// scheduling tick, received CAN frames and dispatched control operations all
// serialize through its select loop.
type Runner struct {
	Manager *DiagnosticsManager

	rx   chan busFrame
	ops  chan func(*DiagnosticsManager)
	done chan struct{}
}

func NewRunner(manager *DiagnosticsManager) *Runner {
	return &Runner{
		Manager: manager,
		rx:      make(chan busFrame, 64),
		ops:     make(chan func(*DiagnosticsManager), 16),
		done:    make(chan struct{}),
	}
}

// Dispatch hands an operation to the serve goroutine and waits for it to run.
func (r *Runner) Dispatch(op func(*DiagnosticsManager)) {
	completed := make(chan struct{})
	r.ops <- func(m *DiagnosticsManager) {
		op(m)
		close(completed)
	}
	<-completed
}

// pump forwards frames delivered to one bus into the serve loop.
func (r *Runner) pump(bus *can.Bus) {
	for {
		select {
		case frame := <-bus.Rx:
			r.rx <- busFrame{bus: bus, frame: frame}
		case <-r.done:
			return
		}
	}
}

// Serve runs the diagnostics loop until Stop is called. Every bus gets a
// scheduling pass each tick, and received frames are fed to the in-flight
// requests as they arrive.
func (r *Runner) Serve() {
	for _, bus := range r.Manager.Buses() {
		go r.pump(bus)
	}

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, bus := range r.Manager.Buses() {
				r.Manager.SendRequests(bus)
			}
		case rx := <-r.rx:
			r.Manager.ReceiveCanFrame(rx.bus, &rx.frame)
		case op := <-r.ops:
			op(r.Manager)
		case <-r.done:
			return
		}
	}
}

func (r *Runner) Stop() {
	close(r.done)
}

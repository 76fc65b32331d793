package can

import (
	"sync"
)

// LoopbackDriver records every transmitted frame and lets a test or the
// emulator inject received frames. It stands in for a real interface when
// the daemon runs with emulated data.
type LoopbackDriver struct {
	bus  *Bus
	mu   sync.Mutex
	sent []Frame
}

func NewLoopbackDriver(bus *Bus) *LoopbackDriver {
	driver := &LoopbackDriver{bus: bus}
	bus.AttachDriver(driver)
	return driver
}

func (driver *LoopbackDriver) SendFrame(frame *Frame) error {
	driver.mu.Lock()
	driver.sent = append(driver.sent, *frame)
	driver.mu.Unlock()
	return nil
}

func (driver *LoopbackDriver) Close() error {
	return nil
}

// SentFrames drains and returns the frames transmitted so far.
func (driver *LoopbackDriver) SentFrames() []Frame {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	frames := driver.sent
	driver.sent = nil
	return frames
}

// Inject feeds a frame back into the bus receive path, subject to the
// acceptance filters.
func (driver *LoopbackDriver) Inject(frame *Frame) {
	driver.bus.Deliver(frame)
}

package can

import (
	"fmt"

	"github.com/omzlo/clog"
)

// MAX_ACCEPTANCE_FILTERS is the per-bus hardware filter capacity. Adding a
// filter beyond this limit fails and the caller must treat it as an
// admission failure.
const MAX_ACCEPTANCE_FILTERS = 32

// Driver is the low-level transmit side of a CAN interface.
type Driver interface {
	SendFrame(frame *Frame) error
	Close() error
}

type acceptanceFilter struct {
	format   MessageFormat
	refcount uint
}

// Bus is one physical (or emulated) CAN connection. The Rx channel carries
// frames that passed the acceptance filters; all writes go through the
// attached driver.
type Bus struct {
	Address     uint8
	Interface   string
	RawWritable bool
	Rx          chan Frame

	driver  Driver
	filters map[uint32]*acceptanceFilter
}

func NewBus(address uint8, ifname string, rawWritable bool) *Bus {
	return &Bus{
		Address:     address,
		Interface:   ifname,
		RawWritable: rawWritable,
		Rx:          make(chan Frame, 64),
		filters:     make(map[uint32]*acceptanceFilter),
	}
}

func (bus *Bus) AttachDriver(driver Driver) {
	bus.driver = driver
}

func (bus *Bus) Driver() Driver {
	return bus.driver
}

func (bus *Bus) String() string {
	return fmt.Sprintf("bus %d (%s)", bus.Address, bus.Interface)
}

// EnqueueMessage hands a frame to the driver for transmission.
func (bus *Bus) EnqueueMessage(frame *Frame) bool {
	if bus.driver == nil {
		clog.Warning("No driver attached to %s, dropping %s", bus, frame)
		return false
	}
	if err := bus.driver.SendFrame(frame); err != nil {
		clog.Error("Failed to send %s on %s: %s", frame, bus, err)
		return false
	}
	clog.DebugXX("Sent %s on %s", frame, bus)
	return true
}

// AddAcceptanceFilter installs a filter for the given id, or increments its
// reference count if it is already installed. It fails when the filter table
// is full.
func (bus *Bus) AddAcceptanceFilter(id uint32, format MessageFormat) bool {
	if filter, ok := bus.filters[id]; ok {
		filter.refcount++
		clog.DebugX("Filter 0x%x on %s now has %d users", id, bus, filter.refcount)
		return true
	}
	if len(bus.filters) >= MAX_ACCEPTANCE_FILTERS {
		clog.Warning("Acceptance filter table full on %s, cannot add 0x%x", bus, id)
		return false
	}
	bus.filters[id] = &acceptanceFilter{format: format, refcount: 1}
	clog.Debug("Added acceptance filter 0x%x (%s) on %s", id, format, bus)
	return true
}

// RemoveAcceptanceFilter decrements the reference count for the filter and
// uninstalls it when the last user is gone.
func (bus *Bus) RemoveAcceptanceFilter(id uint32, format MessageFormat) bool {
	filter, ok := bus.filters[id]
	if !ok {
		clog.Warning("Attempt to remove unknown acceptance filter 0x%x on %s", id, bus)
		return false
	}
	filter.refcount--
	if filter.refcount == 0 {
		delete(bus.filters, id)
		clog.Debug("Removed acceptance filter 0x%x (%s) on %s", id, format, bus)
	}
	return true
}

// AcceptsFrame reports whether a received arbitration id passes the filter
// table. An empty table accepts nothing, matching a hardware controller with
// no filters configured.
func (bus *Bus) AcceptsFrame(id uint32) bool {
	_, ok := bus.filters[id]
	return ok
}

func (bus *Bus) FilterCount() int {
	return len(bus.filters)
}

// Deliver pushes a received frame to the Rx channel if it passes the
// acceptance filters. Frames arriving faster than the consumer drains them
// are dropped, like a controller rx overrun.
func (bus *Bus) Deliver(frame *Frame) {
	if !bus.AcceptsFrame(frame.Id) {
		return
	}
	select {
	case bus.Rx <- *frame:
	default:
		clog.Warning("Rx overrun on %s, discarding %s", bus, frame)
	}
}

// Lookup finds a bus by address in a bus set, or returns nil.
func Lookup(buses []*Bus, address uint8) *Bus {
	for _, bus := range buses {
		if bus.Address == address {
			return bus
		}
	}
	return nil
}

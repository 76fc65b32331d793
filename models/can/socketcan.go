//go:build linux

package can

import (
	"fmt"
	"net"

	brutella "github.com/brutella/can"
)

// SocketcanDriver binds a Bus to a Linux socketcan interface.
type SocketcanDriver struct {
	conn *brutella.Bus
}

// OpenSocketcan opens the socketcan interface named by bus.Interface,
// attaches the resulting driver to the bus and starts the receive pump.
func OpenSocketcan(bus *Bus) error {
	iface, err := net.InterfaceByName(bus.Interface)
	if err != nil {
		return fmt.Errorf("no such CAN interface %s: %s", bus.Interface, err)
	}
	conn, err := brutella.NewReadWriteCloserForInterface(iface)
	if err != nil {
		return fmt.Errorf("could not open CAN interface %s: %s", bus.Interface, err)
	}

	driver := &SocketcanDriver{conn: brutella.NewBus(conn)}

	driver.conn.SubscribeFunc(func(frm brutella.Frame) {
		frame := Frame{Id: frm.ID & 0x1FFFFFFF, Dlc: frm.Length}
		if frm.ID&(1<<31) != 0 {
			frame.Format = EXTENDED
		}
		copy(frame.Data[:], frm.Data[:])
		bus.Deliver(&frame)
	})

	bus.AttachDriver(driver)
	go driver.conn.ConnectAndPublish()
	return nil
}

func (driver *SocketcanDriver) SendFrame(frame *Frame) error {
	out := brutella.Frame{ID: frame.Id, Length: frame.Dlc}
	if frame.Format == EXTENDED {
		out.ID |= 1 << 31
	}
	copy(out.Data[:], frame.Data[:])
	return driver.conn.Publish(out)
}

func (driver *SocketcanDriver) Close() error {
	return driver.conn.Disconnect()
}

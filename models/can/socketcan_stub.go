//go:build !linux

package can

import (
	"fmt"
)

// OpenSocketcan is only available on Linux.
func OpenSocketcan(bus *Bus) error {
	return fmt.Errorf("socketcan is not supported on this platform, bus %d unavailable", bus.Address)
}

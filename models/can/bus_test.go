package can

import (
	"fmt"
	"testing"
)

func TestAcceptanceFilterRefcounting(t *testing.T) {
	bus := NewBus(1, "vcan0", true)

	if bus.AcceptsFrame(0x7E8) {
		t.Fatal("empty filter table accepted a frame")
	}

	if !bus.AddAcceptanceFilter(0x7E8, STANDARD) {
		t.Fatal("could not add filter")
	}
	if !bus.AddAcceptanceFilter(0x7E8, STANDARD) {
		t.Fatal("could not add filter a second time")
	}
	if bus.FilterCount() != 1 {
		t.Fatalf("filter count %d, want 1", bus.FilterCount())
	}
	if !bus.AcceptsFrame(0x7E8) {
		t.Fatal("installed filter did not accept frame")
	}

	bus.RemoveAcceptanceFilter(0x7E8, STANDARD)
	if !bus.AcceptsFrame(0x7E8) {
		t.Fatal("filter uninstalled while still referenced")
	}
	bus.RemoveAcceptanceFilter(0x7E8, STANDARD)
	if bus.AcceptsFrame(0x7E8) {
		t.Fatal("filter still active after last reference removed")
	}
	if bus.FilterCount() != 0 {
		t.Fatalf("filter count %d, want 0", bus.FilterCount())
	}
}

func TestAcceptanceFilterCapacity(t *testing.T) {
	bus := NewBus(1, "vcan0", true)
	for i := 0; i < MAX_ACCEPTANCE_FILTERS; i++ {
		if !bus.AddAcceptanceFilter(uint32(0x100+i), STANDARD) {
			t.Fatalf("filter %d rejected below capacity", i)
		}
	}
	if bus.AddAcceptanceFilter(0x7E8, STANDARD) {
		t.Fatal("filter accepted beyond capacity")
	}
	// raising the refcount of an installed filter still works at capacity
	if !bus.AddAcceptanceFilter(0x100, STANDARD) {
		t.Fatal("could not reference existing filter at capacity")
	}
}

func TestRemoveUnknownFilter(t *testing.T) {
	bus := NewBus(1, "vcan0", true)
	if bus.RemoveAcceptanceFilter(0x7E8, STANDARD) {
		t.Fatal("removing an unknown filter reported success")
	}
}

func TestDeliverHonorsFilters(t *testing.T) {
	bus := NewBus(1, "vcan0", true)
	bus.AddAcceptanceFilter(0x7E8, STANDARD)

	accepted := NewFrame(0x7E8, []byte{0x03, 0x41, 0x0D, 0x32})
	rejected := NewFrame(0x7E9, []byte{0x03, 0x41, 0x0D, 0x32})
	bus.Deliver(rejected)
	bus.Deliver(accepted)

	select {
	case frame := <-bus.Rx:
		if frame.Id != 0x7E8 {
			t.Fatalf("delivered frame id 0x%x, want 0x7E8", frame.Id)
		}
	default:
		t.Fatal("accepted frame was not delivered")
	}
	select {
	case frame := <-bus.Rx:
		t.Fatalf("filtered frame 0x%x was delivered", frame.Id)
	default:
	}
}

func TestLoopbackDriverRecordsSends(t *testing.T) {
	bus := NewBus(1, "vcan0", true)
	driver := NewLoopbackDriver(bus)

	frame := NewFrame(0x7DF, []byte{0x02, 0x01, 0x0C})
	if !bus.EnqueueMessage(frame) {
		t.Fatal("enqueue failed")
	}

	sent := driver.SentFrames()
	if len(sent) != 1 || sent[0].Id != 0x7DF {
		t.Fatalf("unexpected sent frames: %v", sent)
	}
	if len(driver.SentFrames()) != 0 {
		t.Fatal("SentFrames did not drain")
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	tests := []*Frame{
		NewFrame(0x7DF, []byte{0x02, 0x01, 0x0C}),
		NewFrame(0x18DB33F1, []byte{0x02, 0x01, 0x0D, 0, 0, 0, 0, 0}),
	}
	for _, frame := range tests {
		t.Run(fmt.Sprintf("0x%x", frame.Id), func(t *testing.T) {
			var buf [13]byte
			if err := EncodeFrame(frame, buf[:]); err != nil {
				t.Fatal(err)
			}
			decoded, err := DecodeFrame(buf[:])
			if err != nil {
				t.Fatal(err)
			}
			if decoded.Id != frame.Id || decoded.Format != frame.Format || decoded.Dlc != frame.Dlc {
				t.Fatalf("decoded %s, want %s", decoded, frame)
			}
			if decoded.Data != frame.Data {
				t.Fatalf("decoded data %x, want %x", decoded.Data, frame.Data)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	buses := []*Bus{NewBus(1, "can0", true), NewBus(2, "can1", false)}
	if Lookup(buses, 2) != buses[1] {
		t.Fatal("lookup found the wrong bus")
	}
	if Lookup(buses, 3) != nil {
		t.Fatal("lookup invented a bus")
	}
}

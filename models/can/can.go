package can

import (
	"fmt"
)

type MessageFormat byte

const (
	STANDARD MessageFormat = iota
	EXTENDED
)

func (format MessageFormat) String() string {
	if format == EXTENDED {
		return "extended"
	}
	return "standard"
}

// FormatForId selects the frame format from the arbitration id: anything
// above the 11-bit range is extended.
func FormatForId(id uint32) MessageFormat {
	if id > 0x7FF {
		return EXTENDED
	}
	return STANDARD
}

type Frame struct {
	Id     uint32
	Format MessageFormat
	Dlc    uint8
	Data   [8]uint8
}

func NewFrame(id uint32, data []byte) *Frame {
	frame := &Frame{Id: id, Format: FormatForId(id), Dlc: uint8(len(data))}
	copy(frame.Data[:], data)
	return frame
}

func EncodeFrame(frame *Frame, buf []byte) error {
	if len(buf) < 13 {
		return fmt.Errorf("Encode buffer must be at least 13 bytes, found only %d", len(buf))
	}
	buf[0] = byte(frame.Id >> 24)
	if frame.Format == EXTENDED {
		buf[0] |= 0x80
	}
	buf[1] = byte(frame.Id >> 16)
	buf[2] = byte(frame.Id >> 8)
	buf[3] = byte(frame.Id)
	buf[4] = frame.Dlc
	copy(buf[5:13], frame.Data[:])
	return nil
}

func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < 13 {
		return nil, fmt.Errorf("Slice length too short for decoding operation, required 13 bytes, got %d", len(buf))
	}
	frame := new(Frame)
	frame.Id = uint32(buf[0]&0x7F) << 24
	frame.Id |= uint32(buf[1]) << 16
	frame.Id |= uint32(buf[2]) << 8
	frame.Id |= uint32(buf[3])
	if buf[0]&0x80 != 0 {
		frame.Format = EXTENDED
	}
	frame.Dlc = buf[4]
	copy(frame.Data[:], buf[5:13])
	return frame, nil
}

func (frame *Frame) String() string {
	dlc := frame.Dlc
	var s string

	if frame.Format == EXTENDED {
		s = "<EXT"
	} else {
		s = "<STD"
	}

	s += fmt.Sprintf("@%x ", frame.Id)
	if dlc > 8 {
		s += fmt.Sprintf("!%d:", dlc)
		dlc = 8
	} else {
		s += fmt.Sprintf("%d:", dlc)
	}

	for i := uint8(0); i < dlc; i++ {
		s += fmt.Sprintf(" %02x", frame.Data[i])
	}
	return s + ">"
}

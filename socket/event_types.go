package socket

import (
	"errors"
	"fmt"
)

var ErrorMissingData error = errors.New("Missing data for value decoder")

func EncodeUint16(dest []byte, u uint16) {
	dest[0] = byte(u >> 8)
	dest[1] = byte(u)
}

func DecodeUint16(src []byte) uint16 {
	return (uint16(src[0]) << 8) | uint16(src[1])
}

func EncodeUint32(dest []byte, u uint32) {
	dest[0] = byte(u >> 24)
	dest[1] = byte(u >> 16)
	dest[2] = byte(u >> 8)
	dest[3] = byte(u)
}

func DecodeUint32(src []byte) uint32 {
	return (uint32(src[0]) << 24) |
		(uint32(src[1]) << 16) |
		(uint32(src[2]) << 8) |
		uint32(src[3])
}

/****************************************************************************/
// EmptyEvent

type EmptyEvent struct {
	BaseEvent
}

func (x EmptyEvent) Pack() ([]byte, error) {
	return make([]byte, 0), nil
}

func (x *EmptyEvent) Unpack(b []byte) error {
	return nil
}

/****************************************************************************/

type ClientHelloEvent struct {
	BaseEvent
	Tool         string
	VersionMajor byte
	VersionMinor byte
}

func NewClientHelloEvent(tool string, major byte, minor byte) *ClientHelloEvent {
	return &ClientHelloEvent{BaseEvent: BaseEvent{0, ClientHelloEventId}, Tool: tool, VersionMajor: major, VersionMinor: minor}
}

func (ch *ClientHelloEvent) Pack() ([]byte, error) {
	b := make([]byte, 0, len(ch.Tool)+3)
	b = append(b, byte(len(ch.Tool)))
	b = append(b, []byte(ch.Tool)...)
	b = append(b, ch.VersionMajor)
	b = append(b, ch.VersionMinor)
	return b, nil
}

func (ch *ClientHelloEvent) Unpack(b []byte) error {
	if len(b) < 1 || int(b[0])+3 > len(b) {
		return ErrorMissingData
	}
	ch.Tool = string(b[1 : 1+b[0]])
	ch.VersionMajor = b[1+b[0]]
	ch.VersionMinor = b[2+b[0]]
	return nil
}

/****************************************************************************/

type ServerHelloEvent struct {
	ClientHelloEvent
}

func NewServerHelloEvent(tool string, major byte, minor byte) *ServerHelloEvent {
	return &ServerHelloEvent{ClientHelloEvent{BaseEvent: BaseEvent{0, ServerHelloEventId}, Tool: tool, VersionMajor: major, VersionMinor: minor}}
}

/****************************************************************************/

const (
	ServerAckSuccess        byte = 0x00
	ServerAckBadRequest     byte = 0x01
	ServerAckUnknown        byte = 0x02
	ServerAckNotFound       byte = 0x03
	ServerAckGeneralFailure byte = 0x0F
)

type ServerAckEvent struct {
	BaseEvent
	Code byte
}

func NewServerAckEvent(code byte) *ServerAckEvent {
	return &ServerAckEvent{BaseEvent: BaseEvent{0, ServerAckEventId}, Code: code}
}

func (sa ServerAckEvent) Pack() ([]byte, error) {
	return []byte{sa.Code}, nil
}

func (sa *ServerAckEvent) Unpack(b []byte) error {
	if len(b) < 1 {
		return ErrorMissingData
	}
	sa.Code = b[0]
	return nil
}

func (sa ServerAckEvent) String() string {
	return fmt.Sprintf("%s code=%d", sa.BaseEvent, sa.Code)
}

/****************************************************************************/

// Diagnostic request actions and decoder types on the wire.
const (
	DIAG_ACTION_ADD    byte = 1
	DIAG_ACTION_CANCEL byte = 2

	DECODED_TYPE_UNUSED byte = 0
	DECODED_TYPE_NONE   byte = 1
	DECODED_TYPE_OBD2   byte = 2
)

const (
	diagFlagHasPid            byte = 1 << 0
	diagFlagMultipleResponses byte = 1 << 1
)

// DiagnosticRequestEvent is the upstream control command: add or cancel a
// one-shot or recurring diagnostic request. FrequencyMillihertz is carried
// in mHz so fractional rates survive the wire.
type DiagnosticRequestEvent struct {
	BaseEvent
	Action              byte
	Bus                 uint8
	MessageId           uint32
	Mode                uint8
	HasPid              bool
	Pid                 uint16
	FrequencyMillihertz uint32
	MultipleResponses   bool
	DecodedType         byte
	Name                string
	Payload             []byte
}

func NewDiagnosticRequestEvent(action byte, bus uint8, messageId uint32, mode uint8) *DiagnosticRequestEvent {
	return &DiagnosticRequestEvent{
		BaseEvent: BaseEvent{0, DiagnosticRequestEventId},
		Action:    action,
		Bus:       bus,
		MessageId: messageId,
		Mode:      mode,
	}
}

func (dr *DiagnosticRequestEvent) Pack() ([]byte, error) {
	if len(dr.Name) > 255 || len(dr.Payload) > 255 {
		return nil, fmt.Errorf("Name or payload too long in diagnostic request event")
	}
	b := make([]byte, 16, 18+len(dr.Name)+len(dr.Payload))
	b[0] = dr.Action
	b[1] = dr.Bus
	EncodeUint32(b[2:], dr.MessageId)
	b[6] = dr.Mode
	if dr.HasPid {
		b[7] |= diagFlagHasPid
	}
	if dr.MultipleResponses {
		b[7] |= diagFlagMultipleResponses
	}
	EncodeUint16(b[8:], dr.Pid)
	EncodeUint32(b[10:], dr.FrequencyMillihertz)
	b[14] = dr.DecodedType
	b[15] = byte(len(dr.Name))
	b = append(b, []byte(dr.Name)...)
	b = append(b, byte(len(dr.Payload)))
	b = append(b, dr.Payload...)
	return b, nil
}

func (dr *DiagnosticRequestEvent) Unpack(b []byte) error {
	if len(b) < 17 {
		return ErrorMissingData
	}
	dr.Action = b[0]
	dr.Bus = b[1]
	dr.MessageId = DecodeUint32(b[2:])
	dr.Mode = b[6]
	dr.HasPid = b[7]&diagFlagHasPid != 0
	dr.MultipleResponses = b[7]&diagFlagMultipleResponses != 0
	dr.Pid = DecodeUint16(b[8:])
	dr.FrequencyMillihertz = DecodeUint32(b[10:])
	dr.DecodedType = b[14]

	nameLen := int(b[15])
	if 17+nameLen > len(b) {
		return ErrorMissingData
	}
	dr.Name = string(b[16 : 16+nameLen])

	payloadLen := int(b[16+nameLen])
	if 17+nameLen+payloadLen > len(b) {
		return ErrorMissingData
	}
	dr.Payload = append([]byte(nil), b[17+nameLen:17+nameLen+payloadLen]...)
	return nil
}

func (dr DiagnosticRequestEvent) String() string {
	verb := "add"
	if dr.Action == DIAG_ACTION_CANCEL {
		verb = "cancel"
	}
	return fmt.Sprintf("%s %s bus=%d arb_id=0x%x mode=0x%x", dr.BaseEvent, verb, dr.Bus, dr.MessageId, dr.Mode)
}

/****************************************************************************/

// VehicleMessageEvent carries one JSON-encoded vehicle message (named signal
// or structured diagnostic response) on the output pipeline.
type VehicleMessageEvent struct {
	BaseEvent
	Data []byte
}

func NewVehicleMessageEvent(data []byte) *VehicleMessageEvent {
	return &VehicleMessageEvent{BaseEvent: BaseEvent{0, VehicleMessageEventId}, Data: data}
}

func (vm *VehicleMessageEvent) Pack() ([]byte, error) {
	return vm.Data, nil
}

func (vm *VehicleMessageEvent) Unpack(b []byte) error {
	vm.Data = append([]byte(nil), b...)
	return nil
}

func (vm VehicleMessageEvent) String() string {
	return fmt.Sprintf("%s %s", vm.BaseEvent, vm.Data)
}

/****************************************************************************/

// PartialFrameDataEvent streams one partial multi-frame JSON line.
type PartialFrameDataEvent struct {
	BaseEvent
	Data []byte
}

func NewPartialFrameDataEvent(data []byte) *PartialFrameDataEvent {
	return &PartialFrameDataEvent{BaseEvent: BaseEvent{0, PartialFrameDataEventId}, Data: data}
}

func (pf *PartialFrameDataEvent) Pack() ([]byte, error) {
	return pf.Data, nil
}

func (pf *PartialFrameDataEvent) Unpack(b []byte) error {
	pf.Data = append([]byte(nil), b...)
	return nil
}

/****************************************************************************/

type BusStatusRequestEvent struct {
	EmptyEvent
}

func NewBusStatusRequestEvent() *BusStatusRequestEvent {
	return &BusStatusRequestEvent{EmptyEvent{BaseEvent{0, BusStatusRequestEventId}}}
}

type BusStatus struct {
	Address     uint8
	RawWritable bool
	FilterCount uint8
}

type BusStatusEvent struct {
	BaseEvent
	Buses []BusStatus
}

func NewBusStatusEvent() *BusStatusEvent {
	return &BusStatusEvent{BaseEvent: BaseEvent{0, BusStatusEventId}}
}

func (bs *BusStatusEvent) Append(status BusStatus) {
	bs.Buses = append(bs.Buses, status)
}

func (bs *BusStatusEvent) Pack() ([]byte, error) {
	b := make([]byte, 1, 1+3*len(bs.Buses))
	b[0] = byte(len(bs.Buses))
	for _, status := range bs.Buses {
		writable := byte(0)
		if status.RawWritable {
			writable = 1
		}
		b = append(b, status.Address, writable, status.FilterCount)
	}
	return b, nil
}

func (bs *BusStatusEvent) Unpack(b []byte) error {
	if len(b) < 1 || len(b) < 1+3*int(b[0]) {
		return ErrorMissingData
	}
	bs.Buses = nil
	for i := 0; i < int(b[0]); i++ {
		bs.Buses = append(bs.Buses, BusStatus{
			Address:     b[1+3*i],
			RawWritable: b[2+3*i] != 0,
			FilterCount: b[3+3*i],
		})
	}
	return nil
}

/****************************************************************************/

type DeviceInformationRequestEvent struct {
	EmptyEvent
}

func NewDeviceInformationRequestEvent() *DeviceInformationRequestEvent {
	return &DeviceInformationRequestEvent{EmptyEvent{BaseEvent{0, DeviceInformationRequestEventId}}}
}

type DeviceInformationEvent struct {
	BaseEvent
	Version string
}

func NewDeviceInformationEvent(version string) *DeviceInformationEvent {
	return &DeviceInformationEvent{BaseEvent: BaseEvent{0, DeviceInformationEventId}, Version: version}
}

func (di *DeviceInformationEvent) Pack() ([]byte, error) {
	return []byte(di.Version), nil
}

func (di *DeviceInformationEvent) Unpack(b []byte) error {
	di.Version = string(b)
	return nil
}

/****************************************************************************/

type VinRequestEvent struct {
	EmptyEvent
}

func NewVinRequestEvent() *VinRequestEvent {
	return &VinRequestEvent{EmptyEvent{BaseEvent{0, VinRequestEventId}}}
}

// VinEvent reports the vehicle identification number. Cached is true when the
// VIN was already read from the bus; otherwise a diagnostic request was just
// started and the VIN will follow on the pipeline.
type VinEvent struct {
	BaseEvent
	Vin    string
	Cached bool
}

func NewVinEvent(vin string, cached bool) *VinEvent {
	return &VinEvent{BaseEvent: BaseEvent{0, VinEventId}, Vin: vin, Cached: cached}
}

func (ve *VinEvent) Pack() ([]byte, error) {
	b := make([]byte, 0, 1+len(ve.Vin))
	if ve.Cached {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return append(b, []byte(ve.Vin)...), nil
}

func (ve *VinEvent) Unpack(b []byte) error {
	if len(b) < 1 {
		return ErrorMissingData
	}
	ve.Cached = b[0] != 0
	ve.Vin = string(b[1:])
	return nil
}

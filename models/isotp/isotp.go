package isotp

import (
	"fmt"
)

const (
	// Functional broadcast requests go out on 0x7DF and are answered by any
	// module in the 8-id range starting at 0x7E8.
	FUNCTIONAL_BROADCAST_ID   = 0x7DF
	FUNCTIONAL_RESPONSE_START = 0x7E8
	FUNCTIONAL_RESPONSE_COUNT = 8

	// A module answers a directed request on its request id plus this offset.
	RESPONSE_ARBITRATION_ID_OFFSET = 0x8

	MODE_RESPONSE_OFFSET   = 0x40
	NEGATIVE_RESPONSE_MODE = 0x7F

	// Largest reassembled response payload we are willing to buffer.
	MAX_MULTI_FRAME_PAYLOAD = 255

	CAN_FRAME_LENGTH = 8
)

// ISO-TP protocol control information nibbles.
const (
	PCI_SINGLE_FRAME      = 0x0
	PCI_FIRST_FRAME       = 0x1
	PCI_CONSECUTIVE_FRAME = 0x2
	PCI_FLOW_CONTROL      = 0x3
)

// Request describes one diagnostic request: a mode (service id), an optional
// PID and optional extra payload bytes, sent to an arbitration id.
type Request struct {
	ArbitrationId uint32
	Mode          uint8
	HasPid        bool
	Pid           uint16
	Payload       []byte
}

// pidLength is the number of bytes the PID occupies on the wire. Enhanced
// (16-bit) PIDs are detected by value, like the reference UDS support
// library does.
func (r *Request) pidLength() int {
	if !r.HasPid {
		return 0
	}
	if r.Pid > 0xFF {
		return 2
	}
	return 1
}

func RequestEquals(a, b *Request) bool {
	return a.ArbitrationId == b.ArbitrationId &&
		a.Mode == b.Mode &&
		a.HasPid == b.HasPid &&
		a.Pid == b.Pid
}

func (r *Request) String() string {
	s := fmt.Sprintf("arb_id: 0x%x, mode: 0x%x", r.ArbitrationId, r.Mode)
	if r.HasPid {
		s += fmt.Sprintf(", pid: 0x%x", r.Pid)
	}
	if len(r.Payload) > 0 {
		s += fmt.Sprintf(", payload: 0x%x", r.Payload)
	}
	return s
}

// Response is the outcome of feeding one CAN frame to a request handle.
// Completed is only true when a full response has been assembled; MultiFrame
// marks responses that span more than one frame.
type Response struct {
	ArbitrationId        uint32
	Completed            bool
	MultiFrame           bool
	Success              bool
	Mode                 uint8
	HasPid               bool
	Pid                  uint16
	NegativeResponseCode uint8
	Payload              []byte
}

// PayloadToInteger interprets the response payload as a big-endian unsigned
// integer. Payloads longer than 8 bytes use the first 8.
func PayloadToInteger(response *Response) int64 {
	var value int64
	payload := response.Payload
	if len(payload) > 8 {
		payload = payload[:8]
	}
	for _, b := range payload {
		value = value<<8 | int64(b)
	}
	return value
}

// Shims bind the codec to a log sink and a CAN writer, so the protocol layer
// stays independent of the bus implementation.
type Shims struct {
	Log            func(format string, v ...interface{})
	SendCanMessage func(arbitrationId uint32, data []byte) bool
}

func NewShims(log func(format string, v ...interface{}), send func(arbitrationId uint32, data []byte) bool) *Shims {
	return &Shims{Log: log, SendCanMessage: send}
}

// Handle owns the serialized request and the ISO-TP reassembly state for one
// outstanding diagnostic interaction.
type Handle struct {
	Request     Request
	RequestSent bool
	Completed   bool
	Success     bool

	receiving      bool
	receivingArbId uint32
	incomingTotal  int
	incomingUsed   int
	nextSequence   uint8
	payload        [MAX_MULTI_FRAME_PAYLOAD]byte
}

// GenerateRequest serializes a request into a fresh handle without sending
// anything.
func GenerateRequest(shims *Shims, request *Request) Handle {
	return Handle{Request: *request}
}

func (h *Handle) requestBytes() []byte {
	data := make([]byte, 0, CAN_FRAME_LENGTH-1)
	data = append(data, h.Request.Mode)
	switch h.Request.pidLength() {
	case 2:
		data = append(data, byte(h.Request.Pid>>8), byte(h.Request.Pid))
	case 1:
		data = append(data, byte(h.Request.Pid))
	}
	return append(data, h.Request.Payload...)
}

// StartRequest transmits the request frame, rearming the handle so a
// recycled recurring entry starts from a clean slate. On a fatal
// serialization or transmit failure the handle completes unsuccessfully and
// RequestSent stays false.
func StartRequest(shims *Shims, h *Handle) {
	h.Completed = false
	h.Success = false
	h.receiving = false
	h.incomingTotal = 0
	h.incomingUsed = 0
	h.nextSequence = 0

	body := h.requestBytes()
	if len(body) > CAN_FRAME_LENGTH-1 {
		shims.Log("Diagnostic request too long for a single frame (%d bytes): %s", len(body), &h.Request)
		h.Completed = true
		h.Success = false
		return
	}

	frame := make([]byte, CAN_FRAME_LENGTH)
	frame[0] = byte(PCI_SINGLE_FRAME<<4) | byte(len(body))
	copy(frame[1:], body)

	if !shims.SendCanMessage(h.Request.ArbitrationId, frame) {
		shims.Log("Unable to send diagnostic request: %s", &h.Request)
		h.Completed = true
		h.Success = false
		return
	}
	h.RequestSent = true
	h.Completed = false
}

// responseMatches reports whether a received arbitration id belongs to this
// handle's request.
func (h *Handle) responseMatches(arbitrationId uint32) bool {
	if h.Request.ArbitrationId == FUNCTIONAL_BROADCAST_ID {
		return arbitrationId >= FUNCTIONAL_RESPONSE_START &&
			arbitrationId < FUNCTIONAL_RESPONSE_START+FUNCTIONAL_RESPONSE_COUNT
	}
	return arbitrationId == h.Request.ArbitrationId+RESPONSE_ARBITRATION_ID_OFFSET
}

// parseResponse interprets a fully received payload (mode echo, PID echo and
// data) into the response, and reports whether the frame really answered this
// request.
func (h *Handle) parseResponse(shims *Shims, raw []byte, response *Response) bool {
	if len(raw) == 0 {
		return false
	}

	if raw[0] == NEGATIVE_RESPONSE_MODE {
		if len(raw) < 3 || raw[1] != h.Request.Mode {
			return false
		}
		response.Mode = raw[1]
		response.NegativeResponseCode = raw[2]
		response.Success = false
		return true
	}

	mode := raw[0] - MODE_RESPONSE_OFFSET
	if mode != h.Request.Mode {
		shims.Log("Response mode 0x%x does not match request mode 0x%x, ignoring", mode, h.Request.Mode)
		return false
	}
	response.Mode = mode

	rest := raw[1:]
	pidLen := h.Request.pidLength()
	if len(rest) < pidLen {
		return false
	}
	if pidLen > 0 {
		response.HasPid = true
		if pidLen == 2 {
			response.Pid = uint16(rest[0])<<8 | uint16(rest[1])
		} else {
			response.Pid = uint16(rest[0])
		}
		rest = rest[pidLen:]
	}
	response.Payload = rest
	response.Success = true
	return true
}

// ReceiveCanFrame feeds one received CAN frame to the handle. The returned
// response is zero-valued when the frame was not addressed to this request.
func ReceiveCanFrame(shims *Shims, h *Handle, arbitrationId uint32, data []byte) Response {
	response := Response{ArbitrationId: arbitrationId}

	// a completed handle is not a stop condition: functional broadcast
	// requests keep collecting responses from other modules until the
	// manager reaps the request
	if !h.RequestSent || len(data) == 0 {
		return response
	}
	if !h.responseMatches(arbitrationId) {
		return response
	}

	switch data[0] >> 4 {
	case PCI_SINGLE_FRAME:
		length := int(data[0] & 0xF)
		if length == 0 || length > len(data)-1 {
			return response
		}
		if !h.parseResponse(shims, data[1:1+length], &response) {
			return Response{ArbitrationId: arbitrationId}
		}
		response.Completed = true
		h.Completed = true
		h.Success = true

	case PCI_FIRST_FRAME:
		if len(data) < 2 {
			return response
		}
		total := int(data[0]&0xF)<<8 | int(data[1])
		if total > MAX_MULTI_FRAME_PAYLOAD {
			shims.Log("Multi-frame response of %d bytes exceeds buffer, aborting", total)
			h.Completed = true
			h.Success = false
			return response
		}
		h.receiving = true
		h.receivingArbId = arbitrationId
		h.incomingTotal = total
		h.incomingUsed = copy(h.payload[:total], data[2:])
		h.nextSequence = 1

		response.MultiFrame = true
		h.parseResponse(shims, h.payload[:h.incomingUsed], &response)
		response.Completed = false
		response.Success = false

		// continue the transfer: flow control frame, no block size limit
		flowControl := make([]byte, CAN_FRAME_LENGTH)
		flowControl[0] = PCI_FLOW_CONTROL << 4
		shims.SendCanMessage(arbitrationId-RESPONSE_ARBITRATION_ID_OFFSET, flowControl)

	case PCI_CONSECUTIVE_FRAME:
		if !h.receiving || arbitrationId != h.receivingArbId {
			return response
		}
		sequence := data[0] & 0xF
		if sequence != h.nextSequence&0xF {
			shims.Log("Out of order consecutive frame (expected %d, got %d), dropping response",
				h.nextSequence&0xF, sequence)
			h.receiving = false
			return response
		}
		h.nextSequence++
		h.incomingUsed += copy(h.payload[h.incomingUsed:h.incomingTotal], data[1:])

		response.MultiFrame = true
		if h.incomingUsed >= h.incomingTotal {
			if h.parseResponse(shims, h.payload[:h.incomingTotal], &response) {
				response.Completed = true
				h.Completed = true
				h.Success = true
				h.receiving = false
			}
		} else {
			h.parseResponse(shims, h.payload[:h.incomingUsed], &response)
			response.Completed = false
			response.Success = false
		}
	}

	return response
}

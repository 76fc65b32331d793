package obd2

import (
	"fmt"

	"github.com/ovdx/candiag/models/isotp"
)

const (
	MODE_CURRENT_DATA    = 0x01
	MODE_VEHICLE_INFO    = 0x09
	MODE_ENHANCED_DATA   = 0x22
	PID_ENGINE_SPEED     = 0x0C
	PID_VEHICLE_SPEED    = 0x0D
	PID_COOLANT_TEMP     = 0x05
	PID_THROTTLE         = 0x11
	PID_FUEL_LEVEL       = 0x2F
	PID_VIN              = 0x02
	VIN_LENGTH           = 17
)

// IsObd2Request reports whether a request looks like a standard OBD-II PID
// query, which lets the command handler fall back to the OBD-II decoder when
// no decoded type was specified.
func IsObd2Request(request *isotp.Request) bool {
	return (request.Mode == MODE_CURRENT_DATA || request.Mode == MODE_VEHICLE_INFO) &&
		request.HasPid && request.Pid <= 0xFF
}

// DecodePid scales a mode 0x01 response payload using the standard SAE J1979
// formula for the PID. PIDs without a known formula fall back to the raw
// integer interpretation.
func DecodePid(response *isotp.Response, parsedPayload float64) string {
	value := parsedPayload
	if response.Mode == MODE_CURRENT_DATA && response.HasPid && len(response.Payload) > 0 {
		a := float64(response.Payload[0])
		switch uint8(response.Pid) {
		case PID_ENGINE_SPEED:
			if len(response.Payload) >= 2 {
				value = (a*256 + float64(response.Payload[1])) / 4
			}
		case PID_VEHICLE_SPEED:
			value = a
		case PID_COOLANT_TEMP:
			value = a - 40
		case PID_THROTTLE, PID_FUEL_LEVEL:
			value = a * 100 / 255
		}
	}
	return fmt.Sprintf("%f", value)
}

// DecodeVin extracts the VIN text from a completed mode 0x09 PID 0x02
// response payload. The payload carries a one byte record count before the
// 17 VIN characters.
func DecodeVin(payload []byte) (string, bool) {
	if len(payload) > VIN_LENGTH {
		payload = payload[len(payload)-VIN_LENGTH:]
	}
	if len(payload) != VIN_LENGTH {
		return "", false
	}
	for _, c := range payload {
		if c < 0x20 || c > 0x7E {
			return "", false
		}
	}
	return string(payload), true
}

// NewVinRequest builds the standard VIN query.
func NewVinRequest(arbitrationId uint32) *isotp.Request {
	return &isotp.Request{
		ArbitrationId: arbitrationId,
		Mode:          MODE_VEHICLE_INFO,
		HasPid:        true,
		Pid:           PID_VIN,
	}
}

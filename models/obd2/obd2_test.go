package obd2

import (
	"testing"

	"github.com/ovdx/candiag/models/isotp"
)

func TestDecodePid(t *testing.T) {
	tests := []struct {
		name    string
		pid     uint16
		payload []byte
		want    string
	}{
		{"engine speed", PID_ENGINE_SPEED, []byte{0x1A, 0xF8}, "1726.000000"},
		{"vehicle speed", PID_VEHICLE_SPEED, []byte{0x50}, "80.000000"},
		{"coolant temperature", PID_COOLANT_TEMP, []byte{0x28}, "0.000000"},
		{"throttle", PID_THROTTLE, []byte{0xFF}, "100.000000"},
		{"unknown pid falls back to raw", 0x42, []byte{0x02}, "2.000000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response := &isotp.Response{
				Mode:    MODE_CURRENT_DATA,
				HasPid:  true,
				Pid:     tc.pid,
				Payload: tc.payload,
			}
			parsed := float64(isotp.PayloadToInteger(response))
			if got := DecodePid(response, parsed); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDecodeVin(t *testing.T) {
	vin := "1G1JC5444R7252367"

	// the payload carries a record count byte before the VIN text
	if got, ok := DecodeVin(append([]byte{0x01}, []byte(vin)...)); !ok || got != vin {
		t.Errorf("got %q ok=%v", got, ok)
	}
	if _, ok := DecodeVin([]byte("too short")); ok {
		t.Error("short payload decoded")
	}
	if _, ok := DecodeVin(append([]byte{0x00}, append([]byte(vin[:16]), 0x01)...)); ok {
		t.Error("unprintable VIN decoded")
	}
}

func TestIsObd2Request(t *testing.T) {
	tests := []struct {
		name    string
		request isotp.Request
		want    bool
	}{
		{"mode 1 pid", isotp.Request{Mode: 0x01, HasPid: true, Pid: 0x0C}, true},
		{"mode 9 pid", isotp.Request{Mode: 0x09, HasPid: true, Pid: 0x02}, true},
		{"enhanced mode", isotp.Request{Mode: 0x22, HasPid: true, Pid: 0xDE00}, false},
		{"no pid", isotp.Request{Mode: 0x01}, false},
		{"16-bit pid", isotp.Request{Mode: 0x01, HasPid: true, Pid: 0x100}, false},
	}
	for _, tc := range tests {
		if got := IsObd2Request(&tc.request); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

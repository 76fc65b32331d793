package socket

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, event Eventer) Eventer {
	t.Helper()
	var buf bytes.Buffer
	if err := EncodeEvent(&buf, event); err != nil {
		t.Fatalf("encode: %s", err)
	}
	decoded, err := DecodeEvent(&buf)
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	if decoded.Id() != event.Id() {
		t.Fatalf("decoded event id %s, want %s", decoded.Id(), event.Id())
	}
	if decoded.MsgId() != event.MsgId() {
		t.Fatalf("decoded msg id %d, want %d", decoded.MsgId(), event.MsgId())
	}
	return decoded
}

func TestDiagnosticRequestEventRoundTrip(t *testing.T) {
	event := NewDiagnosticRequestEvent(DIAG_ACTION_ADD, 1, 0x7DF, 0x01)
	event.HasPid = true
	event.Pid = 0x0C
	event.FrequencyMillihertz = 2500
	event.MultipleResponses = true
	event.DecodedType = DECODED_TYPE_OBD2
	event.Name = "engine_speed"
	event.Payload = []byte{0xAA, 0xBB}
	event.SetMsgId(7)

	decoded := roundTrip(t, event).(*DiagnosticRequestEvent)
	if decoded.Action != DIAG_ACTION_ADD || decoded.Bus != 1 {
		t.Errorf("action/bus lost: %+v", decoded)
	}
	if decoded.MessageId != 0x7DF || decoded.Mode != 0x01 {
		t.Errorf("id/mode lost: %+v", decoded)
	}
	if !decoded.HasPid || decoded.Pid != 0x0C {
		t.Errorf("pid lost: %+v", decoded)
	}
	if decoded.FrequencyMillihertz != 2500 || !decoded.MultipleResponses {
		t.Errorf("frequency/multiple lost: %+v", decoded)
	}
	if decoded.DecodedType != DECODED_TYPE_OBD2 || decoded.Name != "engine_speed" {
		t.Errorf("decoder/name lost: %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload, []byte{0xAA, 0xBB}) {
		t.Errorf("payload lost: %+v", decoded)
	}
}

func TestDiagnosticRequestEventFlagBits(t *testing.T) {
	event := NewDiagnosticRequestEvent(DIAG_ACTION_CANCEL, 2, 0x7E0, 0x22)
	event.MultipleResponses = true // has_pid stays off

	decoded := roundTrip(t, event).(*DiagnosticRequestEvent)
	if decoded.HasPid {
		t.Error("has_pid bit set spuriously")
	}
	if !decoded.MultipleResponses {
		t.Error("multiple_responses bit lost")
	}
	if decoded.Action != DIAG_ACTION_CANCEL {
		t.Error("cancel action lost")
	}
}

func TestClientHelloRoundTrip(t *testing.T) {
	event := NewClientHelloEvent("candiag-cli", 1, 0)
	event.SetMsgId(1)
	decoded := roundTrip(t, event).(*ClientHelloEvent)
	if decoded.Tool != "candiag-cli" || decoded.VersionMajor != 1 || decoded.VersionMinor != 0 {
		t.Errorf("hello fields lost: %+v", decoded)
	}
}

func TestBusStatusEventRoundTrip(t *testing.T) {
	event := NewBusStatusEvent()
	event.Append(BusStatus{Address: 1, RawWritable: true, FilterCount: 9})
	event.Append(BusStatus{Address: 2, RawWritable: false, FilterCount: 0})

	decoded := roundTrip(t, event).(*BusStatusEvent)
	if len(decoded.Buses) != 2 {
		t.Fatalf("decoded %d buses, want 2", len(decoded.Buses))
	}
	if decoded.Buses[0] != (BusStatus{Address: 1, RawWritable: true, FilterCount: 9}) {
		t.Errorf("bus 1 status lost: %+v", decoded.Buses[0])
	}
	if decoded.Buses[1].RawWritable {
		t.Error("read-only bus decoded as writable")
	}
}

func TestVinEventRoundTrip(t *testing.T) {
	event := NewVinEvent("1G1JC5444R7252367", true)
	decoded := roundTrip(t, event).(*VinEvent)
	if decoded.Vin != "1G1JC5444R7252367" || !decoded.Cached {
		t.Errorf("vin fields lost: %+v", decoded)
	}
}

// Payloads above 0x80 bytes switch the wire format to a multi-byte length
// prefix; make sure both sides agree on it.
func TestLongPayloadLengthPrefix(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 500)
	event := NewVehicleMessageEvent(data)

	decoded := roundTrip(t, event).(*VehicleMessageEvent)
	if !bytes.Equal(decoded.Data, data) {
		t.Fatalf("long payload corrupted: %d bytes", len(decoded.Data))
	}
}

func TestServerAckRoundTrip(t *testing.T) {
	event := NewServerAckEvent(ServerAckNotFound)
	event.SetMsgId(3)
	decoded := roundTrip(t, event).(*ServerAckEvent)
	if decoded.Code != ServerAckNotFound {
		t.Errorf("ack code 0x%x, want 0x%x", decoded.Code, ServerAckNotFound)
	}
}

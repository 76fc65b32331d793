package controllers

import (
	"math/rand"

	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/models/can"
	"github.com/ovdx/candiag/models/isotp"
	"github.com/ovdx/candiag/models/obd2"
	"github.com/ovdx/candiag/socket"
)

// Arbitration ids with no emulated module behind them, to exercise client
// handling of silent addresses.
var emulatorUnsupportedIds = map[uint32]bool{
	0x703: true,
	0x750: true,
	0x7B0: true,
	0x7D7: true,
	0x7F0: true,
}

func isSupportedMessageId(id uint32) bool {
	if emulatorUnsupportedIds[id] {
		clog.Debug("Emulator has no module at id 0x%x", id)
		return false
	}
	return id >= 0x701 && id <= 0x7F1
}

// emulatedMessageId picks the responding module address: a random member of
// the functional response range for broadcasts, request id plus the standard
// offset otherwise.
func emulatedMessageId(requestId uint32) uint32 {
	if requestId == isotp.FUNCTIONAL_BROADCAST_ID {
		return isotp.FUNCTIONAL_RESPONSE_START + uint32(rand.Intn(isotp.FUNCTIONAL_RESPONSE_COUNT))
	}
	return requestId + isotp.RESPONSE_ARBITRATION_ID_OFFSET
}

func isSupportedMode(mode uint8) bool {
	switch mode {
	case obd2.MODE_CURRENT_DATA, obd2.MODE_VEHICLE_INFO, obd2.MODE_ENHANCED_DATA:
		return true
	}
	return false
}

func isSupportedPid(mode uint8, pid uint16) bool {
	switch mode {
	case obd2.MODE_CURRENT_DATA:
		if pid > 0xA6 {
			clog.Debug("Mode 0x1 PID 0x%x out of emulated range", pid)
			return false
		}
	case obd2.MODE_VEHICLE_INFO:
		if pid > 0x0B {
			clog.Debug("Mode 0x2 PID 0x%x out of emulated range", pid)
			return false
		}
	case obd2.MODE_ENHANCED_DATA:
		if pid < 0xDE00 || pid > 0xDEEF {
			clog.Debug("Mode 0x22 PID 0x%x out of emulated range", pid)
			return false
		}
	}
	return true
}

// handleEmulatedCommand publishes a synthetic response without touching the
// bus. Roughly half of the responses are negative, like a bench module that
// rejects unsupported requests.
func (m *DiagnosticsManager) handleEmulatedCommand(command *socket.DiagnosticRequestEvent, bus *can.Bus) bool {
	if command.Action == socket.DIAG_ACTION_CANCEL {
		return true
	}
	// an omitted PID is validated as zero, so modes whose range excludes
	// zero reject PID-less requests
	if !isSupportedMessageId(command.MessageId) ||
		!isSupportedMode(command.Mode) ||
		!isSupportedPid(command.Mode, command.Pid) {
		return false
	}

	message := &VehicleMessage{
		Type:      MESSAGE_TYPE_DIAGNOSTIC,
		Bus:       bus.Address,
		MessageId: emulatedMessageId(command.MessageId),
		Mode:      command.Mode,
	}
	if command.HasPid {
		pid := command.Pid
		message.Pid = &pid
	}

	if rand.Intn(2) == 0 {
		message.Success = true
		message.Value = &DynamicField{
			Type:         FIELD_TYPE_NUM,
			NumericValue: float64(rand.Intn(0x1000)),
		}
	} else {
		message.Success = false
		message.NegativeResponseCode = uint8(0x10 + rand.Intn(0xF1-0x10+1))
	}

	m.Pipeline.PublishVehicleMessage(message)
	return true
}

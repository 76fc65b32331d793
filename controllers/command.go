package controllers

import (
	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/models/can"
	"github.com/ovdx/candiag/models/isotp"
	"github.com/ovdx/candiag/models/obd2"
	"github.com/ovdx/candiag/socket"
)

func validateCommand(command *socket.DiagnosticRequestEvent) bool {
	if command.MessageId == 0 {
		clog.Warning("Diagnostic requests need a message_id")
		return false
	}
	if command.Mode == 0 {
		clog.Warning("Diagnostic requests need a mode")
		return false
	}
	return true
}

// lookupBus resolves the bus a command addresses. An unspecified (zero)
// address falls back to the first configured bus; an unknown nonzero address
// resolves to nothing.
func (m *DiagnosticsManager) lookupBus(address uint8) *can.Bus {
	bus := can.Lookup(m.buses, address)
	if bus == nil && address == 0 && len(m.buses) > 0 {
		bus = m.buses[0]
		clog.Debug("No bus specified for diagnostic request, using first active: %d", bus.Address)
	}
	return bus
}

// HandleDiagnosticCommand validates and executes one diagnostic control
// command, returning false if it was rejected.
func (m *DiagnosticsManager) HandleDiagnosticCommand(command *socket.DiagnosticRequestEvent) bool {
	if !validateCommand(command) {
		return false
	}

	bus := m.lookupBus(command.Bus)
	if bus == nil {
		clog.Warning("No matching bus for diagnostic request on bus %d", command.Bus)
		return false
	}

	if m.EmulatedData {
		return m.handleEmulatedCommand(command, bus)
	}

	if !bus.RawWritable {
		clog.Warning("Bus %d is not writable, dropping diagnostic request", bus.Address)
		return false
	}

	request := &isotp.Request{
		ArbitrationId: command.MessageId,
		Mode:          command.Mode,
		HasPid:        command.HasPid,
		Pid:           command.Pid,
		Payload:       command.Payload,
	}

	if command.Action == socket.DIAG_ACTION_CANCEL {
		if !m.CancelRecurringRequest(bus, request) {
			clog.Warning("No recurring request found to cancel: %s", request.String())
			return false
		}
		return true
	}

	var decoder DiagnosticResponseDecoder
	switch command.DecodedType {
	case socket.DECODED_TYPE_NONE:
		decoder = PassthroughDecoder
	case socket.DECODED_TYPE_OBD2:
		decoder = obd2.DecodePid
	default:
		// sniff: a standard mode 0x1 PID request gets the OBD-II decoder
		if obd2.IsObd2Request(request) {
			decoder = obd2.DecodePid
		}
	}

	// requests to the functional broadcast address always wait for responses
	// from multiple modules
	multipleResponses := command.MessageId == isotp.FUNCTIONAL_BROADCAST_ID ||
		command.MultipleResponses

	frequencyHz := float32(command.FrequencyMillihertz) / 1000

	if frequencyHz != 0 {
		return m.AddRecurringRequest(bus, request, command.Name, multipleResponses,
			decoder, nil, frequencyHz)
	}
	return m.AddRequest(bus, request, command.Name, multipleResponses, decoder, nil)
}

const vinRequestArbitrationId = 0x7E0

// HandleVinRequest answers from the cache when the VIN is already known, and
// otherwise starts the standard mode 0x9 query. It returns the cached VIN (or
// "") and whether a request is now pending.
func (m *DiagnosticsManager) HandleVinRequest() (string, bool) {
	if m.vin != "" {
		return m.vin, false
	}
	if m.vinRequestInProgress {
		return "", true
	}

	bus := m.lookupBus(0)
	if bus == nil {
		clog.Warning("No buses configured, cannot query VIN")
		return "", false
	}

	added := m.AddRequest(bus, obd2.NewVinRequest(vinRequestArbitrationId), "vin", false,
		func(response *isotp.Response, parsedPayload float64) string {
			vin, ok := obd2.DecodeVin(response.Payload)
			if !ok {
				clog.Warning("Received malformed VIN payload: 0x%x", response.Payload)
				return ""
			}
			return vin
		},
		func(manager *DiagnosticsManager, request *ActiveRequest,
			response *isotp.Response, parsedPayload float64) {
			manager.vinRequestInProgress = false
			if vin, ok := obd2.DecodeVin(response.Payload); ok {
				manager.vin = vin
				clog.Info("Cached VIN: %s", vin)
			}
		})

	if added {
		m.vinRequestInProgress = true
		m.SendRequests(bus)
	}
	return "", added
}

// initializeObd2 installs the recurring powertrain queries when an OBD-II bus
// is configured.
func (m *DiagnosticsManager) initializeObd2() {
	if m.obd2Bus == nil {
		return
	}

	queries := []struct {
		name string
		pid  uint16
	}{
		{"engine_speed", obd2.PID_ENGINE_SPEED},
		{"vehicle_speed", obd2.PID_VEHICLE_SPEED},
	}

	for _, query := range queries {
		request := &isotp.Request{
			ArbitrationId: isotp.FUNCTIONAL_BROADCAST_ID,
			Mode:          obd2.MODE_CURRENT_DATA,
			HasPid:        true,
			Pid:           query.pid,
		}
		if !m.AddRecurringRequest(m.obd2Bus, request, query.name, true, obd2.DecodePid, nil, 1) {
			clog.Warning("Unable to add recurring OBD-II request for %s", query.name)
		}
	}
}

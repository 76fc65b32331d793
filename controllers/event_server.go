package controllers

import (
	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/socket"
)

const VERSION = "1.0.0"

// Service ties the event socket to the diagnostics manager: upstream commands
// become manager operations on the serve goroutine, pipeline output is
// broadcast to every client.
type Service struct {
	Server  *socket.Server
	Manager *DiagnosticsManager
	Runner  *Runner
}

func NewService() *Service {
	server := socket.NewServer()
	manager := NewDiagnosticsManager(NewEventPipeline(server))
	service := &Service{
		Server:  server,
		Manager: manager,
		Runner:  NewRunner(manager),
	}
	service.registerHandlers()
	return service
}

func (s *Service) registerHandlers() {
	s.Server.RegisterHandler(socket.DiagnosticRequestEventId, s.diagnosticRequestHandler)
	s.Server.RegisterHandler(socket.BusStatusRequestEventId, s.busStatusRequestHandler)
	s.Server.RegisterHandler(socket.DeviceInformationRequestEventId, s.deviceInformationRequestHandler)
	s.Server.RegisterHandler(socket.VinRequestEventId, s.vinRequestHandler)
}

func (s *Service) diagnosticRequestHandler(c *socket.ClientDescriptor, event socket.Eventer) error {
	command := event.(*socket.DiagnosticRequestEvent)
	clog.DebugX("Diagnostic command from client %s: %s", c, command)

	if command.Action != socket.DIAG_ACTION_ADD && command.Action != socket.DIAG_ACTION_CANCEL {
		return c.SendAck(socket.ServerAckBadRequest)
	}

	var accepted bool
	s.Runner.Dispatch(func(m *DiagnosticsManager) {
		accepted = m.HandleDiagnosticCommand(command)
	})

	if !accepted {
		if command.Action == socket.DIAG_ACTION_CANCEL {
			return c.SendAck(socket.ServerAckNotFound)
		}
		return c.SendAck(socket.ServerAckGeneralFailure)
	}
	return c.SendAck(socket.ServerAckSuccess)
}

func (s *Service) busStatusRequestHandler(c *socket.ClientDescriptor, event socket.Eventer) error {
	response := socket.NewBusStatusEvent()
	s.Runner.Dispatch(func(m *DiagnosticsManager) {
		for _, bus := range m.Buses() {
			response.Append(socket.BusStatus{
				Address:     bus.Address,
				RawWritable: bus.RawWritable,
				FilterCount: uint8(bus.FilterCount()),
			})
		}
	})
	response.SetMsgId(event.MsgId())
	return c.SendEvent(response)
}

func (s *Service) deviceInformationRequestHandler(c *socket.ClientDescriptor, event socket.Eventer) error {
	response := socket.NewDeviceInformationEvent(VERSION)
	response.SetMsgId(event.MsgId())
	return c.SendEvent(response)
}

func (s *Service) vinRequestHandler(c *socket.ClientDescriptor, event socket.Eventer) error {
	var vin string
	var pending bool
	s.Runner.Dispatch(func(m *DiagnosticsManager) {
		vin, pending = m.HandleVinRequest()
	})

	if vin == "" && !pending {
		return c.SendAck(socket.ServerAckGeneralFailure)
	}
	response := socket.NewVinEvent(vin, vin != "")
	response.SetMsgId(event.MsgId())
	return c.SendEvent(response)
}

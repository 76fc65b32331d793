package controllers

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/models"
	"github.com/ovdx/candiag/models/can"
	"github.com/ovdx/candiag/models/isotp"
)

const (
	MAX_SIMULTANEOUS_DIAG_REQUESTS          = 8
	MAX_GENERIC_NAME_LENGTH                 = 40
	MAX_RECURRING_DIAGNOSTIC_FREQUENCY_HZ   = 10
	DIAGNOSTIC_RESPONSE_ARBITRATION_OFFSET  = 0x8
	DIAGNOSTIC_RESPONSE_TIMEOUT_FREQUENCY   = 10 // 100ms timeout window
)

// DiagnosticResponseDecoder turns a completed response into a textual value.
type DiagnosticResponseDecoder func(response *isotp.Response, parsedPayload float64) string

// DiagnosticResponseCallback is invoked after a response has been relayed to
// the pipeline.
type DiagnosticResponseCallback func(manager *DiagnosticsManager, request *ActiveRequest,
	response *isotp.Response, parsedPayload float64)

// PassthroughDecoder relays the response without interpretation: the parsed
// numeric payload for single-frame responses, the raw payload as text for
// multi-frame ones.
func PassthroughDecoder(response *isotp.Response, parsedPayload float64) string {
	if response.MultiFrame {
		return string(response.Payload)
	}
	return fmt.Sprintf("%f", parsedPayload)
}

// ActiveRequest is one outstanding diagnostic interaction, recycled through
// the manager's fixed slot pool.
type ActiveRequest struct {
	Bus                      *can.Bus
	ArbitrationId            uint32
	Handle                   isotp.Handle
	Name                     string
	WaitForMultipleResponses bool
	Decoder                  DiagnosticResponseDecoder
	Callback                 DiagnosticResponseCallback
	Recurring                bool
	FrequencyClock           models.FrequencyClock
	TimeoutClock             models.FrequencyClock
	InFlight                 bool
}

// DiagnosticsManager owns the slot pool and the per-bus protocol shims. All
// methods must be called from a single goroutine (the serve loop).
type DiagnosticsManager struct {
	Now                 func() time.Time
	Pipeline            Pipeline
	EmulatedData        bool
	MultiframeStreaming bool

	buses       []*can.Bus
	obd2Bus     *can.Bus
	shims       map[uint8]*isotp.Shims
	initialized bool

	requestEntries [MAX_SIMULTANEOUS_DIAG_REQUESTS]ActiveRequest
	free           []*ActiveRequest
	nonrecurring   []*ActiveRequest
	recurring      []*ActiveRequest

	prevFrame int

	vin                  string
	vinRequestInProgress bool
}

func NewDiagnosticsManager(pipeline Pipeline) *DiagnosticsManager {
	manager := &DiagnosticsManager{
		Now:       time.Now,
		Pipeline:  pipeline,
		shims:     make(map[uint8]*isotp.Shims),
		prevFrame: -1,
	}
	manager.free = make([]*ActiveRequest, 0, MAX_SIMULTANEOUS_DIAG_REQUESTS)
	manager.nonrecurring = make([]*ActiveRequest, 0, MAX_SIMULTANEOUS_DIAG_REQUESTS)
	manager.recurring = make([]*ActiveRequest, 0, MAX_SIMULTANEOUS_DIAG_REQUESTS)
	return manager
}

func sendDiagnosticCanMessage(bus *can.Bus, arbitrationId uint32, data []byte) bool {
	frame := can.NewFrame(arbitrationId, data)
	return bus.EnqueueMessage(frame)
}

// Initialize binds the codec shims to each bus and resets the slot pool.
func (m *DiagnosticsManager) Initialize(buses []*can.Bus, obd2BusAddress uint8) {
	m.buses = buses
	for _, bus := range buses {
		b := bus
		m.shims[b.Address] = isotp.NewShims(clog.Debug, func(arbitrationId uint32, data []byte) bool {
			return sendDiagnosticCanMessage(b, arbitrationId, data)
		})
	}

	m.Reset()
	m.initialized = true

	m.obd2Bus = can.Lookup(buses, obd2BusAddress)
	m.initializeObd2()
	clog.Debug("Initialized diagnostics")
}

func (m *DiagnosticsManager) Buses() []*can.Bus {
	return m.buses
}

// Reset cancels every active request and returns all slots to the free list.
func (m *DiagnosticsManager) Reset() {
	if m.initialized {
		clog.Debug("Clearing existing diagnostic requests")
		m.cleanupActiveRequests(true)
	}

	m.free = m.free[:0]
	m.nonrecurring = m.nonrecurring[:0]
	m.recurring = m.recurring[:0]
	for i := range m.requestEntries {
		m.free = append(m.free, &m.requestEntries[i])
	}

	clog.Debug("Reset diagnostics requests")
}

func (m *DiagnosticsManager) timedOut(request *ActiveRequest) bool {
	// don't use staggered start with the timeout clock
	return request.TimeoutClock.Elapsed(m.Now(), false)
}

// responseReceived is true when at least one response has arrived and the
// request is configured to not wait for multiple responses. Functional
// broadcast requests usually wait the full 100ms for modules to respond.
func (m *DiagnosticsManager) responseReceived(request *ActiveRequest) bool {
	return !request.WaitForMultipleResponses && request.Handle.Completed
}

func (m *DiagnosticsManager) requestCompleted(request *ActiveRequest) bool {
	return m.responseReceived(request) ||
		(m.timedOut(request) && request.Handle.RequestSent)
}

// cancelRequest moves the entry to the free list and releases the CAN
// filters it subscribed to.
func (m *DiagnosticsManager) cancelRequest(entry *ActiveRequest) {
	m.free = append(m.free, entry)
	if entry.ArbitrationId == isotp.FUNCTIONAL_BROADCAST_ID {
		for filter := uint32(isotp.FUNCTIONAL_RESPONSE_START); filter < isotp.FUNCTIONAL_RESPONSE_START+isotp.FUNCTIONAL_RESPONSE_COUNT; filter++ {
			entry.Bus.RemoveAcceptanceFilter(filter, can.STANDARD)
		}
	} else {
		entry.Bus.RemoveAcceptanceFilter(entry.ArbitrationId+DIAGNOSTIC_RESPONSE_ARBITRATION_OFFSET, can.STANDARD)
	}
}

func removeEntry(list []*ActiveRequest, entry *ActiveRequest) []*ActiveRequest {
	for i, e := range list {
		if e == entry {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (m *DiagnosticsManager) cleanupRequest(entry *ActiveRequest, force bool) {
	if !force && !(entry.InFlight && m.requestCompleted(entry)) {
		return
	}
	entry.InFlight = false

	requestString := entry.Handle.Request.String()
	if entry.Recurring {
		m.recurring = removeEntry(m.recurring, entry)
		if force {
			m.cancelRequest(entry)
		} else {
			clog.Debug("Moving completed recurring request to the back of the queue: %s", requestString)
			m.recurring = append(m.recurring, entry)
		}
	} else {
		clog.Debug("Cancelling completed, non-recurring request: %s", requestString)
		m.nonrecurring = removeEntry(m.nonrecurring, entry)
		m.cancelRequest(entry)
	}
}

// cleanupActiveRequests reclaims as many entries as possible. Completed
// one-shots go back to the free list, completed recurring entries rotate to
// the back of the queue.
func (m *DiagnosticsManager) cleanupActiveRequests(force bool) {
	var snapshot [MAX_SIMULTANEOUS_DIAG_REQUESTS]*ActiveRequest

	n := copy(snapshot[:], m.nonrecurring)
	for _, entry := range snapshot[:n] {
		m.cleanupRequest(entry, force)
	}

	n = copy(snapshot[:], m.recurring)
	for _, entry := range snapshot[:n] {
		m.cleanupRequest(entry, force)
	}
}

func conflicting(request, candidate *ActiveRequest) bool {
	return candidate.InFlight && candidate != request &&
		candidate.Bus == request.Bus &&
		candidate.ArbitrationId == request.ArbitrationId
}

// clearToSend is true if no other in-flight request shares the same bus and
// arbitration id.
func (m *DiagnosticsManager) clearToSend(request *ActiveRequest) bool {
	for _, entry := range m.nonrecurring {
		if conflicting(request, entry) {
			return false
		}
	}
	for _, entry := range m.recurring {
		if conflicting(request, entry) {
			return false
		}
	}
	return true
}

func (m *DiagnosticsManager) shouldSend(request *ActiveRequest) bool {
	return !request.InFlight &&
		((!request.Recurring && !m.requestCompleted(request)) ||
			(request.Recurring && request.FrequencyClock.Elapsed(m.Now(), true)))
}

func (m *DiagnosticsManager) sendRequest(bus *can.Bus, request *ActiveRequest) {
	if request.Bus != bus || !m.shouldSend(request) || !m.clearToSend(request) {
		return
	}
	now := m.Now()
	request.FrequencyClock.Tick(now)
	isotp.StartRequest(m.shims[bus.Address], &request.Handle)
	if request.Handle.Completed && !request.Handle.Success {
		clog.Error("Fatal error sending diagnostic request")
	} else {
		request.TimeoutClock = models.NewFrequencyClock(DIAGNOSTIC_RESPONSE_TIMEOUT_FREQUENCY)
		request.TimeoutClock.Tick(now)
		request.InFlight = true
	}
}

// SendRequests transmits every due request for one bus. Non-recurring
// requests go first, then the recurring queue in FIFO order.
func (m *DiagnosticsManager) SendRequests(bus *can.Bus) {
	m.cleanupActiveRequests(false)

	for _, entry := range m.nonrecurring {
		m.sendRequest(bus, entry)
	}
	for _, entry := range m.recurring {
		m.sendRequest(bus, entry)
	}
}

func (m *DiagnosticsManager) wrapDiagnosticResponse(request *ActiveRequest,
	response *isotp.Response, value *DynamicField, hasDecoder bool) *VehicleMessage {

	message := &VehicleMessage{
		Type:                 MESSAGE_TYPE_DIAGNOSTIC,
		Bus:                  request.Bus.Address,
		Mode:                 response.Mode,
		Success:              response.Success,
		NegativeResponseCode: response.NegativeResponseCode,
	}

	if request.ArbitrationId != isotp.FUNCTIONAL_BROADCAST_ID {
		message.MessageId = response.ArbitrationId - DIAGNOSTIC_RESPONSE_ARBITRATION_OFFSET
	} else {
		// must preserve the responding arb id for responses to functional
		// broadcast requests, as it is the actual module address and not just
		// arb id + 8.
		message.MessageId = response.ArbitrationId
	}

	if response.HasPid {
		pid := response.Pid
		message.Pid = &pid
	}

	if len(response.Payload) > 0 {
		if hasDecoder {
			message.Value = value
		} else {
			message.Payload = "0x" + hex.EncodeToString(response.Payload)
		}
	}
	return message
}

func (m *DiagnosticsManager) relayDiagnosticResponse(request *ActiveRequest, response *isotp.Response) {
	parsedValue := float64(isotp.PayloadToInteger(response))

	hasDecoder := request.Decoder != nil
	var decodedValue string
	if hasDecoder {
		decodedValue = request.Decoder(response, parsedValue)
	}

	var field DynamicField
	if response.MultiFrame {
		field.Type = FIELD_TYPE_STRING
		if !hasDecoder {
			decodedValue = string(response.Payload)
		}
		field.StringValue = decodedValue
	} else {
		field.Type = FIELD_TYPE_NUM
		if hasDecoder {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(decodedValue), 64); err == nil {
				field.NumericValue = parsed
			}
		} else {
			field.NumericValue = parsedValue
		}
	}

	if response.Success && len(request.Name) > 0 {
		// with a name, publish a bare signal and leave off response details
		if field.StringValue != "" {
			m.Pipeline.PublishStringMessage(request.Name, field.StringValue)
		} else {
			m.Pipeline.PublishNumericalMessage(request.Name, field.NumericValue)
		}
	} else {
		message := m.wrapDiagnosticResponse(request, response, &field, hasDecoder)
		m.Pipeline.PublishVehicleMessage(message)
	}

	if request.Callback != nil {
		request.Callback(m, request, response, parsedValue)
	}
}

// sendPartialMessage hand-forms the streamed JSON line for one partial
// multi-frame response.
func (m *DiagnosticsManager) sendPartialMessage(timestamp int64, frame int, messageId uint32,
	bus uint8, totalSize int, mode uint8, pid uint16, value int,
	negativeResponseCode uint8, payload []byte) {

	message := fmt.Sprintf(`{"timestamp":%d,"frame":%d,"message_id":%d,"bus":%d,"total_size":%d,"mode":%d,"pid":%d,"value":%d`,
		timestamp, frame, messageId+8, bus, totalSize, mode, pid, value)

	if negativeResponseCode != 0 {
		message += fmt.Sprintf(`,"success":false,"negative_response_code":%d`, negativeResponseCode)
	} else {
		message += `,"success":true`
	}

	message += `,"payload":"0x` + hex.EncodeToString(payload) + `"}`

	clog.DebugX("Streaming partial frame: %s", message)
	m.Pipeline.SendPartialMessage([]byte(message))
}

// relayPartialFrame streams one partial multi-frame response. The frame
// counter resets to -1 on the final frame of a response.
func (m *DiagnosticsManager) relayPartialFrame(request *ActiveRequest, response *isotp.Response) {
	frame := m.prevFrame + 1
	if response.Completed {
		frame = -1
	}
	m.prevFrame = frame

	m.sendPartialMessage(0, frame, response.ArbitrationId, request.Bus.Address,
		0, response.Mode, response.Pid, 0, response.NegativeResponseCode, response.Payload)

	if response.Completed && request.Callback != nil {
		request.Callback(m, request, response, float64(isotp.PayloadToInteger(response)))
	}
}

func (m *DiagnosticsManager) receiveForEntry(bus *can.Bus, entry *ActiveRequest, frame *can.Frame) {
	if bus != entry.Bus || !entry.InFlight {
		return
	}

	response := isotp.ReceiveCanFrame(m.shims[bus.Address], &entry.Handle,
		frame.Id, frame.Data[:frame.Dlc])

	if response.MultiFrame {
		if m.MultiframeStreaming {
			m.relayPartialFrame(entry, &response)
		}
		if !response.Completed {
			// the continuation is alive, push the timeout out
			entry.TimeoutClock.Tick(m.Now())
		} else if !m.MultiframeStreaming {
			m.relayDiagnosticResponse(entry, &response)
		}
	} else if response.Completed && entry.Handle.Completed {
		if entry.Handle.Success {
			m.relayDiagnosticResponse(entry, &response)
		} else {
			clog.Error("Fatal error sending or receiving diagnostic request")
		}
	}
}

// ReceiveCanFrame fans one received frame out to every in-flight request on
// the bus.
func (m *DiagnosticsManager) ReceiveCanFrame(bus *can.Bus, frame *can.Frame) {
	for _, entry := range m.recurring {
		m.receiveForEntry(bus, entry, frame)
	}
	for _, entry := range m.nonrecurring {
		m.receiveForEntry(bus, entry, frame)
	}
	m.cleanupActiveRequests(false)
}

// findRecurringRequest locates an equivalent recurring request without
// disturbing the queue.
func (m *DiagnosticsManager) findRecurringRequest(bus *can.Bus, request *isotp.Request) *ActiveRequest {
	for _, entry := range m.recurring {
		if entry.Bus == bus && isotp.RequestEquals(&entry.Handle.Request, request) {
			return entry
		}
	}
	return nil
}

// CancelRecurringRequest removes a recurring request, releasing its slot and
// filters. It returns false if no matching request exists.
func (m *DiagnosticsManager) CancelRecurringRequest(bus *can.Bus, request *isotp.Request) bool {
	entry := m.findRecurringRequest(bus, request)
	if entry != nil {
		m.recurring = removeEntry(m.recurring, entry)
		m.cancelRequest(entry)
	}
	return entry != nil
}

// getFreeEntry peeks at the free list without removing the entry, because
// admission can still fail before the entry lands on another list.
func (m *DiagnosticsManager) getFreeEntry() *ActiveRequest {
	if len(m.free) == 0 {
		clog.Warning("Unable to allocate space for a new diagnostic request")
		return nil
	}
	return m.free[len(m.free)-1]
}

func (m *DiagnosticsManager) popFreeEntry() {
	m.free = m.free[:len(m.free)-1]
}

// updateRequiredAcceptanceFilters subscribes the bus to the response ids of
// the request: the full functional range for broadcasts, arb id + 8
// otherwise.
func updateRequiredAcceptanceFilters(bus *can.Bus, request *isotp.Request) bool {
	filterStatus := true
	if request.ArbitrationId == isotp.FUNCTIONAL_BROADCAST_ID {
		for filter := uint32(isotp.FUNCTIONAL_RESPONSE_START); filter < isotp.FUNCTIONAL_RESPONSE_START+isotp.FUNCTIONAL_RESPONSE_COUNT; filter++ {
			filterStatus = filterStatus && bus.AddAcceptanceFilter(filter, can.STANDARD)
		}
	} else {
		filterStatus = bus.AddAcceptanceFilter(
			request.ArbitrationId+DIAGNOSTIC_RESPONSE_ARBITRATION_OFFSET, can.STANDARD)
	}

	if !filterStatus {
		clog.Warning("Couldn't add filter 0x%x to bus %d", request.ArbitrationId, bus.Address)
	}
	return filterStatus
}

func (m *DiagnosticsManager) updateDiagnosticRequestEntry(entry *ActiveRequest, bus *can.Bus,
	request *isotp.Request, name string, waitForMultipleResponses bool,
	decoder DiagnosticResponseDecoder, callback DiagnosticResponseCallback, frequencyHz float32) {

	entry.Bus = bus
	entry.ArbitrationId = request.ArbitrationId
	entry.Handle = isotp.GenerateRequest(m.shims[bus.Address], request)
	if len(name) > MAX_GENERIC_NAME_LENGTH {
		name = name[:MAX_GENERIC_NAME_LENGTH]
	}
	entry.Name = name
	entry.WaitForMultipleResponses = waitForMultipleResponses
	entry.Decoder = decoder
	entry.Callback = callback
	entry.Recurring = frequencyHz != 0
	entry.FrequencyClock = models.FrequencyClock{}
	if entry.Recurring {
		entry.FrequencyClock.Frequency = frequencyHz
	}
	// time out after 100ms
	entry.TimeoutClock = models.NewFrequencyClock(DIAGNOSTIC_RESPONSE_TIMEOUT_FREQUENCY)
	entry.InFlight = false
}

// AddRequest admits a one-shot diagnostic request.
func (m *DiagnosticsManager) AddRequest(bus *can.Bus, request *isotp.Request, name string,
	waitForMultipleResponses bool, decoder DiagnosticResponseDecoder,
	callback DiagnosticResponseCallback) bool {

	m.cleanupActiveRequests(false)

	entry := m.getFreeEntry()
	if entry == nil {
		return false
	}
	if !updateRequiredAcceptanceFilters(bus, request) {
		return false
	}

	m.updateDiagnosticRequestEntry(entry, bus, request, name, waitForMultipleResponses,
		decoder, callback, 0)

	m.popFreeEntry()
	m.nonrecurring = append([]*ActiveRequest{entry}, m.nonrecurring...)
	clog.Debug("Added one-time diagnostic request on bus %d: %s",
		bus.Address, entry.Handle.Request.String())
	return true
}

func validateOptionalRequestAttributes(frequencyHz float32) bool {
	if frequencyHz > MAX_RECURRING_DIAGNOSTIC_FREQUENCY_HZ {
		clog.Warning("Requested recurring diagnostic frequency %f is higher than maximum of %d",
			frequencyHz, MAX_RECURRING_DIAGNOSTIC_FREQUENCY_HZ)
		return false
	}
	return true
}

// AddRecurringRequest admits a recurring request at the head of the queue,
// so new requests get priority on the next scheduling pass.
func (m *DiagnosticsManager) AddRecurringRequest(bus *can.Bus, request *isotp.Request, name string,
	waitForMultipleResponses bool, decoder DiagnosticResponseDecoder,
	callback DiagnosticResponseCallback, frequencyHz float32) bool {

	if !validateOptionalRequestAttributes(frequencyHz) {
		return false
	}

	m.cleanupActiveRequests(false)

	if m.findRecurringRequest(bus, request) != nil {
		clog.Warning("Can't add request, one already exists with same key")
		return false
	}

	entry := m.getFreeEntry()
	if entry == nil {
		return false
	}
	if !updateRequiredAcceptanceFilters(bus, request) {
		return false
	}

	m.updateDiagnosticRequestEntry(entry, bus, request, name, waitForMultipleResponses,
		decoder, callback, frequencyHz)

	m.popFreeEntry()
	m.recurring = append([]*ActiveRequest{entry}, m.recurring...)
	clog.Debug("Added recurring diagnostic request (freq: %f) on bus %d: %s",
		frequencyHz, bus.Address, entry.Handle.Request.String())
	return true
}

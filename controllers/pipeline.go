package controllers

import (
	"encoding/json"

	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/socket"
)

type DynamicFieldType int

const (
	FIELD_TYPE_NUM DynamicFieldType = iota
	FIELD_TYPE_STRING
)

// DynamicField is a value that is either numeric or text, depending on what
// the decoder produced.
type DynamicField struct {
	Type         DynamicFieldType
	NumericValue float64
	StringValue  string
}

func (field *DynamicField) MarshalJSON() ([]byte, error) {
	if field.Type == FIELD_TYPE_STRING {
		return json.Marshal(field.StringValue)
	}
	return json.Marshal(field.NumericValue)
}

// VehicleMessage is a structured diagnostic response bound for the output
// pipeline.
type VehicleMessage struct {
	Type                 string        `json:"type"`
	Bus                  uint8         `json:"bus"`
	MessageId            uint32        `json:"message_id"`
	Mode                 uint8         `json:"mode"`
	Pid                  *uint16       `json:"pid,omitempty"`
	Success              bool          `json:"success"`
	NegativeResponseCode uint8         `json:"negative_response_code,omitempty"`
	Value                *DynamicField `json:"value,omitempty"`
	Payload              string        `json:"payload,omitempty"`
}

const MESSAGE_TYPE_DIAGNOSTIC = "diagnostic"

// namedSignal is the compact output form used when a request carries a name.
type namedSignal struct {
	Name  string        `json:"name"`
	Value *DynamicField `json:"value"`
}

// Pipeline is where decoded vehicle data leaves the manager.
type Pipeline interface {
	PublishNumericalMessage(name string, value float64)
	PublishStringMessage(name string, value string)
	PublishVehicleMessage(message *VehicleMessage)
	SendPartialMessage(data []byte)
}

// EventPipeline broadcasts vehicle messages to every connected socket
// client.
type EventPipeline struct {
	Server *socket.Server
}

func NewEventPipeline(server *socket.Server) *EventPipeline {
	return &EventPipeline{Server: server}
}

func (p *EventPipeline) publish(value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		clog.Error("Could not marshal vehicle message: %s", err)
		return
	}
	p.Server.Broadcast(socket.NewVehicleMessageEvent(data))
}

func (p *EventPipeline) PublishNumericalMessage(name string, value float64) {
	p.publish(&namedSignal{Name: name, Value: &DynamicField{Type: FIELD_TYPE_NUM, NumericValue: value}})
}

func (p *EventPipeline) PublishStringMessage(name string, value string) {
	p.publish(&namedSignal{Name: name, Value: &DynamicField{Type: FIELD_TYPE_STRING, StringValue: value}})
}

func (p *EventPipeline) PublishVehicleMessage(message *VehicleMessage) {
	p.publish(message)
}

func (p *EventPipeline) SendPartialMessage(data []byte) {
	p.Server.Broadcast(socket.NewPartialFrameDataEvent(data))
}

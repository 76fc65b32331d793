package socket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omzlo/clog"
	"github.com/omzlo/go-sscp"
)

const (
	HELLO_MAJOR = 1
	HELLO_MINOR = 0
)

var TimeoutError = errors.New("Event response timeout")

type EventCallback func(*EventConn, Eventer) error

// EventConn is the client side of the event socket, used by tools that
// submit diagnostic requests and subscribe to the vehicle message pipeline.
type EventConn struct {
	Conn       *sscp.Conn
	Addr       string
	ClientName string
	AuthToken  string
	Connected  bool
	MsgId      uint16
	Callbacks  map[EventId]EventCallback

	mutex     sync.Mutex
	responses chan Eventer
}

func NewEventConn(addr string, clientName string, auth string) *EventConn {
	if addr == "" {
		addr = ":4242"
	}
	return &EventConn{
		Addr:       addr,
		ClientName: clientName,
		AuthToken:  auth,
		MsgId:      1,
		Callbacks:  make(map[EventId]EventCallback),
		responses:  make(chan Eventer, 32),
	}
}

func (conn *EventConn) OnEvent(eid EventId, cb EventCallback) {
	if cb == nil {
		delete(conn.Callbacks, eid)
	} else {
		conn.Callbacks[eid] = cb
	}
}

// Connect dials the server and performs the hello exchange.
func (conn *EventConn) Connect() error {
	sscpConn, err := sscp.Dial("tcp", conn.Addr, []byte(conn.ClientName), []byte(conn.AuthToken))
	if err != nil {
		return err
	}
	conn.Conn = sscpConn
	conn.MsgId = 1

	hello := NewClientHelloEvent(conn.ClientName, HELLO_MAJOR, HELLO_MINOR)
	hello.SetMsgId(conn.MsgId)
	if err = EncodeEvent(conn.Conn, hello); err != nil {
		conn.Close()
		return err
	}
	conn.MsgId++

	response, err := DecodeEvent(conn.Conn)
	if err != nil {
		conn.Close()
		return err
	}
	if response.Id() != ServerHelloEventId {
		conn.Close()
		return fmt.Errorf("Expected ServerHelloEvent, got %d (%s)", response.Id(), response.Id())
	}

	conn.Connected = true
	go conn.readEventLoop()

	clog.Debug("Opened connection to %s from %s", conn.Conn.RemoteAddr(), conn.Conn.LocalAddr())
	return nil
}

func (conn *EventConn) readEventLoop() {
	for {
		event, err := DecodeEvent(conn.Conn)
		if err != nil {
			close(conn.responses)
			return
		}
		if event.MsgId() == 0 {
			if cb := conn.Callbacks[event.Id()]; cb != nil {
				if err := cb(conn, event); err != nil {
					clog.Warning("Event callback for %s failed: %s", event.Id(), err)
				}
			}
			continue
		}
		conn.responses <- event
	}
}

// Request sends an event and waits for the server's direct response.
func (conn *EventConn) Request(request Eventer) (Eventer, error) {
	conn.mutex.Lock()
	if !conn.Connected {
		conn.mutex.Unlock()
		return nil, errors.New("Sending event on a closed connection.")
	}
	if conn.MsgId == 0 {
		conn.MsgId = 1
	}
	request.SetMsgId(conn.MsgId)
	conn.MsgId++
	err := EncodeEvent(conn.Conn, request)
	conn.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	timeout := time.NewTimer(3 * time.Second)
	defer timeout.Stop()
	select {
	case response, more := <-conn.responses:
		if !more {
			return nil, errors.New("Connection closed while waiting for response")
		}
		return response, nil
	case <-timeout.C:
		return nil, TimeoutError
	}
}

// RequestAck sends an event expecting a plain server acknowledgement and
// reports whether it was a success.
func (conn *EventConn) RequestAck(request Eventer) (bool, error) {
	response, err := conn.Request(request)
	if err != nil {
		return false, err
	}
	ack, ok := response.(*ServerAckEvent)
	if !ok {
		return false, fmt.Errorf("Expected ServerAckEvent, got %s", response.Id())
	}
	return ack.Code == ServerAckSuccess, nil
}

func (conn *EventConn) Close() error {
	conn.Connected = false
	return conn.Conn.Close()
}

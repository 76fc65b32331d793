package socket

import (
	"fmt"
	"io"
	"sync"

	"github.com/omzlo/clog"
	"github.com/omzlo/go-sscp"
)

/****************************************************************************/

// ClientDescriptor represents a single connection from an external client
// through TCP/IP.
type ClientDescriptor struct {
	Id              uint
	Server          *Server
	Conn            *sscp.Conn
	OutputChan      chan Eventer
	TerminationChan chan bool
	Connected       bool
	Next            *ClientDescriptor
	LastMsgId       uint16
}

func (c *ClientDescriptor) Name() string {
	return fmt.Sprintf("%d (%s)", c.Id, c.Conn.RemoteAddr())
}

func (c *ClientDescriptor) String() string {
	return c.Name()
}

func (c *ClientDescriptor) SendEvent(event Eventer) error {
	if !c.Connected {
		return fmt.Errorf("Put failed, client %s is not connected", c)
	}
	c.OutputChan <- event
	return nil
}

func (c *ClientDescriptor) SendAck(ack byte) error {
	response := NewServerAckEvent(ack)
	response.SetMsgId(c.LastMsgId)
	return c.SendEvent(response)
}

/****************************************************************************/

// Server accepts authenticated sscp connections, dispatches decoded events
// to registered handlers and broadcasts pipeline output to every client.

type EventHandler func(*ClientDescriptor, Eventer) error

type Server struct {
	Mutex    sync.Mutex
	topId    uint
	ls       *sscp.Listener
	clients  *ClientDescriptor
	handlers map[EventId]EventHandler
}

func NewServer() *Server {
	s := &Server{handlers: make(map[EventId]EventHandler)}
	s.RegisterHandler(ClientHelloEventId, clientHelloHandler)
	return s
}

func clientHelloHandler(c *ClientDescriptor, event Eventer) error {
	hello := event.(*ClientHelloEvent)
	clog.Debug("Client %s identified as %s %d.%d", c, hello.Tool, hello.VersionMajor, hello.VersionMinor)
	response := NewServerHelloEvent("candiag", HELLO_MAJOR, HELLO_MINOR)
	response.SetMsgId(event.MsgId())
	return c.SendEvent(response)
}

func (s *Server) NewClient(conn *sscp.Conn) *ClientDescriptor {
	c := new(ClientDescriptor)
	c.Server = s
	c.Conn = conn
	c.OutputChan = make(chan Eventer, 16)
	// buffered so the writer can terminate itself without a rendezvous
	c.TerminationChan = make(chan bool, 2)
	c.Connected = true

	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	c.Next = s.clients
	c.Id = s.topId
	s.topId++
	s.clients = c
	return c
}

func (s *Server) DeleteClient(c *ClientDescriptor) bool {
	c.Connected = false
	c.Conn.Close()

	s.Mutex.Lock()
	defer s.Mutex.Unlock()

	ptr := &s.clients
	for *ptr != nil {
		if *ptr == c {
			*ptr = c.Next
			clog.DebugXX("Deleting client %s, closing channel and socket", c)
			return true
		}
		ptr = &((*ptr).Next)
	}
	return false
}

func (s *Server) Broadcast(event Eventer) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()

	for c := s.clients; c != nil; c = c.Next {
		c.SendEvent(event)
	}
}

func (s *Server) RegisterHandler(eid EventId, fn EventHandler) {
	if s.handlers[eid] != nil {
		clog.Warning("Replacing existing event handler for event %d", eid)
	}
	s.handlers[eid] = fn
}

func (s *Server) runClient(c *ClientDescriptor) {
	go func() {
		for {
			select {
			case event := <-c.OutputChan:
				if err := EncodeEvent(c.Conn, event); err != nil {
					clog.Warning("Client %s: %s", c, err)
					c.TerminationChan <- true
				}
			case <-c.TerminationChan:
				s.DeleteClient(c)
				return
			}
		}
	}()

	for {
		event, err := DecodeEvent(c.Conn)

		if err != nil {
			if err == io.EOF {
				clog.Info("Client %s closed connection", c)
			} else {
				clog.Warning("Client %s: %s", c, err)
			}
			break
		}

		clog.DebugX("Processing event %s(%d) from client %s", event.Id(), event.Id(), c)

		if event.MsgId() != 0 {
			c.LastMsgId++
			if c.LastMsgId == 0 {
				c.LastMsgId = 1
			}
			if c.LastMsgId != event.MsgId() {
				clog.Warning("Client MsgId mismatch: expected %d but got %d", c.LastMsgId, event.MsgId())
				break
			}
		}

		handler := s.handlers[event.Id()]
		if handler != nil {
			if err = handler(c, event); err != nil {
				clog.Error("Handler for event %s(%d) failed: %s", event.Id(), event.Id(), err)
				break
			}
		} else {
			clog.Warning("No handler found for event id %d", event.Id())
			break
		}
	}
	c.TerminationChan <- true
}

func (s *Server) ListenAndServe(addr string, authToken string) error {
	ls, err := sscp.Listen("tcp", addr, []byte("candiag"), []byte(authToken))
	if err != nil {
		return err
	}

	clog.Info("Listening for clients at %s", ls.Addr())
	s.ls = ls

	for {
		conn, err := s.ls.Accept()
		if err != nil {
			clog.Error("Server could not accept connection: %s", err)
		} else {
			client := s.NewClient(conn)
			clog.Debug("Created and authenticated new client %s", client)
			go s.runClient(client)
		}
	}
}

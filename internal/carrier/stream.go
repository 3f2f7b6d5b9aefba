package carrier

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Handlers are invoked synchronously from ReadPump's goroutine.
type Handlers struct {
	OnStart func(Start)
	// OnMedia receives raw base64 µ-law payload for the inbound track; the
	// caller decodes with encoding/base64 itself since no resampling happens
	// here.
	OnMedia func(base64Payload string)
	OnStop  func(Stop)
	OnMark  func(name string)
	// OnClosed fires once when the read loop exits for any reason.
	OnClosed func(error)
}

// Conn wraps one carrier-side WebSocket connection for a single call.
type Conn struct {
	ws *websocket.Conn
	h  Handlers

	writeMu sync.Mutex

	mu        sync.Mutex
	streamSid string
	callSid   string
	closed    bool
}

// New wraps an already-upgraded WebSocket connection.
func New(ws *websocket.Conn, h Handlers) *Conn {
	return &Conn{ws: ws, h: h}
}

// StreamSid and CallSid are populated once the start event has arrived.
func (c *Conn) StreamSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSid
}

func (c *Conn) CallSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSid
}

// ReadPump blocks reading and dispatching carrier events until the socket
// closes. Meant to run in its own goroutine.
func (c *Conn) ReadPump() {
	var closeErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.h.OnClosed != nil {
			c.h.OnClosed(closeErr)
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			closeErr = err
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Event {
	case "connected":
		// No payload of interest; Twilio always sends this first.
	case "start":
		if msg.Start == nil {
			return
		}
		c.mu.Lock()
		c.streamSid = msg.Start.StreamSid
		c.callSid = msg.Start.CallSid
		c.mu.Unlock()
		if c.h.OnStart != nil {
			c.h.OnStart(*msg.Start)
		}
	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return
		}
		if c.h.OnMedia != nil {
			c.h.OnMedia(msg.Media.Payload)
		}
	case "stop":
		if c.h.OnStop != nil && msg.Stop != nil {
			c.h.OnStop(*msg.Stop)
		}
	case "mark":
		if msg.Mark == nil {
			return
		}
		if c.h.OnMark != nil {
			c.h.OnMark(msg.Mark.Name)
		}
	}
}

// SendMedia forwards one base64 µ-law chunk to the carrier.
func (c *Conn) SendMedia(base64Payload string) error {
	return c.write(newMediaMessage(c.StreamSid(), base64Payload))
}

// SendMark asks the carrier to echo back name once it has actually played
// the audio queued up to this point.
func (c *Conn) SendMark(name string) error {
	return c.write(newMarkMessage(c.StreamSid(), name))
}

// SendClear flushes the carrier's buffered-but-unplayed audio, the carrier
// side of a confirmed barge-in.
func (c *Conn) SendClear() error {
	return c.write(newClearMessage(c.StreamSid()))
}

func (c *Conn) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("carrier: write %s: %w", msg.Event, err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

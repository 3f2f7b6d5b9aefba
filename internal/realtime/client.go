package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers is the set of callbacks the owner goroutine supplies; each is
// invoked synchronously from the single reader goroutine (ReadPump), so
// handler bodies must not block on the Client itself.
type Handlers struct {
	OnSessionUpdated   func(SessionUpdatedEvent)
	OnOutputItemAdded  func(ResponseOutputItemAddedEvent)
	OnAudioDelta       func(ResponseAudioDeltaEvent)
	OnResponseDone     func(ResponseDoneEvent)
	OnTranscriptDone   func(InputAudioTranscriptDoneEvent)
	OnSpeechStarted    func(SpeechStartedEvent)
	OnSpeechStopped    func(SpeechStoppedEvent)
	OnError            func(ErrorEvent)
	// OnClosed fires once, from ReadPump, when the connection drops for any
	// reason (remote close, read error, or Close having been called).
	OnClosed func(error)
}

// Client owns one WebSocket connection to the cloud speech model. All
// Send* methods are safe for concurrent use; writes are serialized with a
// mutex because gorilla/websocket forbids concurrent writers on one conn.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool

	h Handlers
}

// Dial opens the model WebSocket using the given URL and headers (typically
// carrying the Authorization bearer token and a beta feature header).
func Dial(ctx context.Context, url string, header http.Header, h Handlers) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		return nil, fmt.Errorf("realtime: dial %s: %w (status %s)", url, err, status)
	}
	return &Client{conn: conn, h: h}, nil
}

// ReadPump blocks reading events off the connection and dispatching them to
// the configured Handlers until the connection closes. Intended to run in
// its own goroutine; returns (does not panic) once the socket is gone.
func (c *Client) ReadPump() {
	var closeErr error
	defer func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()
		if c.h.OnClosed != nil {
			c.h.OnClosed(closeErr)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			closeErr = err
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelopeType
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("realtime: malformed event: %v", err)
		return
	}

	switch env.Type {
	case ServerEventSessionUpdated:
		if c.h.OnSessionUpdated == nil {
			return
		}
		var ev SessionUpdatedEvent
		if unmarshalInto(data, &ev) {
			c.h.OnSessionUpdated(ev)
		}
	case ServerEventResponseOutputItemAdded:
		if c.h.OnOutputItemAdded == nil {
			return
		}
		var ev ResponseOutputItemAddedEvent
		if unmarshalInto(data, &ev) {
			c.h.OnOutputItemAdded(ev)
		}
	case ServerEventResponseAudioDelta, ServerEventResponseOutputAudioDelta:
		if c.h.OnAudioDelta == nil {
			return
		}
		var ev ResponseAudioDeltaEvent
		if unmarshalInto(data, &ev) {
			c.h.OnAudioDelta(ev)
		}
	case ServerEventResponseDone:
		if c.h.OnResponseDone == nil {
			return
		}
		var ev ResponseDoneEvent
		if unmarshalInto(data, &ev) {
			c.h.OnResponseDone(ev)
		}
	case ServerEventInputAudioTranscriptDone:
		if c.h.OnTranscriptDone == nil {
			return
		}
		var ev InputAudioTranscriptDoneEvent
		if unmarshalInto(data, &ev) {
			c.h.OnTranscriptDone(ev)
		}
	case ServerEventSpeechStarted:
		if c.h.OnSpeechStarted == nil {
			return
		}
		var ev SpeechStartedEvent
		if unmarshalInto(data, &ev) {
			c.h.OnSpeechStarted(ev)
		}
	case ServerEventSpeechStopped:
		if c.h.OnSpeechStopped == nil {
			return
		}
		var ev SpeechStoppedEvent
		if unmarshalInto(data, &ev) {
			c.h.OnSpeechStopped(ev)
		}
	case ServerEventError:
		if c.h.OnError == nil {
			return
		}
		var ev ErrorEvent
		if unmarshalInto(data, &ev) {
			c.h.OnError(ev)
		}
	default:
		// Unknown event types are expected as the upstream protocol grows;
		// ignore rather than fail the call.
	}
}

func unmarshalInto(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("realtime: failed to decode event into %T: %v", v, err)
		return false
	}
	return true
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// UpdateSession sends a session.update with the given configuration.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	return c.send(SessionUpdateEvent{Type: EventSessionUpdate, Session: cfg})
}

// CreateResponse requests the model produce a response. greetingInstructions
// is non-empty only for the initial greeting; pass "" for normal turns.
func (c *Client) CreateResponse(greetingInstructions string) error {
	ev := ResponseCreateEvent{Type: EventResponseCreate}
	if greetingInstructions != "" {
		ev.Response = &ResponseOptions{Instructions: greetingInstructions}
	}
	return c.send(ev)
}

// AppendAudio forwards one base64-encoded µ-law chunk from the carrier.
func (c *Client) AppendAudio(base64Audio string) error {
	return c.send(InputAudioBufferAppendEvent{Type: EventInputAudioBufferAppend, Audio: base64Audio})
}

// TruncateItem tells the model that audio after audioEndMs of itemID's
// content item was never actually heard by the caller.
func (c *Client) TruncateItem(itemID string, contentIndex, audioEndMs int) error {
	return c.send(ConversationItemTruncateEvent{
		Type:         EventConversationItemTruncate,
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	})
}

// SendToolOutput injects the finalize_reservation result back into the
// conversation and asks the model to continue speaking.
func (c *Client) SendToolOutput(callID, output string) error {
	if err := c.send(ConversationItemCreateEvent{
		Type: EventConversationItemCreate,
		Item: FunctionCallOutput{Type: "function_call_output", CallID: callID, Output: output},
	}); err != nil {
		return err
	}
	return c.CreateResponse("")
}

// CancelResponse cancels any response currently being generated; the
// "response_cancel_not_active" error this can trigger is benign and handled
// by the caller via ErrorEvent.IsBenignCancel.
func (c *Client) CancelResponse() error {
	return c.send(ResponseCancelEvent{Type: EventResponseCancel})
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Package orchestrator wires the Carrier Media Adapter, the Realtime
// Client, the Playback Tracker, the Barge-in Controller, and the
// Reservation Finalizer into a single per-call lifecycle. A small number of
// reader goroutines feed a single owning goroutine over a channel, so all
// Call field mutation happens on one goroutine and needs no mutex.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rukataka0505/ailuna-call-engine/internal/bargein"
	"github.com/rukataka0505/ailuna-call-engine/internal/calllog"
	"github.com/rukataka0505/ailuna-call-engine/internal/carrier"
	"github.com/rukataka0505/ailuna-call-engine/internal/playback"
	"github.com/rukataka0505/ailuna-call-engine/internal/realtime"
	"github.com/rukataka0505/ailuna-call-engine/internal/reservation"
	"github.com/rukataka0505/ailuna-call-engine/internal/storage"
	"github.com/rukataka0505/ailuna-call-engine/internal/tenant"
)

// defaultSessionReadyTimeout bounds how long we wait for session.updated
// after the greeting session.update is sent, when Deps.SessionReadyTimeout
// is left unset.
const defaultSessionReadyTimeout = 3 * time.Second

// greetingCompleteFraction is the fraction of greetingSentMs playback that
// must be acknowledged before the call moves from greeting to normal phase.
const greetingCompleteFraction = 0.9

// CarrierConn is the subset of *carrier.Conn the orchestrator needs; an
// interface here so tests can supply a fake.
type CarrierConn interface {
	SendMedia(base64Payload string) error
	SendMark(name string) error
	SendClear() error
	Close() error
}

// ModelConn is the subset of *realtime.Client the orchestrator needs.
type ModelConn interface {
	UpdateSession(cfg realtime.SessionConfig) error
	CreateResponse(greetingInstructions string) error
	AppendAudio(base64Audio string) error
	TruncateItem(itemID string, contentIndex, audioEndMs int) error
	SendToolOutput(callID, output string) error
	CancelResponse() error
	Close() error
}

// eventKind discriminates the single event channel every reader goroutine
// and timer feeds into the owning goroutine.
type eventKind int

const (
	evCarrierMedia eventKind = iota
	evCarrierMark
	evCarrierStop
	evCarrierClosed
	evModelSessionUpdated
	evModelOutputItemAdded
	evModelAudioDelta
	evModelResponseDone
	evModelTranscriptDone
	evModelSpeechStarted
	evModelSpeechStopped
	evModelError
	evModelClosed
	evBargeConfirmed
	evSessionReadyTimeout
)

type event struct {
	kind       eventKind
	str        string
	err        error
	outputItem realtime.ResponseOutputItemAddedEvent
	respDone   realtime.ResponseDoneEvent
}

// TranscriptTurn is one logged utterance.
type TranscriptTurn struct {
	Role string
	Text string
	At   time.Time
}

// Call owns one phone call end to end. Every exported method that mutates
// state just posts an event; only run() (the owning goroutine) touches the
// unexported fields below.
type Call struct {
	streamID string
	callID   string
	tenantID string

	carrierConn CarrierConn
	model       ModelConn
	tracker     *playback.Tracker
	barge       *bargein.Controller
	finalizer   *reservation.Finalizer
	resStore    reservation.Store
	assembled   tenant.Assembled
	logSink     *calllog.Sink
	registry    *Registry
	archiver    storage.Archiver

	sessionReadyTimeout time.Duration

	events chan event

	phase              bargein.Phase
	greetingSentMs      int
	greetingAcked      bool
	sessionReadyTimer  *time.Timer
	transcript         []TranscriptTurn
	reservationDone    bool
	done               chan struct{}
}

// Deps bundles the collaborators Start needs; constructed by the HTTP/WS
// entrypoint once per call.
type Deps struct {
	StreamID    string
	CallID      string
	TenantID    string
	Carrier     CarrierConn
	Model       ModelConn
	Finalizer   *reservation.Finalizer
	ResStore    reservation.Store
	Assembled   tenant.Assembled
	LogSink     *calllog.Sink
	Registry    *Registry
	// Archiver is optional; when nil, call artifacts are simply not archived.
	Archiver storage.Archiver
	// SessionReadyTimeout is optional; zero falls back to defaultSessionReadyTimeout.
	SessionReadyTimeout time.Duration
	// BargeInConfig is optional; the zero value falls back to bargein.DefaultConfig().
	BargeInConfig bargein.Config
}

// New constructs a Call, not yet started.
func New(d Deps) *Call {
	sessionReadyTimeout := d.SessionReadyTimeout
	if sessionReadyTimeout <= 0 {
		sessionReadyTimeout = defaultSessionReadyTimeout
	}
	bargeCfg := d.BargeInConfig
	if bargeCfg == (bargein.Config{}) {
		bargeCfg = bargein.DefaultConfig()
	}

	c := &Call{
		streamID:            d.StreamID,
		callID:              d.CallID,
		tenantID:            d.TenantID,
		carrierConn:         d.Carrier,
		model:               d.Model,
		tracker:             playback.New(),
		finalizer:           d.Finalizer,
		resStore:            d.ResStore,
		assembled:           d.Assembled,
		logSink:             d.LogSink,
		registry:            d.Registry,
		archiver:            d.Archiver,
		sessionReadyTimeout: sessionReadyTimeout,
		events:              make(chan event, 256),
		phase:               bargein.PhaseGreeting,
		done:                make(chan struct{}),
	}
	c.barge = bargein.New(bargeCfg, c.tracker, bargein.Events{
		OnIgnored:   func(reason string) { c.logEvent("barge_in_ignored", map[string]any{"reason": reason}) },
		OnCancelled: func(reason string) { c.logEvent("barge_in_cancelled", map[string]any{"reason": reason}) },
		OnConfirmed: func() { c.post(event{kind: evBargeConfirmed}) },
	})
	return c
}

// Start registers the call and begins the session.update(greeting) /
// response.create handshake, then blocks processing events until the call
// shuts down.
// Meant to be run in the goroutine that owns this Call.
func (c *Call) Start(ctx context.Context) {
	c.registry.Register(c.streamID, c)
	defer c.registry.Unregister(c.streamID)

	c.logEvent("call_started", map[string]any{"tenant_id": c.tenantID})

	if err := c.model.UpdateSession(c.greetingSessionConfig()); err != nil {
		c.logEvent("session_update_failed", map[string]any{"error": err.Error()})
		c.shutdown()
		return
	}
	c.sessionReadyTimer = time.AfterFunc(c.sessionReadyTimeout, func() {
		c.post(event{kind: evSessionReadyTimeout})
	})

	c.run(ctx)
}

func (c *Call) greetingSessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		Instructions:      c.assembled.Instructions,
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		TurnDetection:     &realtime.TurnDetection{Type: "server_vad", CreateResponse: false, InterruptResponse: false},
		Tools: []realtime.Tool{{
			Type:        "function",
			Name:        realtime.ToolName,
			Description: "Record a completed, confirmed reservation.",
			Parameters:  c.assembled.ToolSchema,
		}},
		ToolChoice:               "auto",
		InputAudioTranscription:  &realtime.Transcription{Model: "whisper-1"},
	}
}

func (c *Call) normalSessionConfig() realtime.SessionConfig {
	cfg := c.greetingSessionConfig()
	cfg.TurnDetection = &realtime.TurnDetection{Type: "server_vad", CreateResponse: true, InterruptResponse: true}
	return cfg
}

// run is the single-threaded owning loop; every exported On* method below
// exists only to let reader goroutines post into c.events.
func (c *Call) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if c.handle(ctx, ev) {
				return
			}
		}
	}
}

// handle processes one event; returns true when the call should terminate.
func (c *Call) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evCarrierMedia:
		if err := c.model.AppendAudio(ev.str); err != nil {
			log.Printf("orchestrator: append audio: %v", err)
		}
	case evCarrierMark:
		c.tracker.AckMark(ev.str)
		c.maybeAdvancePhase()
	case evCarrierStop, evCarrierClosed:
		c.shutdown()
		return true
	case evModelSessionUpdated:
		if c.sessionReadyTimer != nil {
			c.sessionReadyTimer.Stop()
		}
		if !c.greetingAcked {
			c.greetingAcked = true
			if err := c.model.CreateResponse(c.assembled.Greeting); err != nil {
				log.Printf("orchestrator: create greeting response: %v", err)
			}
		}
	case evModelOutputItemAdded:
		if ev.outputItem.Item.Role == "assistant" {
			c.tracker.Reset(ev.outputItem.Item.ID)
		}
	case evModelAudioDelta:
		c.forwardAudioDelta(ev.str)
	case evModelResponseDone:
		c.handleResponseDone(ctx, ev.respDone)
		if c.phase == bargein.PhaseGreeting {
			c.greetingSentMs, _, _ = c.tracker.Snapshot()
		}
	case evModelTranscriptDone:
		if strings.TrimSpace(ev.str) != "" {
			c.appendTranscript("user", ev.str)
		}
	case evModelSpeechStarted:
		c.barge.SpeechStarted()
	case evModelSpeechStopped:
		c.barge.SpeechStopped()
	case evBargeConfirmed:
		c.confirmBargeIn()
	case evModelError:
		c.logEvent("model_error", map[string]any{"error": ev.err.Error()})
	case evModelClosed:
		c.shutdown()
		return true
	case evSessionReadyTimeout:
		c.logEvent("session_update_timeout", nil)
		c.shutdown()
		return true
	}
	return false
}

func (c *Call) forwardAudioDelta(base64Payload string) {
	decoded, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return
	}
	if err := c.carrierConn.SendMedia(base64Payload); err != nil {
		log.Printf("orchestrator: send media: %v", err)
		return
	}
	markName, _ := c.tracker.AdvanceSent(len(decoded))
	if markName != "" {
		if err := c.carrierConn.SendMark(markName); err != nil {
			log.Printf("orchestrator: send mark: %v", err)
		}
	}
}

// maybeAdvancePhase transitions greeting -> normal once the greeting's
// playback has been acknowledged past the completion threshold.
func (c *Call) maybeAdvancePhase() {
	if c.phase != bargein.PhaseGreeting || c.greetingSentMs == 0 {
		return
	}
	_, playedMs, _ := c.tracker.Snapshot()
	if float64(playedMs) < greetingCompleteFraction*float64(c.greetingSentMs) {
		return
	}
	c.phase = bargein.PhaseNormal
	c.barge.SetPhase(bargein.PhaseNormal)
	if err := c.model.UpdateSession(c.normalSessionConfig()); err != nil {
		log.Printf("orchestrator: session.update(normal): %v", err)
	}
	c.logEvent("phase_transition", map[string]any{"phase": "normal"})
}

func (c *Call) confirmBargeIn() {
	playedMs := c.tracker.BeginClearing()
	if err := c.carrierConn.SendClear(); err != nil {
		log.Printf("orchestrator: clear: %v", err)
	}
	itemID := c.tracker.AssistantItemID()
	if itemID != "" {
		if err := c.model.TruncateItem(itemID, 0, playedMs); err != nil {
			log.Printf("orchestrator: truncate: %v", err)
		}
	}
	c.logEvent("barge_in_confirmed", map[string]any{"item_id": itemID, "played_ms": playedMs})
}

func (c *Call) handleResponseDone(ctx context.Context, done realtime.ResponseDoneEvent) {
	for _, item := range done.Response.Output {
		switch item.Type {
		case "message":
			if item.Role != "assistant" {
				continue
			}
			var text strings.Builder
			for _, part := range item.Content {
				text.WriteString(part.Text)
			}
			if spoken := text.String(); spoken != "" {
				c.appendTranscript("assistant", spoken)
			}
		case "function_call":
			if item.Name != realtime.ToolName {
				continue
			}
			c.runFinalizer(ctx, item.CallID, item.Arguments)
		}
	}
}

func (c *Call) runFinalizer(ctx context.Context, toolCallID, rawArgs string) {
	result := c.finalizer.Finalize(ctx, c.tenantID, c.callID, c.assembled.Fields, rawArgs)
	c.logEvent("tool_call", map[string]any{
		"call_id":   toolCallID,
		"arguments": rawArgs,
		"result":    result.ToolOutput(),
	})
	if result.Kind == reservation.KindOK {
		c.reservationDone = true
	}
	if err := c.model.SendToolOutput(toolCallID, result.ToolOutput()); err != nil {
		log.Printf("orchestrator: send tool output: %v", err)
	}
}

func (c *Call) appendTranscript(role, text string) {
	c.transcript = append(c.transcript, TranscriptTurn{Role: role, Text: text, At: time.Now()})
	c.logEvent("transcript", map[string]any{"role": role, "text": text})
}

func (c *Call) logEvent(name string, fields map[string]any) {
	if c.logSink == nil {
		return
	}
	if err := c.logSink.Write(name, fields); err != nil {
		log.Printf("orchestrator: call log write: %v", err)
	}
}

// shutdown performs the best-effort end-of-call flush exactly once:
// cancels timers, closes both sockets, links the reservation to this call's
// log, and closes the NDJSON sink.
func (c *Call) shutdown() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	c.barge.Shutdown()
	if c.sessionReadyTimer != nil {
		c.sessionReadyTimer.Stop()
	}
	_ = c.model.Close()
	_ = c.carrierConn.Close()

	if c.resStore != nil {
		if err := c.resStore.SetCallLogID(context.Background(), c.callID, c.streamID); err != nil {
			if err == reservation.ErrNoReservationForCall {
				c.logEvent("reservation_not_created", nil)
			} else {
				log.Printf("orchestrator: link call log: %v", err)
			}
		}
	}

	c.logEvent("call_ended", map[string]any{"reservation_done": c.reservationDone})
	logPath := ""
	if c.logSink != nil {
		logPath = c.logSink.Path()
		_ = c.logSink.Close()
	}
	c.archiveArtifacts(logPath)
}

// archiveArtifacts uploads the NDJSON event log and a flattened transcript
// to object storage. Fires in a detached goroutine so a slow or unreachable
// archive backend never holds up tearing down the call.
func (c *Call) archiveArtifacts(logPath string) {
	if c.archiver == nil {
		return
	}
	streamID := c.streamID
	transcriptText := c.renderTranscript()
	archiver := c.archiver

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if transcriptText != "" {
			if err := archiver.Archive(ctx, streamID+"-transcript.txt", "text/plain", []byte(transcriptText)); err != nil {
				log.Printf("orchestrator: archive transcript: %v", err)
			}
		}
		if logPath != "" {
			if body, err := os.ReadFile(logPath); err == nil {
				if err := archiver.Archive(ctx, streamID+".ndjson", "application/x-ndjson", body); err != nil {
					log.Printf("orchestrator: archive call log: %v", err)
				}
			}
		}
	}()
}

func (c *Call) renderTranscript() string {
	if len(c.transcript) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range c.transcript {
		fmt.Fprintf(&b, "[%s] %s: %s\n", turn.At.UTC().Format(time.RFC3339), turn.Role, turn.Text)
	}
	return b.String()
}

// --- posting API for reader goroutines ---

func (c *Call) OnCarrierMedia(base64Payload string)          { c.post(event{kind: evCarrierMedia, str: base64Payload}) }
func (c *Call) OnCarrierMark(name string)                    { c.post(event{kind: evCarrierMark, str: name}) }
func (c *Call) OnCarrierStop(carrier.Stop)                   { c.post(event{kind: evCarrierStop}) }
func (c *Call) OnCarrierClosed(error)                        { c.post(event{kind: evCarrierClosed}) }
func (c *Call) OnModelSessionUpdated(realtime.SessionUpdatedEvent) {
	c.post(event{kind: evModelSessionUpdated})
}
func (c *Call) OnModelOutputItemAdded(ev realtime.ResponseOutputItemAddedEvent) {
	c.post(event{kind: evModelOutputItemAdded, outputItem: ev})
}
func (c *Call) OnModelAudioDelta(ev realtime.ResponseAudioDeltaEvent) {
	c.post(event{kind: evModelAudioDelta, str: ev.Delta})
}
func (c *Call) OnModelResponseDone(ev realtime.ResponseDoneEvent) {
	c.post(event{kind: evModelResponseDone, respDone: ev})
}
func (c *Call) OnModelTranscriptDone(ev realtime.InputAudioTranscriptDoneEvent) {
	c.post(event{kind: evModelTranscriptDone, str: ev.Transcript})
}
func (c *Call) OnModelSpeechStarted(realtime.SpeechStartedEvent) {
	c.post(event{kind: evModelSpeechStarted})
}
func (c *Call) OnModelSpeechStopped(realtime.SpeechStoppedEvent) {
	c.post(event{kind: evModelSpeechStopped})
}
func (c *Call) OnModelError(ev realtime.ErrorEvent) {
	if ev.IsBenignCancel() {
		return
	}
	c.post(event{kind: evModelError, err: fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Message)})
}
func (c *Call) OnModelClosed(error) { c.post(event{kind: evModelClosed}) }

// post is safe to call after shutdown: the channel is never closed, only
// drained by a loop that has already returned, so a late send just sits in
// the buffer until GC'd with the Call.
func (c *Call) post(ev event) {
	select {
	case c.events <- ev:
	default:
		log.Printf("orchestrator: event channel full, dropping event kind %d", ev.kind)
	}
}

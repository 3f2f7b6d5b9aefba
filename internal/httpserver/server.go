// Package httpserver exposes the two Twilio-facing routes: the voice
// webhook that answers with TwiML pointing back at the stream route, and
// the stream route itself that upgrades to a Media Streams WebSocket and
// hands the connection to a new Call.
package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rukataka0505/ailuna-call-engine/internal/bargein"
	"github.com/rukataka0505/ailuna-call-engine/internal/calllog"
	"github.com/rukataka0505/ailuna-call-engine/internal/carrier"
	"github.com/rukataka0505/ailuna-call-engine/internal/config"
	"github.com/rukataka0505/ailuna-call-engine/internal/orchestrator"
	"github.com/rukataka0505/ailuna-call-engine/internal/realtime"
	"github.com/rukataka0505/ailuna-call-engine/internal/reservation"
	"github.com/rukataka0505/ailuna-call-engine/internal/storage"
	"github.com/rukataka0505/ailuna-call-engine/internal/telemetry"
	"github.com/rukataka0505/ailuna-call-engine/internal/tenant"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps bundles every collaborator the server wires into each call.
type Deps struct {
	Cfg       config.Config
	Loader    *tenant.Loader
	Finalizer *reservation.Finalizer
	ResStore  reservation.Store
	Registry  *orchestrator.Registry
	// Archiver is optional; a nil Archiver means call artifacts are not
	// uploaded to object storage.
	Archiver storage.Archiver
}

// Server bundles the Echo router and its dependencies.
type Server struct {
	Router *echo.Echo
	deps   Deps
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(telemetry.Middleware())
	e.Use(carrier.WebhookAuth("/twilio/voice", func() string { return d.Cfg.TwilioAuthToken }))

	s := &Server{Router: e, deps: d}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/twilio/voice", s.handleVoice)
	e.GET("/twilio/stream", s.handleStream)

	return s
}

// handleVoice answers the incoming-call webhook with TwiML that opens a
// Media Streams connection back to /twilio/stream, carrying the tenant id
// as a custom parameter so it survives into Start.CustomParameters.
func (s *Server) handleVoice(c echo.Context) error {
	params, _ := c.Get("webhookParams").(map[string]string)
	tenantID := params["To"] // tenant resolution keys off the dialed number

	streamURL := fmt.Sprintf("wss://%s/twilio/stream", s.deps.Cfg.PublicHost)
	twimlBody, err := carrier.BuildStreamTwiML(streamURL, map[string]string{"tenantId": tenantID})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	return c.Blob(http.StatusOK, "text/xml", []byte(twimlBody))
}

// handleStream upgrades the connection and blocks until the call ends. The
// tenant id and call id are not known until the carrier's start event
// arrives, so the Call and the model connection are only constructed once
// that happens. Until then the carrier's own handlers reference `call`
// through a closure; since everything here runs sequentially on the read
// pump's single goroutine, no synchronization is needed to make that
// closure safe.
func (s *Server) handleStream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("httpserver: websocket upgrade: %v", err)
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	var call *orchestrator.Call
	var carrierConn *carrier.Conn

	carrierConn = carrier.New(ws, carrier.Handlers{
		OnStart: func(start carrier.Start) {
			tenantID := start.CustomParameters["tenantId"]
			assembled, err := s.deps.Loader.Load(tenantID)
			if err != nil {
				log.Printf("httpserver: tenant load failed for %q: %v", tenantID, err)
				_ = carrierConn.Close()
				return
			}

			header := http.Header{}
			header.Set("Authorization", "Bearer "+s.deps.Cfg.RealtimeAPIKey)
			header.Set("OpenAI-Beta", "realtime=v1")
			modelURL := fmt.Sprintf("%s?model=%s", s.deps.Cfg.RealtimeURL, s.deps.Cfg.RealtimeModel)

			modelClient, err := realtime.Dial(ctx, modelURL, header, realtime.Handlers{
				OnSessionUpdated:  func(ev realtime.SessionUpdatedEvent) { call.OnModelSessionUpdated(ev) },
				OnOutputItemAdded: func(ev realtime.ResponseOutputItemAddedEvent) { call.OnModelOutputItemAdded(ev) },
				OnAudioDelta:      func(ev realtime.ResponseAudioDeltaEvent) { call.OnModelAudioDelta(ev) },
				OnResponseDone:    func(ev realtime.ResponseDoneEvent) { call.OnModelResponseDone(ev) },
				OnTranscriptDone:  func(ev realtime.InputAudioTranscriptDoneEvent) { call.OnModelTranscriptDone(ev) },
				OnSpeechStarted:   func(ev realtime.SpeechStartedEvent) { call.OnModelSpeechStarted(ev) },
				OnSpeechStopped:   func(ev realtime.SpeechStoppedEvent) { call.OnModelSpeechStopped(ev) },
				OnError:           func(ev realtime.ErrorEvent) { call.OnModelError(ev) },
				OnClosed:          func(err error) { call.OnModelClosed(err) },
			})
			if err != nil {
				log.Printf("httpserver: model dial failed: %v", err)
				_ = carrierConn.Close()
				return
			}

			call = orchestrator.New(orchestrator.Deps{
				StreamID:            start.StreamSid,
				CallID:              start.CallSid,
				TenantID:            tenantID,
				Carrier:             carrierConn,
				Model:               modelClient,
				Finalizer:           s.deps.Finalizer,
				ResStore:            s.deps.ResStore,
				Assembled:           assembled,
				LogSink:             calllog.New(s.deps.Cfg.CallLogDir, start.StreamSid, start.CallSid),
				Registry:            s.deps.Registry,
				Archiver:            s.deps.Archiver,
				SessionReadyTimeout: s.deps.Cfg.SessionReadyTimeout,
				BargeInConfig: bargein.Config{
					DebounceMs:  s.deps.Cfg.BargeInDebounceMs,
					MinRemainMs: s.deps.Cfg.BargeInMinRemainMs,
				},
			})

			go modelClient.ReadPump()
			go func() {
				call.Start(ctx)
				finish()
			}()
		},
		OnMedia: func(p string) {
			if call != nil {
				call.OnCarrierMedia(p)
			}
		},
		OnMark: func(n string) {
			if call != nil {
				call.OnCarrierMark(n)
			}
		},
		OnStop: func(st carrier.Stop) {
			if call != nil {
				call.OnCarrierStop(st)
			}
		},
		OnClosed: func(err error) {
			if call != nil {
				call.OnCarrierClosed(err)
				return
			}
			// Never reached a start event (or setup failed before one
			// could produce a Call): nothing to wait on, unblock now.
			finish()
		},
	})

	go carrierConn.ReadPump()

	<-done
	return nil
}

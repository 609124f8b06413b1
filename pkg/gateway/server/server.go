// Package server wires the HTTP surface: caregiver REST API, telephony
// webhooks and the media-stream websocket.
package server

import (
	"log/slog"
	"net/http"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/core/convo"
	"github.com/carelink/voicegate/pkg/core/summary"
	"github.com/carelink/voicegate/pkg/gateway/bridge/sessions"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/handlers"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
	"github.com/carelink/voicegate/pkg/gateway/mw"
	"github.com/carelink/voicegate/pkg/telephony"
)

// Deps carries the wired domain services. Provider, Engine and Dialer may be
// nil when the corresponding credentials are not configured; their routes
// then respond with errors rather than panic.
type Deps struct {
	Manager    *call.Manager
	Engine     *convo.Engine
	Summarizer *summary.Summarizer
	Provider   telephony.Provider
	Dialer     ai.RealtimeDialer
	Lifecycle  *lifecycle.Lifecycle
	Sessions   *sessions.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.New()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})

	// Caregiver API: bearer auth.
	api := func(h http.Handler) http.Handler { return mw.Auth(s.cfg, h) }
	s.mux.Handle("POST /v1/calls", api(handlers.PlaceCallHandler{
		Config:    s.cfg,
		Manager:   s.deps.Manager,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	}))
	s.mux.Handle("GET /v1/calls/{id}", api(handlers.GetCallHandler{Manager: s.deps.Manager}))
	s.mux.Handle("GET /v1/calls/{id}/turns", api(handlers.CallTurnsHandler{Manager: s.deps.Manager}))
	s.mux.Handle("GET /v1/calls/{id}/summary", api(handlers.CallSummaryHandler{Config: s.cfg, Summarizer: s.deps.Summarizer}))
	s.mux.Handle("GET /v1/elders/{elderId}/calls", api(handlers.ElderCallsHandler{Manager: s.deps.Manager}))

	// Provider webhooks: signature auth, not bearer auth.
	hook := func(h http.Handler) http.Handler {
		return mw.TwilioSignature(s.cfg.TwilioAuthToken, s.cfg.PublicBaseURL, s.logger, h)
	}
	s.mux.Handle("POST /twilio/voice", hook(handlers.VoiceWebhookHandler{
		Config:   s.cfg,
		Manager:  s.deps.Manager,
		Provider: s.deps.Provider,
		Logger:   s.logger,
	}))
	s.mux.Handle("POST /twilio/status", hook(handlers.StatusWebhookHandler{
		Manager: s.deps.Manager,
		Logger:  s.logger,
	}))
	s.mux.Handle("POST /twilio/gather", hook(handlers.GatherWebhookHandler{
		Config:   s.cfg,
		Manager:  s.deps.Manager,
		Engine:   s.deps.Engine,
		Provider: s.deps.Provider,
		Logger:   s.logger,
	}))

	s.mux.Handle("GET /twilio/media-stream", handlers.MediaStreamHandler{
		Config:    s.cfg,
		Manager:   s.deps.Manager,
		Dialer:    s.deps.Dialer,
		Sessions:  s.deps.Sessions,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

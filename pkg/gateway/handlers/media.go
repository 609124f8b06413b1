package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/gateway/bridge"
	"github.com/carelink/voicegate/pkg/gateway/bridge/sessions"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
	"github.com/carelink/voicegate/pkg/gateway/mw"
)

// MediaStreamHandler handles the provider's bidirectional media-stream
// websocket and bridges it to a realtime AI session.
type MediaStreamHandler struct {
	Config    config.Config
	Manager   *call.Manager
	Dialer    ai.RealtimeDialer
	Sessions  *sessions.Tracker
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrOverloaded,
			Message:   "server is shutting down",
			Code:      "draining",
			RequestID: reqID,
		}, http.StatusServiceUnavailable)
		return
	}

	// The peer is the telephony provider, not a browser.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := bridge.New(conn, h.Dialer, h.Manager, bridge.Config{
		Instructions:    h.Config.SystemPrompt,
		Voice:           h.Config.RealtimeVoice,
		IdleTimeout:     h.Config.StreamIdleTimeout,
		WriteTimeout:    h.Config.StreamWriteTimeout,
		MaxMessageBytes: h.Config.StreamMaxMessageBytes,
	}, h.Logger)

	unregister := h.Sessions.Register(session)
	defer unregister()

	session.Run(r.Context())
}

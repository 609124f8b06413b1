package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/core/convo"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/mw"
	"github.com/carelink/voicegate/pkg/telephony"
)

func writeTwiML(w http.ResponseWriter, markup string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}

// VoiceWebhookHandler answers the provider's initial voice webhook with the
// call's opening markup: a media-stream connect in stream mode, a speech
// gather otherwise.
type VoiceWebhookHandler struct {
	Config   config.Config
	Manager  *call.Manager
	Provider telephony.Provider
	Logger   *slog.Logger
}

func (h VoiceWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	providerCallID := r.PostForm.Get("CallSid")
	if providerCallID == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}

	c, err := h.Manager.GetCallByProviderID(r.Context(), providerCallID)
	if err != nil {
		var coreErr *core.Error
		if !errors.As(err, &coreErr) || coreErr.Type != core.ErrNotFound {
			reqID, _ := mw.RequestIDFrom(r.Context())
			writeErr(w, reqID, err)
			return
		}
		// A call we did not place: the elder dialed in.
		c, err = h.Manager.CreateInboundCall(r.Context(), providerCallID, "", r.PostForm.Get("From"))
		if err != nil {
			reqID, _ := mw.RequestIDFrom(r.Context())
			writeErr(w, reqID, err)
			return
		}
		h.Logger.Info("inbound call accepted",
			"call_id", c.ID, "provider_call_id", providerCallID)
	}

	var markup string
	if h.Config.StreamMode {
		markup, err = h.Provider.ConnectStream(h.Config.Greeting, h.Config.MediaStreamURL(), c.ID)
	} else {
		markup, err = h.Provider.SayAndGather(h.Config.Greeting, h.Config.GatherWebhookURL())
	}
	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeErr(w, reqID, err)
		return
	}
	writeTwiML(w, markup)
}

// StatusWebhookHandler ingests provider status callbacks. It always returns
// 204 on processable payloads; the provider retries non-2xx responses and a
// replayed update is already idempotent at the manager.
type StatusWebhookHandler struct {
	Manager *call.Manager
	Logger  *slog.Logger
}

func (h StatusWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	cb, err := telephony.ParseStatusCallback(r.PostForm)
	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeErr(w, reqID, err)
		return
	}

	if _, err := h.Manager.UpdateStatus(r.Context(), cb.ProviderCallID, call.StatusUpdate{
		ProviderStatus: cb.CallStatus,
		DurationSecs:   cb.DurationSecs,
		RecordingURL:   cb.RecordingURL,
		Metadata:       cb.Metadata,
	}); err != nil {
		// A callback for a call we never recorded is logged, not retried.
		h.Logger.Warn("status callback for unknown call",
			"provider_call_id", cb.ProviderCallID, "provider_status", cb.CallStatus, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GatherWebhookHandler runs one turn of the webhook conversation loop: the
// provider posts the elder's transcribed utterance, we answer with markup
// that speaks the reply and either listens again or hangs up.
type GatherWebhookHandler struct {
	Config   config.Config
	Manager  *call.Manager
	Engine   *convo.Engine
	Provider telephony.Provider
	Logger   *slog.Logger
}

const repromptText = "I'm sorry, I didn't hear anything. Could you say that again?"

func (h GatherWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	gather, err := telephony.ParseGatherResult(r.PostForm)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	c, err := h.Manager.GetCallByProviderID(r.Context(), gather.ProviderCallID)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	if gather.SpeechResult == "" {
		markup, err := h.Provider.SayAndGather(repromptText, h.Config.GatherWebhookURL())
		if err != nil {
			writeErr(w, reqID, err)
			return
		}
		writeTwiML(w, markup)
		return
	}

	result, err := h.Engine.HandleUtterance(r.Context(), c.ID, gather.SpeechResult, gather.Confidence)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	var markup string
	if result.EndCall {
		markup, err = h.Provider.SayAndHangup(result.ReplyText)
	} else {
		markup, err = h.Provider.SayAndGather(result.ReplyText, h.Config.GatherWebhookURL())
	}
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeTwiML(w, markup)
}

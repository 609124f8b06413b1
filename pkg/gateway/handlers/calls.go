package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/core/summary"
	"github.com/carelink/voicegate/pkg/gateway/auth"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
	"github.com/carelink/voicegate/pkg/gateway/mw"
)

// PlaceCallHandler handles POST /v1/calls.
type PlaceCallHandler struct {
	Config    config.Config
	Manager   *call.Manager
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

type placeCallBody struct {
	ElderID     string            `json:"elder_id"`
	ToNumber    string            `json:"to_number"`
	InitiatedBy string            `json:"initiated_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h PlaceCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:      core.ErrOverloaded,
			Message:   "server is shutting down",
			Code:      "draining",
			RequestID: reqID,
		}, http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewValidationError("failed to read request body", ""), http.StatusBadRequest)
		return
	}

	var req placeCallBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewValidationError("request body must be valid JSON", ""), http.StatusBadRequest)
		return
	}

	// Request-scoped timeout covering the provider origination round trip.
	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}

	c, err := h.Manager.PlaceCall(ctx, call.PlaceCallRequest{
		ElderID:     req.ElderID,
		ToNumber:    req.ToNumber,
		InitiatedBy: req.InitiatedBy,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if h.Logger != nil {
		caller := ""
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			caller = p.Redacted()
		}
		h.Logger.Info("call placed",
			"request_id", reqID,
			"call_id", c.ID,
			"elder_id", c.ElderID,
			"api_key", caller,
		)
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCallHandler handles GET /v1/calls/{id}.
type GetCallHandler struct {
	Manager *call.Manager
}

func (h GetCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	c, err := h.Manager.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CallTurnsHandler handles GET /v1/calls/{id}/turns.
type CallTurnsHandler struct {
	Manager *call.Manager
}

func (h CallTurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	turns, err := h.Manager.TurnsForCall(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// CallSummaryHandler handles GET /v1/calls/{id}/summary.
type CallSummaryHandler struct {
	Config     config.Config
	Summarizer *summary.Summarizer
}

func (h CallSummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}
	result, err := h.Summarizer.Summarize(ctx, r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ElderCallsHandler handles GET /v1/elders/{elderId}/calls.
type ElderCallsHandler struct {
	Manager *call.Manager
}

func (h ElderCallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	calls, err := h.Manager.CallsForElder(r.Context(), r.PathValue("elderId"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

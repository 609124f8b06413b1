package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/core/summary"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
)

func placeCallHandler(mgr *call.Manager) PlaceCallHandler {
	return PlaceCallHandler{
		Config:    config.Config{MaxBodyBytes: 1 << 20},
		Manager:   mgr,
		Lifecycle: &lifecycle.Lifecycle{},
		Logger:    discardLogger(),
	}
}

func TestPlaceCallHandler_Created(t *testing.T) {
	mgr, orig := newTestManager()
	h := placeCallHandler(mgr)

	body := `{"elder_id":"e1","to_number":"+15551234567","initiated_by":"caregiver-7"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var c call.VoiceCall
	if err := json.Unmarshal(rr.Body.Bytes(), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ID == "" || c.Status != call.StatusInitiated || c.ElderID != "e1" {
		t.Fatalf("unexpected call record: %+v", c)
	}
	if len(orig.dialed) != 1 || orig.dialed[0] != "+15551234567" {
		t.Fatalf("expected one dial to +15551234567, got %v", orig.dialed)
	}
}

func TestPlaceCallHandler_InvalidNumber(t *testing.T) {
	mgr, _ := newTestManager()
	h := placeCallHandler(mgr)

	body := `{"elder_id":"e1","to_number":"555-home"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error struct {
			Type  string `json:"type"`
			Param string `json:"param"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != "invalid_request_error" || env.Error.Param != "to_number" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
}

func TestPlaceCallHandler_MalformedJSON(t *testing.T) {
	mgr, _ := newTestManager()
	h := placeCallHandler(mgr)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

type stallingOriginator struct{}

func (stallingOriginator) OriginateCall(ctx context.Context, _ string, _ map[string]string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPlaceCallHandler_HandlerTimeout(t *testing.T) {
	mgr := call.NewManager(call.NewMemoryStore(), stallingOriginator{}, discardLogger())
	h := PlaceCallHandler{
		Config:    config.Config{MaxBodyBytes: 1 << 20, HandlerTimeout: 20 * time.Millisecond},
		Manager:   mgr,
		Lifecycle: &lifecycle.Lifecycle{},
		Logger:    discardLogger(),
	}

	body := `{"elder_id":"e1","to_number":"+15551234567"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestPlaceCallHandler_RejectsWhileDraining(t *testing.T) {
	mgr, _ := newTestManager()
	h := placeCallHandler(mgr)
	h.Lifecycle.SetDraining(true)

	body := `{"elder_id":"e1","to_number":"+15551234567"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestGetCallHandler(t *testing.T) {
	mgr, _ := newTestManager()
	placed, err := mgr.PlaceCall(context.Background(), call.PlaceCallRequest{
		ElderID: "e1", ToNumber: "+15551234567",
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/calls/{id}", GetCallHandler{Manager: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+placed.ID, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/calls/no-such-call", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", rr.Code)
	}
}

func TestCallTurnsHandler(t *testing.T) {
	mgr, _ := newTestManager()
	placed, err := mgr.PlaceCall(context.Background(), call.PlaceCallRequest{
		ElderID: "e1", ToNumber: "+15551234567",
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if _, err := mgr.AppendTurn(context.Background(), call.AppendTurnRequest{
		CallID: placed.ID, Speaker: call.SpeakerUser, Transcription: "hello",
	}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/calls/{id}/turns", CallTurnsHandler{Manager: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+placed.ID+"/turns", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		Turns []call.ConversationTurn `json:"turns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Turns) != 1 || resp.Turns[0].Transcription != "hello" {
		t.Fatalf("unexpected turns: %+v", resp.Turns)
	}
}

func TestCallSummaryHandler(t *testing.T) {
	mgr, _ := newTestManager()
	placed, err := mgr.PlaceCall(context.Background(), call.PlaceCallRequest{
		ElderID: "e1", ToNumber: "+15551234567",
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if _, err := mgr.AppendTurn(context.Background(), call.AppendTurnRequest{
		CallID: placed.ID, Speaker: call.SpeakerUser, Transcription: "my knee hurts",
	}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	summarizer := summary.NewSummarizer(mgr, &fakeAnalyzer{result: &ai.AnalysisResult{
		Summary:   "Talked about knee pain.",
		Mood:      "concerned",
		KeyTopics: []string{"knee pain"},
	}}, discardLogger())

	mux := http.NewServeMux()
	mux.Handle("GET /v1/calls/{id}/summary", CallSummaryHandler{Summarizer: summarizer})

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+placed.ID+"/summary", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var result ai.AnalysisResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Mood != "concerned" || result.Degraded {
		t.Fatalf("unexpected analysis: %+v", result)
	}
}

func TestElderCallsHandler(t *testing.T) {
	mgr, _ := newTestManager()
	for _, num := range []string{"+15551230001", "+15551230002"} {
		if _, err := mgr.PlaceCall(context.Background(), call.PlaceCallRequest{
			ElderID: "e1", ToNumber: num,
		}); err != nil {
			t.Fatalf("PlaceCall: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/elders/{elderId}/calls", ElderCallsHandler{Manager: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/elders/e1/calls", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		Calls []call.VoiceCall `json:"calls"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(resp.Calls))
	}
}

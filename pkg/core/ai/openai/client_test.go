package openai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
}

func TestComplete_SendsSystemAndHistory(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello there!"}}]}`))
	})

	reply, err := c.Complete(context.Background(), "be kind", []ai.ChatMessage{
		{Role: ai.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Hello there!" {
		t.Fatalf("reply=%q", reply)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "be kind" {
		t.Fatalf("unexpected system message: %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected user message: %+v", got.Messages[1])
	}
}

func TestComplete_ProviderErrorWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	})

	_, err := c.Complete(context.Background(), "", []ai.ChatMessage{
		{Role: ai.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestTranscribe_ConfidenceFromSegments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"I'm doing well","segments":[{"avg_logprob":-0.2},{"avg_logprob":-0.4}]}`))
	})

	text, confidence, err := c.Transcribe(context.Background(), []byte{0x01}, "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "I'm doing well" {
		t.Fatalf("text=%q", text)
	}
	want := math.Exp(-0.3)
	if math.Abs(confidence-want) > 1e-9 {
		t.Fatalf("confidence=%v, want %v", confidence, want)
	}
}

func TestSynthesize_ReturnsAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0x49, 0x44, 0x33})
	})

	audio, mime, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mime != "audio/mpeg" {
		t.Fatalf("mime=%q", mime)
	}
	if len(audio) != 3 {
		t.Fatalf("audio length=%d", len(audio))
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"audio/mpeg": ".mp3",
		"audio/ogg":  ".ogg",
		"audio/webm": ".webm",
		"audio/wav":  ".wav",
		"":           ".wav",
	}
	for mime, want := range cases {
		if got := extensionFor(mime); got != want {
			t.Fatalf("extensionFor(%q)=%q, want %q", mime, got, want)
		}
	}
}

// Package ai defines the provider-neutral interfaces the conversation engine
// speaks to: turn-based chat, transcription, speech synthesis, realtime audio
// sessions and post-call transcript analysis.
package ai

import "context"

// Role values follow the common chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of conversation history sent to a chat model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat produces an assistant reply given the running conversation history.
type Chat interface {
	Complete(ctx context.Context, system string, history []ChatMessage) (string, error)
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (text string, confidence float64, err error)
}

// Synthesizer converts text to speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}

// AnalysisResult is the structured outcome of a post-call transcript review.
// Degraded is set when the model was unavailable and placeholder values were
// substituted so the read path never fails.
type AnalysisResult struct {
	Summary         string   `json:"summary"`
	Mood            string   `json:"mood"`
	KeyTopics       []string `json:"key_topics"`
	Recommendations []string `json:"recommendations"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// Analyzer reviews a full call transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*AnalysisResult, error)
}

// RealtimeEventType discriminates events surfaced by a realtime session.
type RealtimeEventType string

const (
	// EventAudioDelta carries a chunk of synthesized speech from the model.
	EventAudioDelta RealtimeEventType = "audio_delta"
	// EventUserTranscript is the finalized transcription of user speech.
	EventUserTranscript RealtimeEventType = "user_transcript"
	// EventAITranscript is the finalized transcript of the model's speech.
	EventAITranscript RealtimeEventType = "ai_transcript"
	// EventSpeechStarted signals the user began talking over the model.
	EventSpeechStarted RealtimeEventType = "speech_started"
	// EventError carries a provider-side failure; the session is unusable after.
	EventError RealtimeEventType = "error"
	// EventClosed is the last event a session delivers.
	EventClosed RealtimeEventType = "closed"
)

// RealtimeEvent is one event from the provider's realtime socket.
type RealtimeEvent struct {
	Type       RealtimeEventType
	Audio      []byte
	Transcript string
	Err        error
}

// RealtimeSession is a live bidirectional audio link with the model.
// AppendAudio must not block the caller: sessions drop frames under
// backpressure rather than stall the telephony leg.
type RealtimeSession interface {
	AppendAudio(audio []byte)
	Events() <-chan RealtimeEvent
	Close() error
}

// RealtimeConfig tunes a realtime session at dial time.
type RealtimeConfig struct {
	Instructions string
	Voice        string
	// InputFormat and OutputFormat name the provider's audio encodings,
	// e.g. "g711_ulaw" for telephony media streams.
	InputFormat  string
	OutputFormat string
}

// RealtimeDialer opens realtime sessions.
type RealtimeDialer interface {
	DialRealtime(ctx context.Context, cfg RealtimeConfig) (RealtimeSession, error)
}

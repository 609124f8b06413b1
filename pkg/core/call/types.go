// Package call holds the voice-call data model and the lifecycle manager that
// owns all mutation of it.
package call

import (
	"strings"
	"time"
)

// Direction says who originated the call.
type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Status is the internal call state machine:
// INITIATED -> RINGING -> IN_PROGRESS -> {COMPLETED | FAILED | BUSY | NO_ANSWER}.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusRinging    Status = "RINGING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusBusy       Status = "BUSY"
	StatusNoAnswer   Status = "NO_ANSWER"
)

// statusRank orders states for forward-only transitions. Terminal states share
// the highest rank so no terminal state can replace another.
var statusRank = map[Status]int{
	StatusInitiated:  0,
	StatusRinging:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusBusy:       3,
	StatusNoAnswer:   3,
}

// IsTerminal reports whether s never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// advances reports whether moving from s to next is a forward transition.
func (s Status) advances(next Status) bool {
	return statusRank[next] > statusRank[s]
}

// providerStatusTable maps the telephony provider's open-ended status
// vocabulary to the internal state machine. Adding a provider status is a
// one-line change here, covered by TestStatusFromProvider.
var providerStatusTable = map[string]Status{
	"queued":      StatusInitiated,
	"initiated":   StatusInitiated,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"answered":    StatusInProgress,
	"completed":   StatusCompleted,
	"busy":        StatusBusy,
	"failed":      StatusFailed,
	"canceled":    StatusFailed,
	"no-answer":   StatusNoAnswer,
}

// StatusFromProvider maps a provider status string to an internal Status.
// Unknown values map to INITIATED; callers log them but never reject.
func StatusFromProvider(providerStatus string) (Status, bool) {
	s, ok := providerStatusTable[strings.ToLower(strings.TrimSpace(providerStatus))]
	if !ok {
		return StatusInitiated, false
	}
	return s, true
}

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser   Speaker = "USER"
	SpeakerAI     Speaker = "AI"
	SpeakerSystem Speaker = "SYSTEM"
)

// VoiceCall is the persistent record of one phone call.
type VoiceCall struct {
	ID             string            `json:"id"`
	ProviderCallID string            `json:"provider_call_id"`
	ElderID        string            `json:"elder_id"`
	InitiatedBy    *string           `json:"initiated_by,omitempty"`
	ToNumber       string            `json:"to_number"`
	Direction      Direction         `json:"direction"`
	Status         Status            `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
	DurationSecs   *int              `json:"duration_seconds,omitempty"`
	RecordingURL   *string           `json:"recording_url,omitempty"`
	TurnIDs        []string          `json:"turn_ids"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so store callers can never mutate shared state.
func (c *VoiceCall) Clone() *VoiceCall {
	if c == nil {
		return nil
	}
	out := *c
	out.TurnIDs = append([]string(nil), c.TurnIDs...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.InitiatedBy != nil {
		v := *c.InitiatedBy
		out.InitiatedBy = &v
	}
	if c.EndedAt != nil {
		v := *c.EndedAt
		out.EndedAt = &v
	}
	if c.DurationSecs != nil {
		v := *c.DurationSecs
		out.DurationSecs = &v
	}
	if c.RecordingURL != nil {
		v := *c.RecordingURL
		out.RecordingURL = &v
	}
	return &out
}

// ConversationTurn is one utterance or reply within a call. Immutable once
// created; exactly one of Transcription/Response is populated, matching
// Speaker.
type ConversationTurn struct {
	ID            string            `json:"id"`
	CallID        string            `json:"call_id"`
	Speaker       Speaker           `json:"speaker"`
	Transcription string            `json:"transcription,omitempty"`
	Response      string            `json:"response,omitempty"`
	AudioURL      *string           `json:"audio_url,omitempty"`
	Confidence    *float64          `json:"confidence,omitempty"`
	DurationMS    *int              `json:"duration_ms,omitempty"`
	Model         string            `json:"model,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Text returns whichever of transcription/response this turn carries.
func (t *ConversationTurn) Text() string {
	if t.Speaker == SpeakerAI {
		return t.Response
	}
	return t.Transcription
}

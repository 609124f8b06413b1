// Package telephony defines the contract with the phone provider: placing
// outbound calls, the markup returned to webhook responses and the framing
// of the media-stream socket.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/carelink/voicegate/pkg/core"
)

// Provider places outbound calls and renders the markup the provider's
// webhook responses expect.
type Provider interface {
	// OriginateCall dials toNumber and returns the provider's call id.
	OriginateCall(ctx context.Context, toNumber string, metadata map[string]string) (string, error)

	// SayAndGather speaks text, then listens for one utterance and posts
	// the transcription to actionURL.
	SayAndGather(text, actionURL string) (string, error)

	// SayAndHangup speaks text and ends the call.
	SayAndHangup(text string) (string, error)

	// ConnectStream speaks an optional greeting and opens a bidirectional
	// media stream to streamURL, passing callID as a custom parameter.
	ConnectStream(greeting, streamURL, callID string) (string, error)
}

// StatusCallback is a parsed call-status webhook.
type StatusCallback struct {
	ProviderCallID string
	CallStatus     string
	DurationSecs   *int
	RecordingURL   *string
	Metadata       map[string]string
}

// Auxiliary callback fields carried through as call metadata.
var statusMetadataFields = map[string]string{
	"AnsweredBy":      "answered_by",
	"SipResponseCode": "sip_response_code",
	"ErrorCode":       "error_code",
}

// ParseStatusCallback reads the provider's form-encoded status webhook.
func ParseStatusCallback(form url.Values) (*StatusCallback, error) {
	sid := form.Get("CallSid")
	if sid == "" {
		return nil, core.NewValidationError("CallSid is required", "CallSid")
	}
	cb := &StatusCallback{
		ProviderCallID: sid,
		CallStatus:     form.Get("CallStatus"),
	}
	if d := form.Get("CallDuration"); d != "" {
		if secs, err := strconv.Atoi(d); err == nil {
			cb.DurationSecs = &secs
		}
	}
	if rec := form.Get("RecordingUrl"); rec != "" {
		cb.RecordingURL = &rec
	}
	for field, key := range statusMetadataFields {
		if v := form.Get(field); v != "" {
			if cb.Metadata == nil {
				cb.Metadata = make(map[string]string, len(statusMetadataFields))
			}
			cb.Metadata[key] = v
		}
	}
	return cb, nil
}

// GatherResult is a parsed speech-gather webhook: one transcribed utterance.
type GatherResult struct {
	ProviderCallID string
	SpeechResult   string
	Confidence     *float64
}

// ParseGatherResult reads the provider's form-encoded gather webhook.
func ParseGatherResult(form url.Values) (*GatherResult, error) {
	sid := form.Get("CallSid")
	if sid == "" {
		return nil, core.NewValidationError("CallSid is required", "CallSid")
	}
	res := &GatherResult{
		ProviderCallID: sid,
		SpeechResult:   form.Get("SpeechResult"),
	}
	if c := form.Get("Confidence"); c != "" {
		if conf, err := strconv.ParseFloat(c, 64); err == nil {
			res.Confidence = &conf
		}
	}
	return res, nil
}

// Media-stream framing. One JSON message per websocket frame; Event
// discriminates which optional section is populated.

type StreamMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *StreamStart `json:"start,omitempty"`
	Media     *StreamMedia `json:"media,omitempty"`
	Mark      *StreamMark  `json:"mark,omitempty"`
	Stop      *StreamStop  `json:"stop,omitempty"`
}

type StreamStart struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
}

type StreamMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StreamMark struct {
	Name string `json:"name"`
}

type StreamStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// ParseStreamMessage decodes one inbound media-stream frame. Unknown events
// come back with their Event set so callers can ignore them explicitly.
func ParseStreamMessage(data []byte) (*StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, core.NewValidationError("malformed stream message", "")
	}
	return &msg, nil
}

// AudioPayload decodes the base64 audio of a media event. Nil when the
// message is not a media event.
func (m *StreamMessage) AudioPayload() []byte {
	if m.Media == nil || m.Media.Payload == "" {
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil
	}
	return audio
}

// EncodeMediaMessage builds an outbound media frame carrying audio toward
// the phone leg, tagged with the call's stream id.
func EncodeMediaMessage(streamSID string, audio []byte) ([]byte, error) {
	msg := map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	}
	return json.Marshal(msg)
}

// EncodeClearMessage builds the frame that flushes the provider's queued
// audio, used when the caller starts speaking over the assistant.
func EncodeClearMessage(streamSID string) ([]byte, error) {
	msg := map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	}
	return json.Marshal(msg)
}

// EncodeMarkMessage builds a mark frame used to sequence playback.
func EncodeMarkMessage(streamSID, name string) ([]byte, error) {
	msg := map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]string{"name": name},
	}
	return json.Marshal(msg)
}

package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
)

const (
	realtimeURL          = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second

	// Outbound audio queue depth. Audio past this point is dropped rather
	// than letting a slow provider socket stall the telephony leg.
	sendQueueDepth  = 64
	eventQueueDepth = 256
)

// RealtimeDialer opens realtime sessions against the OpenAI realtime API.
type RealtimeDialer struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

func (d *RealtimeDialer) DialRealtime(ctx context.Context, cfg ai.RealtimeConfig) (ai.RealtimeSession, error) {
	model := d.Model
	if model == "" {
		model = defaultRealtimeModel
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, realtimeURL+"?model="+model, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, core.NewProviderError("openai-realtime", err)
	}

	s := &realtimeSession{
		conn:   conn,
		logger: logger,
		sendCh: make(chan []byte, sendQueueDepth),
		events: make(chan ai.RealtimeEvent, eventQueueDepth),
		done:   make(chan struct{}),
	}
	if err := s.configure(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

// realtimeSession is one live websocket to the realtime API. Two goroutines
// own the socket: writeLoop drains sendCh, readLoop turns provider messages
// into ai.RealtimeEvent values.
type realtimeSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	sendCh chan []byte
	events chan ai.RealtimeEvent

	closeOnce sync.Once
	done      chan struct{}

	dropped int64
	dropMu  sync.Mutex
}

// configure sends session.update before any audio flows. Server VAD handles
// turn detection so callers only ship raw frames.
func (s *realtimeSession) configure(cfg ai.RealtimeConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	inFormat := cfg.InputFormat
	if inFormat == "" {
		inFormat = "pcm16"
	}
	outFormat := cfg.OutputFormat
	if outFormat == "" {
		outFormat = "pcm16"
	}

	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        cfg.Instructions,
			"voice":               voice,
			"input_audio_format":  inFormat,
			"output_audio_format": outFormat,
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return core.NewAPIError("marshal session.update: " + err.Error())
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return core.NewProviderError("openai-realtime", err)
	}
	return nil
}

// AppendAudio queues one audio frame for the model. Never blocks: when the
// queue is full the frame is dropped and counted.
func (s *realtimeSession) AppendAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-s.done:
	case s.sendCh <- payload:
	default:
		s.dropMu.Lock()
		s.dropped++
		n := s.dropped
		s.dropMu.Unlock()
		if n%100 == 1 {
			s.logger.Debug("realtime send queue full, dropping audio", "dropped_total", n)
		}
	}
}

func (s *realtimeSession) Events() <-chan ai.RealtimeEvent {
	return s.events
}

// Close tears the session down. Safe to call more than once and concurrently
// with AppendAudio.
func (s *realtimeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
	})
	return nil
}

func (s *realtimeSession) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				// Closing the socket makes readLoop surface the failure;
				// only readLoop touches the events channel.
				s.logger.Debug("realtime write failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

func (s *realtimeSession) readLoop() {
	defer func() {
		s.emit(ai.RealtimeEvent{Type: ai.EventClosed})
		close(s.events)
	}()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.emit(ai.RealtimeEvent{
					Type: ai.EventError,
					Err:  core.NewProviderError("openai-realtime", err),
				})
				s.Close()
			}
			return
		}

		var msg struct {
			Type       string `json:"type"`
			Delta      string `json:"delta"`
			Transcript string `json:"transcript"`
			Error      struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "response.audio.delta":
			audio, err := base64.StdEncoding.DecodeString(msg.Delta)
			if err != nil {
				continue
			}
			s.emit(ai.RealtimeEvent{Type: ai.EventAudioDelta, Audio: audio})

		case "conversation.item.input_audio_transcription.completed":
			if msg.Transcript != "" {
				s.emit(ai.RealtimeEvent{Type: ai.EventUserTranscript, Transcript: msg.Transcript})
			}

		case "response.audio_transcript.done":
			if msg.Transcript != "" {
				s.emit(ai.RealtimeEvent{Type: ai.EventAITranscript, Transcript: msg.Transcript})
			}

		case "input_audio_buffer.speech_started":
			s.emit(ai.RealtimeEvent{Type: ai.EventSpeechStarted})

		case "error":
			s.emit(ai.RealtimeEvent{
				Type: ai.EventError,
				Err:  core.NewProviderError("openai-realtime", errors.New(msg.Error.Message)),
			})
		}
	}
}

// emit delivers an event without blocking the socket read loop. Consumers
// that fall behind lose events rather than stalling the provider socket.
func (s *realtimeSession) emit(ev ai.RealtimeEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("realtime event queue full, dropping event", "type", ev.Type)
	}
}

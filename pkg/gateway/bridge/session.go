// Package bridge relays live audio between the telephony media-stream socket
// and the AI realtime socket for one call. Each session owns exactly two leg
// handles; legs never block each other, and teardown closes both exactly once.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/telephony"
)

// phoneConn is the subset of the websocket connection the session uses.
// Narrowed for tests.
type phoneConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TurnSink persists transcript turns produced during the bridge.
type TurnSink interface {
	AppendTurn(ctx context.Context, req call.AppendTurnRequest) (*call.ConversationTurn, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (*call.VoiceCall, error)
}

type Config struct {
	Instructions string
	Voice        string

	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64

	// Outbound audio queue toward the phone leg. Full queue drops frames;
	// realtime audio delivered late is worthless.
	PhoneQueueDepth int
	// Transcript persistence queue. Bounded so a dead store cannot pile up
	// unbounded memory; order within the queue is preserved.
	PersistQueueDepth int
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.PhoneQueueDepth <= 0 {
		c.PhoneQueueDepth = 64
	}
	if c.PersistQueueDepth <= 0 {
		c.PersistQueueDepth = 256
	}
}

type turnRecord struct {
	speaker    call.Speaker
	transcript string
}

// Session bridges one call. Create with New, drive with Run; Close is safe
// from any goroutine and idempotent.
type Session struct {
	cfg    Config
	phone  phoneConn
	dialer ai.RealtimeDialer
	sink   TurnSink
	logger *slog.Logger

	aiMu      sync.Mutex
	aiSession ai.RealtimeSession
	callID    string
	streamSID string

	phoneOut  chan []byte
	persistCh chan turnRecord

	lastActivity atomic.Int64
	droppedPhone atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	aiWG      sync.WaitGroup
	persistWG sync.WaitGroup
}

func New(phone phoneConn, dialer ai.RealtimeDialer, sink TurnSink, cfg Config, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:       cfg,
		phone:     phone,
		dialer:    dialer,
		sink:      sink,
		logger:    logger,
		phoneOut:  make(chan []byte, cfg.PhoneQueueDepth),
		persistCh: make(chan turnRecord, cfg.PersistQueueDepth),
		done:      make(chan struct{}),
	}
	s.touch()
	return s
}

// Run processes the phone leg until it closes or the session is torn down.
// It returns after both legs are closed and queued transcripts are persisted.
func (s *Session) Run(ctx context.Context) {
	s.phone.SetReadLimit(s.cfg.MaxMessageBytes)

	go s.phoneWriteLoop()
	go s.idleWatch(ctx)

	s.persistWG.Add(1)
	go s.persistLoop()

	s.readPhone(ctx)
	s.Close()

	// Closing the realtime leg ends its event stream; once the AI reader
	// exits no producer remains and the persist queue can drain out.
	s.aiWG.Wait()
	close(s.persistCh)
	s.persistWG.Wait()
}

func (s *Session) readPhone(ctx context.Context) {
	for {
		_, data, err := s.phone.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("phone leg closed", "call_id", s.callID, "error", err)
			}
			return
		}
		s.touch()

		msg, err := telephony.ParseStreamMessage(data)
		if err != nil {
			continue
		}

		switch msg.Event {
		case "start":
			s.handleStart(ctx, msg.Start)

		case "media":
			// No AI leg yet, or AI leg already gone: drop. Realtime audio
			// is never buffered across a leg outage.
			if audio := msg.AudioPayload(); audio != nil {
				s.aiMu.Lock()
				leg := s.aiSession
				s.aiMu.Unlock()
				if leg != nil {
					leg.AppendAudio(audio)
				}
			}

		case "stop":
			s.logger.Info("media stream stopped", "call_id", s.callID)
			s.Close()
			return

		case "connected", "mark":
			// Connection bookkeeping only.

		default:
			s.logger.Debug("ignoring unknown stream event", "event", msg.Event)
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *Session) handleStart(ctx context.Context, start *telephony.StreamStart) {
	if start == nil {
		return
	}
	s.aiMu.Lock()
	started := s.aiSession != nil
	s.aiMu.Unlock()
	if started {
		// One start frame owns the AI leg; a duplicate must not dial another.
		s.logger.Warn("ignoring duplicate stream start", "stream_sid", start.StreamSID)
		return
	}

	callID := start.CustomParams["call_id"]
	if callID == "" && start.CallSID != "" && s.sink != nil {
		if c, err := s.sink.GetCallByProviderID(ctx, start.CallSID); err == nil {
			callID = c.ID
		}
	}
	s.aiMu.Lock()
	s.streamSID = start.StreamSID
	s.callID = callID
	s.aiMu.Unlock()
	if callID == "" {
		s.logger.Warn("media stream started without resolvable call",
			"stream_sid", start.StreamSID, "provider_call_id", start.CallSID)
	}

	leg, err := s.dialer.DialRealtime(ctx, ai.RealtimeConfig{
		Instructions: s.cfg.Instructions,
		Voice:        s.cfg.Voice,
		InputFormat:  "g711_ulaw",
		OutputFormat: "g711_ulaw",
	})
	if err != nil {
		s.logger.Error("failed to open realtime leg", "call_id", s.callID, "error", err)
		s.Close()
		return
	}
	s.aiMu.Lock()
	s.aiSession = leg
	s.aiMu.Unlock()

	s.logger.Info("bridge established", "call_id", callID, "stream_sid", start.StreamSID)
	s.aiWG.Add(1)
	go func() {
		defer s.aiWG.Done()
		s.readAI(leg)
	}()
}

func (s *Session) readAI(leg ai.RealtimeSession) {
	for ev := range leg.Events() {
		s.touch()
		switch ev.Type {
		case ai.EventAudioDelta:
			frame, err := telephony.EncodeMediaMessage(s.streamSID, ev.Audio)
			if err != nil {
				continue
			}
			s.enqueuePhone(frame)

		case ai.EventSpeechStarted:
			// Caller talked over the assistant: flush queued playback.
			if frame, err := telephony.EncodeClearMessage(s.streamSID); err == nil {
				s.enqueuePhone(frame)
			}

		case ai.EventUserTranscript:
			s.enqueueTurn(turnRecord{speaker: call.SpeakerUser, transcript: ev.Transcript})

		case ai.EventAITranscript:
			s.enqueueTurn(turnRecord{speaker: call.SpeakerAI, transcript: ev.Transcript})

		case ai.EventError:
			s.logger.Warn("realtime leg error", "call_id", s.callID, "error", ev.Err)
			s.Close()
			return

		case ai.EventClosed:
			s.Close()
			return
		}
	}
	s.Close()
}

// enqueuePhone queues an encoded frame toward the phone leg. Non-blocking;
// drops when the phone writer is saturated or the session is closed.
func (s *Session) enqueuePhone(frame []byte) {
	select {
	case <-s.done:
	case s.phoneOut <- frame:
	default:
		n := s.droppedPhone.Add(1)
		if n%100 == 1 {
			s.logger.Debug("phone queue full, dropping frame",
				"call_id", s.callID, "dropped_total", n)
		}
	}
}

// enqueueTurn hands a transcript to the persist loop. Order is the enqueue
// order; audio forwarding never waits on the store.
func (s *Session) enqueueTurn(rec turnRecord) {
	if rec.transcript == "" {
		return
	}
	select {
	case s.persistCh <- rec:
	default:
		s.logger.Warn("persist queue full, dropping transcript turn",
			"call_id", s.callID, "speaker", rec.speaker)
	}
}

// ids returns the call and stream identifiers for goroutines that may run
// before the start frame arrives.
func (s *Session) ids() (callID, streamSID string) {
	s.aiMu.Lock()
	defer s.aiMu.Unlock()
	return s.callID, s.streamSID
}

func (s *Session) phoneWriteLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.phoneOut:
			s.phone.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.phone.WriteMessage(websocket.TextMessage, frame); err != nil {
				select {
				case <-s.done:
				default:
					callID, _ := s.ids()
					s.logger.Debug("phone write failed", "call_id", callID, "error", err)
					s.Close()
				}
				return
			}
		}
	}
}

func (s *Session) persistLoop() {
	defer s.persistWG.Done()
	for rec := range s.persistCh {
		callID, _ := s.ids()
		if s.sink == nil || callID == "" {
			continue
		}
		req := call.AppendTurnRequest{CallID: callID, Speaker: rec.speaker}
		if rec.speaker == call.SpeakerAI {
			req.Response = rec.transcript
		} else {
			req.Transcription = rec.transcript
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := s.sink.AppendTurn(ctx, req); err != nil {
			s.logger.Warn("failed to persist transcript turn",
				"call_id", callID, "speaker", rec.speaker, "error", err)
		}
		cancel()
	}
}

func (s *Session) idleWatch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) > s.cfg.IdleTimeout {
				callID, _ := s.ids()
				s.logger.Info("tearing down idle bridge session", "call_id", callID)
				s.Close()
				return
			}
		}
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Close tears down both legs exactly once. Safe to call concurrently; later
// sends on either leg become no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.aiMu.Lock()
		leg := s.aiSession
		s.aiMu.Unlock()
		if leg != nil {
			leg.Close()
		}
		s.phone.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.phone.Close()
		if n := s.droppedPhone.Load(); n > 0 {
			callID, _ := s.ids()
			s.logger.Info("bridge session closed", "call_id", callID, "dropped_frames", n)
		}
	})
}

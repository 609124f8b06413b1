// Package convo drives the turn-based conversation loop: each webhook-posted
// utterance becomes one chat request, one USER turn and one AI turn.
package convo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
)

// DefaultSystemPrompt sets the conversational register for calls with elderly
// users. Handlers may override it per deployment.
const DefaultSystemPrompt = `You are a warm, patient companion on a phone call with an elderly person.
Speak in short, clear sentences. Ask one question at a time. Never rush.
Gently check on wellbeing, medication and meals when it fits the conversation.
When the person says goodbye, say a brief warm farewell.`

// ApologyReply is spoken when the AI provider fails mid-conversation. The
// call continues; the next utterance retries normally.
const ApologyReply = "I'm sorry, I didn't catch that. Could you say that again, please?"

const defaultChatTimeout = 15 * time.Second

// EndCallPolicy decides from the reply text whether the call should wrap up.
// Policies should be conservative: a false negative only costs one more turn.
type EndCallPolicy func(replyText string) bool

// closingPhrases trigger DefaultEndCallPolicy. Substring match, lowercase.
var closingPhrases = []string{
	"goodbye",
	"good bye",
	"bye for now",
	"have a wonderful day",
	"talk to you soon",
	"take care of yourself",
	"thank you for calling",
}

// DefaultEndCallPolicy matches common farewell phrasing in the AI reply.
func DefaultEndCallPolicy(replyText string) bool {
	lower := strings.ToLower(replyText)
	for _, phrase := range closingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Result is the outcome of one conversation exchange.
type Result struct {
	ReplyText string
	EndCall   bool
}

// Engine handles one utterance per invocation. It is stateless across
// invocations; all conversation state lives in the call store.
type Engine struct {
	chat         ai.Chat
	manager      *call.Manager
	logger       *slog.Logger
	systemPrompt string
	chatTimeout  time.Duration
	endPolicy    EndCallPolicy
	chatModel    string
}

// Option tunes an Engine.
type Option func(*Engine)

func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = prompt }
}

func WithChatTimeout(d time.Duration) Option {
	return func(e *Engine) { e.chatTimeout = d }
}

func WithEndCallPolicy(policy EndCallPolicy) Option {
	return func(e *Engine) { e.endPolicy = policy }
}

func WithModelLabel(model string) Option {
	return func(e *Engine) { e.chatModel = model }
}

func NewEngine(chat ai.Chat, manager *call.Manager, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		chat:         chat,
		manager:      manager,
		logger:       logger,
		systemPrompt: DefaultSystemPrompt,
		chatTimeout:  defaultChatTimeout,
		endPolicy:    DefaultEndCallPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleUtterance runs one exchange: history load, chat completion, then the
// USER turn and AI turn persisted in that order before returning. A chat
// failure yields the apology reply with the call kept alive; the USER turn is
// still persisted so the transcript records what was said.
func (e *Engine) HandleUtterance(ctx context.Context, callID, utteranceText string, confidence *float64) (*Result, error) {
	history, err := e.manager.TurnsForCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Speaker {
		case call.SpeakerUser:
			messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: turn.Transcription})
		case call.SpeakerAI:
			messages = append(messages, ai.ChatMessage{Role: ai.RoleAssistant, Content: turn.Response})
		}
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: utteranceText})

	chatCtx, cancel := context.WithTimeout(ctx, e.chatTimeout)
	reply, chatErr := e.chat.Complete(chatCtx, e.systemPrompt, messages)
	cancel()

	degraded := false
	if chatErr != nil || strings.TrimSpace(reply) == "" {
		e.logger.Warn("chat completion failed, using apology reply",
			"call_id", callID, "error", chatErr)
		reply = ApologyReply
		degraded = true
	}

	if _, err := e.manager.AppendTurn(ctx, call.AppendTurnRequest{
		CallID:        callID,
		Speaker:       call.SpeakerUser,
		Transcription: utteranceText,
		Confidence:    confidence,
	}); err != nil {
		return nil, err
	}

	aiTurn := call.AppendTurnRequest{
		CallID:   callID,
		Speaker:  call.SpeakerAI,
		Response: reply,
		Model:    e.chatModel,
	}
	if degraded {
		aiTurn.Metadata = map[string]string{"degraded": "true"}
	}
	if _, err := e.manager.AppendTurn(ctx, aiTurn); err != nil {
		return nil, err
	}

	endCall := false
	if !degraded {
		endCall = e.endPolicy(reply)
	}
	return &Result{ReplyText: reply, EndCall: endCall}, nil
}

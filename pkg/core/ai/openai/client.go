// Package openai adapts the OpenAI API to the engine's ai interfaces: chat
// completions for turn-based conversations, Whisper transcription, TTS
// synthesis and the realtime websocket for audio bridging.
package openai

import (
	"bytes"
	"context"
	"io"
	"math"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
)

// Config selects the models the client uses. Zero values fall back to
// sensible defaults.
type Config struct {
	APIKey    string
	ChatModel string
	TTSModel  string
	TTSVoice  string

	// BaseURL overrides the API endpoint. Tests point it at a local server.
	BaseURL string
}

const (
	defaultChatModel = goopenai.GPT4oMini
	defaultTTSModel  = string(goopenai.TTSModel1)
	defaultTTSVoice  = string(goopenai.VoiceAlloy)
)

// Client implements ai.Chat, ai.Transcriber and ai.Synthesizer.
type Client struct {
	api       *goopenai.Client
	chatModel string
	ttsModel  string
	ttsVoice  string
}

func NewClient(cfg Config) *Client {
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:       goopenai.NewClientWithConfig(apiCfg),
		chatModel: cfg.ChatModel,
		ttsModel:  cfg.TTSModel,
		ttsVoice:  cfg.TTSVoice,
	}
	if c.chatModel == "" {
		c.chatModel = defaultChatModel
	}
	if c.ttsModel == "" {
		c.ttsModel = defaultTTSModel
	}
	if c.ttsVoice == "" {
		c.ttsVoice = defaultTTSVoice
	}
	return c
}

func (c *Client) Complete(ctx context.Context, system string, history []ai.ChatMessage) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", core.NewProviderError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewProviderError("openai", io.ErrUnexpectedEOF)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, float64, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    goopenai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio" + extensionFor(mimeType),
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", 0, core.NewProviderError("openai", err)
	}

	// Average per-segment log probabilities into a rough 0..1 confidence.
	// Non-verbose responses carry no segments and report 0.
	var confidence float64
	if len(resp.Segments) > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += seg.AvgLogprob
		}
		confidence = math.Exp(sum / float64(len(resp.Segments)))
	}
	return resp.Text, confidence, nil
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	resp, err := c.api.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(c.ttsModel),
		Voice:          goopenai.SpeechVoice(c.ttsVoice),
		Input:          text,
		ResponseFormat: goopenai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, "", core.NewProviderError("openai", err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, "", core.NewProviderError("openai", err)
	}
	return audio, "audio/mpeg", nil
}

// extensionFor picks the filename extension Whisper uses to sniff the format.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	default:
		return ".wav"
	}
}

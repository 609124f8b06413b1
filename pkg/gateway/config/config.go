package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// PublicBaseURL is the externally reachable base URL the telephony
	// provider posts webhooks to, e.g. "https://voice.example.com".
	PublicBaseURL string

	// DatabaseURL is optional; when empty the in-memory store is used.
	DatabaseURL string

	// Telephony provider credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// AI providers.
	OpenAIAPIKey  string
	OpenAIModel   string
	RealtimeModel string
	RealtimeVoice string
	GeminiAPIKey  string
	GeminiModel   string

	// Conversation behavior.
	SystemPrompt string
	Greeting     string
	ChatTimeout  time.Duration

	// Media-stream bridge.
	StreamMode            bool
	StreamIdleTimeout     time.Duration
	StreamWriteTimeout    time.Duration
	StreamMaxMessageBytes int64

	MaxBodyBytes int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOICEGATE_ADDR", ":8080"),
		AuthMode:              AuthMode(envOr("VOICEGATE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:               make(map[string]struct{}),
		PublicBaseURL:         strings.TrimRight(envOr("VOICEGATE_PUBLIC_BASE_URL", ""), "/"),
		DatabaseURL:           envOr("VOICEGATE_DATABASE_URL", ""),
		TwilioAccountSID:      envOr("VOICEGATE_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       envOr("VOICEGATE_TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:      envOr("VOICEGATE_TWILIO_FROM_NUMBER", ""),
		OpenAIAPIKey:          envOr("VOICEGATE_OPENAI_API_KEY", ""),
		OpenAIModel:           envOr("VOICEGATE_OPENAI_MODEL", ""),
		RealtimeModel:         envOr("VOICEGATE_REALTIME_MODEL", ""),
		RealtimeVoice:         envOr("VOICEGATE_REALTIME_VOICE", "alloy"),
		GeminiAPIKey:          envOr("VOICEGATE_GEMINI_API_KEY", ""),
		GeminiModel:           envOr("VOICEGATE_GEMINI_MODEL", ""),
		SystemPrompt:          envOr("VOICEGATE_SYSTEM_PROMPT", ""),
		Greeting:              envOr("VOICEGATE_GREETING", "Hello! This is your daily check-in call."),
		ChatTimeout:           envDurationOr("VOICEGATE_CHAT_TIMEOUT", 15*time.Second),
		StreamMode:            envBoolOr("VOICEGATE_STREAM_MODE", false),
		StreamIdleTimeout:     envDurationOr("VOICEGATE_STREAM_IDLE_TIMEOUT", 90*time.Second),
		StreamWriteTimeout:    envDurationOr("VOICEGATE_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamMaxMessageBytes: envInt64Or("VOICEGATE_STREAM_MAX_MESSAGE_BYTES", 64*1024),
		MaxBodyBytes:          envInt64Or("VOICEGATE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:     envDurationOr("VOICEGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("VOICEGATE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:        envDurationOr("VOICEGATE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:   envDurationOr("VOICEGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICEGATE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOICEGATE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOICEGATE_API_KEYS must be set when VOICEGATE_AUTH_MODE=required")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ChatTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_CHAT_TIMEOUT must be > 0")
	}
	if cfg.StreamIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_STREAM_IDLE_TIMEOUT must be > 0")
	}
	if cfg.StreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.StreamMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_STREAM_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.TwilioAccountSID != "" || cfg.TwilioAuthToken != "" || cfg.TwilioFromNumber != "" {
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return Config{}, fmt.Errorf("VOICEGATE_TWILIO_ACCOUNT_SID, VOICEGATE_TWILIO_AUTH_TOKEN and VOICEGATE_TWILIO_FROM_NUMBER must be set together")
		}
		if cfg.PublicBaseURL == "" {
			return Config{}, fmt.Errorf("VOICEGATE_PUBLIC_BASE_URL must be set when Twilio is configured")
		}
	}

	return cfg, nil
}

// VoiceWebhookURL is where the provider fetches the call's opening markup.
func (c Config) VoiceWebhookURL() string { return c.PublicBaseURL + "/twilio/voice" }

// StatusWebhookURL receives call lifecycle callbacks.
func (c Config) StatusWebhookURL() string { return c.PublicBaseURL + "/twilio/status" }

// GatherWebhookURL receives transcribed utterances in turn-based mode.
func (c Config) GatherWebhookURL() string { return c.PublicBaseURL + "/twilio/gather" }

// MediaStreamURL is the websocket endpoint for realtime media streams.
func (c Config) MediaStreamURL() string {
	base := c.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/twilio/media-stream"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

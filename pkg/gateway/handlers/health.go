package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		Draining        bool     `json:"draining"`
		AuthMode        string   `json:"auth_mode"`
		TelephonyWired  bool     `json:"telephony_wired"`
		StreamMode      bool     `json:"stream_mode"`
		PersistentStore bool     `json:"persistent_store"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ChatTimeout <= 0 {
		issues = append(issues, "chat timeout must be > 0")
	}
	if h.Config.StreamIdleTimeout <= 0 || h.Config.StreamWriteTimeout <= 0 {
		issues = append(issues, "stream timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	telephonyWired := h.Config.TwilioAccountSID != ""
	if telephonyWired && h.Config.PublicBaseURL == "" {
		issues = append(issues, "telephony configured without a public base url")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	} else if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		Draining:        draining,
		AuthMode:        string(h.Config.AuthMode),
		TelephonyWired:  telephonyWired,
		StreamMode:      h.Config.StreamMode,
		PersistentStore: h.Config.DatabaseURL != "",
		Issues:          issues,
	})
}

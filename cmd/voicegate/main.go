// Command voicegate runs the elder-care voice call gateway: the caregiver
// REST API, the telephony provider webhooks and the realtime media bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/carelink/voicegate/internal/dotenv"
	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/ai/gemini"
	"github.com/carelink/voicegate/pkg/core/ai/openai"
	"github.com/carelink/voicegate/pkg/core/call"
	"github.com/carelink/voicegate/pkg/core/convo"
	"github.com/carelink/voicegate/pkg/core/summary"
	"github.com/carelink/voicegate/pkg/gateway/bridge/sessions"
	"github.com/carelink/voicegate/pkg/gateway/config"
	"github.com/carelink/voicegate/pkg/gateway/lifecycle"
	gatewayserver "github.com/carelink/voicegate/pkg/gateway/server"
	"github.com/carelink/voicegate/pkg/store/postgres"
	"github.com/carelink/voicegate/pkg/telephony"
	"github.com/carelink/voicegate/pkg/telephony/twilio"
)

// unconfiguredProvider answers every telephony operation with a provider
// error, so a deployment without credentials fails requests instead of the
// process.
type unconfiguredProvider struct{}

var errNoTelephony = errors.New("telephony provider is not configured")

func (unconfiguredProvider) OriginateCall(context.Context, string, map[string]string) (string, error) {
	return "", core.NewProviderError("telephony", errNoTelephony)
}

func (unconfiguredProvider) SayAndGather(string, string) (string, error) {
	return "", core.NewProviderError("telephony", errNoTelephony)
}

func (unconfiguredProvider) SayAndHangup(string) (string, error) {
	return "", core.NewProviderError("telephony", errNoTelephony)
}

func (unconfiguredProvider) ConnectStream(string, string, string) (string, error) {
	return "", core.NewProviderError("telephony", errNoTelephony)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func buildProvider(cfg config.Config, logger *slog.Logger) telephony.Provider {
	if cfg.TwilioAccountSID == "" {
		logger.Warn("twilio credentials not configured, telephony operations will fail")
		return unconfiguredProvider{}
	}
	return twilio.NewProvider(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		VoiceURL:   cfg.VoiceWebhookURL(),
		StatusURL:  cfg.StatusWebhookURL(),
	}, logger)
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (call.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory call store")
		return call.NewMemoryStore(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	logger.Info("using postgres call store")
	return pg, pg.Close, nil
}

func buildAnalyzer(ctx context.Context, cfg config.Config, logger *slog.Logger) (ai.Analyzer, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("gemini not configured, call summaries will be degraded")
		return nil, nil
	}
	return gemini.NewAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider := buildProvider(cfg, logger)
	manager := call.NewManager(store, provider, logger)

	chat := openai.NewClient(openai.Config{
		APIKey:    cfg.OpenAIAPIKey,
		ChatModel: cfg.OpenAIModel,
	})
	engineOpts := []convo.Option{convo.WithChatTimeout(cfg.ChatTimeout)}
	if cfg.SystemPrompt != "" {
		engineOpts = append(engineOpts, convo.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.OpenAIModel != "" {
		engineOpts = append(engineOpts, convo.WithModelLabel(cfg.OpenAIModel))
	}
	engine := convo.NewEngine(chat, manager, logger, engineOpts...)

	analyzer, err := buildAnalyzer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}
	summarizer := summary.NewSummarizer(manager, analyzer, logger)

	dialer := &openai.RealtimeDialer{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.RealtimeModel,
		Logger: logger,
	}

	lc := &lifecycle.Lifecycle{}
	tracker := sessions.New()

	gw := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Manager:    manager,
		Engine:     engine,
		Summarizer: summarizer,
		Provider:   provider,
		Dialer:     dialer,
		Lifecycle:  lc,
		Sessions:   tracker,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voicegate",
		"addr", cfg.Addr, "auth_mode", cfg.AuthMode, "stream_mode", cfg.StreamMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Live media-stream bridges outlive Shutdown; give them the grace
	// period, then cut them off.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if err := tracker.Wait(waitCtx); err != nil {
		logger.Warn("closing remaining bridge sessions", "count", tracker.Len())
		tracker.CloseAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voicegate stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}

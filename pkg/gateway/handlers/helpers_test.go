package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOriginator struct {
	mu     sync.Mutex
	dialed []string
	err    error
}

func (f *fakeOriginator) OriginateCall(_ context.Context, toNumber string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.dialed = append(f.dialed, toNumber)
	return fmt.Sprintf("CA-test-%d", len(f.dialed)), nil
}

func newTestManager() (*call.Manager, *fakeOriginator) {
	orig := &fakeOriginator{}
	return call.NewManager(call.NewMemoryStore(), orig, discardLogger()), orig
}

// fakeProvider renders markup shaped like real responses so handlers can be
// asserted on structure, not just pass-through strings.
type fakeProvider struct {
	originator fakeOriginator
}

func (p *fakeProvider) OriginateCall(ctx context.Context, toNumber string, metadata map[string]string) (string, error) {
	return p.originator.OriginateCall(ctx, toNumber, metadata)
}

func (p *fakeProvider) SayAndGather(text, actionURL string) (string, error) {
	return `<Response><Say>` + text + `</Say><Gather action="` + actionURL + `"/></Response>`, nil
}

func (p *fakeProvider) SayAndHangup(text string) (string, error) {
	return `<Response><Say>` + text + `</Say><Hangup/></Response>`, nil
}

func (p *fakeProvider) ConnectStream(greeting, streamURL, callID string) (string, error) {
	return `<Response><Connect><Stream url="` + streamURL + `"><Parameter name="call_id" value="` + callID + `"/></Stream></Connect></Response>`, nil
}

type scriptedChat struct {
	reply string
	err   error
}

func (c *scriptedChat) Complete(_ context.Context, _ string, _ []ai.ChatMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type fakeAnalyzer struct {
	result *ai.AnalysisResult
	err    error
}

func (a *fakeAnalyzer) Analyze(context.Context, string) (*ai.AnalysisResult, error) {
	return a.result, a.err
}

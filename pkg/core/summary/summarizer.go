// Package summary produces caregiver-facing call summaries from stored
// transcripts. Summarization is best-effort: analysis failures degrade to a
// placeholder result instead of failing the read path.
package summary

import (
	"context"
	"log/slog"
	"strings"

	"github.com/carelink/voicegate/pkg/core/ai"
	"github.com/carelink/voicegate/pkg/core/call"
)

const degradedSummary = "A summary could not be generated for this call. The full transcript is available."

// Summarizer turns a call's ordered turns into a structured analysis.
type Summarizer struct {
	manager  *call.Manager
	analyzer ai.Analyzer
	logger   *slog.Logger
}

func NewSummarizer(manager *call.Manager, analyzer ai.Analyzer, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{manager: manager, analyzer: analyzer, logger: logger}
}

// Summarize loads the call's turns, renders a speaker-labeled transcript and
// asks the analyzer for a structured review. Any analyzer failure yields a
// degraded result, never an error; only a missing call errors.
func (s *Summarizer) Summarize(ctx context.Context, callID string) (*ai.AnalysisResult, error) {
	turns, err := s.manager.TurnsForCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return degraded("no conversation was recorded for this call"), nil
	}

	transcript := RenderTranscript(turns)
	if s.analyzer == nil {
		return degraded(degradedSummary), nil
	}

	result, err := s.analyzer.Analyze(ctx, transcript)
	if err != nil || result == nil || result.Summary == "" {
		s.logger.Warn("transcript analysis degraded", "call_id", callID, "error", err)
		return degraded(degradedSummary), nil
	}
	if result.Mood == "" {
		result.Mood = "unknown"
	}
	if result.KeyTopics == nil {
		result.KeyTopics = []string{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return result, nil
}

// RenderTranscript formats turns as "SPEAKER: text" lines in stored order.
func RenderTranscript(turns []*call.ConversationTurn) string {
	var b strings.Builder
	for _, t := range turns {
		text := t.Text()
		if text == "" {
			continue
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func degraded(summary string) *ai.AnalysisResult {
	return &ai.AnalysisResult{
		Summary:         summary,
		Mood:            "unknown",
		KeyTopics:       []string{},
		Recommendations: []string{},
		Degraded:        true,
	}
}

// Package gemini implements post-call transcript analysis with the Gemini
// API, using response schemas so the model always returns well-formed JSON.
package gemini

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/genai"

	"github.com/carelink/voicegate/pkg/core"
	"github.com/carelink/voicegate/pkg/core/ai"
)

const defaultModel = "gemini-2.0-flash"

const analysisInstruction = `You review transcripts of phone check-in calls with elderly people.
Summarize the conversation in two or three sentences, judge the person's
overall mood, and list the key topics discussed (medication, pain, sleep,
appetite, family, falls) and concrete recommendations for a caregiver. Only
report what the transcript supports.`

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
		"mood": {
			Type: genai.TypeString,
			Enum: []string{"positive", "neutral", "concerned", "distressed", "unknown"},
		},
		"key_topics": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"recommendations": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"summary", "mood", "key_topics", "recommendations"},
}

// Analyzer implements ai.Analyzer on top of the Gemini API.
type Analyzer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewAnalyzer(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Analyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, model: model, logger: logger}, nil
}

func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*ai.AnalysisResult, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: analysisInstruction}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	}
	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: transcript}}},
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}

	var result ai.AnalysisResult
	if err := json.Unmarshal([]byte(resp.Text()), &result); err != nil {
		a.logger.Warn("transcript analysis returned malformed JSON", "error", err)
		return nil, core.NewProviderError("gemini", err)
	}
	return &result, nil
}

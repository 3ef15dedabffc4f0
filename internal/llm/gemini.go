package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"vitafit/config"
)

// GeminiInvoker sends payloads to the Gemini API.
type GeminiInvoker struct {
	client      *genai.Client
	model       string
	visionModel string
	temperature float32
	maxTokens   int32
}

func NewGeminiInvoker(ctx context.Context, cfg config.LLMConfig) (*GeminiInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}

	return &GeminiInvoker{
		client:      client,
		model:       model,
		visionModel: cfg.VisionModel,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (g *GeminiInvoker) Invoke(ctx context.Context, payload Payload, history []Turn) (*RawResponse, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	model := g.model
	parts := []*genai.Part{genai.NewPartFromText(payload.Text)}
	if payload.Attachment != nil {
		if g.visionModel != "" {
			model = g.visionModel
		}
		parts = append(parts, genai.NewPartFromBytes(payload.Attachment.Data, payload.Attachment.MediaType))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		gc.MaxOutputTokens = g.maxTokens
	}
	if payload.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(payload.System, genai.RoleUser)
	}
	if payload.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	started := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, gc)
	if err != nil {
		return nil, geminiError(ctx, err)
	}

	raw := &RawResponse{
		Text:    resp.Text(),
		Model:   model,
		Latency: time.Since(started),
	}
	if resp.ModelVersion != "" {
		raw.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		raw.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		raw.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return raw, nil
}

func geminiError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &RejectedError{Status: apiErr.Code, Code: apiErr.Status, Message: apiErr.Message}
	}
	return unavailable(ctx, err)
}

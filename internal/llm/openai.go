// internal/llm/openai.go
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"vitafit/config"
)

// OpenAIInvoker sends payloads to an OpenAI-compatible chat completions endpoint.
type OpenAIInvoker struct {
	client      *openai.Client
	model       string
	visionModel string
	temperature float32
	maxTokens   int
}

func NewOpenAIInvoker(cfg config.LLMConfig) *OpenAIInvoker {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIInvoker{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		visionModel: cfg.VisionModel,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *OpenAIInvoker) Invoke(ctx context.Context, payload Payload, history []Turn) (*RawResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if payload.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: payload.System,
		})
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	model := c.model
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if payload.Attachment != nil {
		if c.visionModel != "" {
			model = c.visionModel
		}
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: payload.Text},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI(payload.Attachment),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		}
	} else {
		user.Content = payload.Text
	}
	messages = append(messages, user)

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if payload.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, openAIError(ctx, err)
	}

	raw := &RawResponse{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          time.Since(started),
	}
	// An empty choice list is passed on as empty text; the validator rejects it.
	if len(resp.Choices) > 0 {
		raw.Text = resp.Choices[0].Message.Content
	}
	return raw, nil
}

func openAIError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &RejectedError{Status: apiErr.HTTPStatusCode, Code: code, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &RejectedError{Status: reqErr.HTTPStatusCode, Message: reqErr.HTTPStatus}
	}
	return unavailable(ctx, err)
}

func dataURI(a *Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", a.MediaType, base64.StdEncoding.EncodeToString(a.Data))
}

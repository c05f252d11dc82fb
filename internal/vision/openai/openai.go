package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/vbonduro/yardwise/internal/secret"
	"github.com/vbonduro/yardwise/internal/vision"
)

const maxTokens = 2048

type Analyzer struct {
	key     *secret.Cache
	model   string
	baseURL string
	client  *http.Client
}

// NewAnalyzer returns an OpenAI-compatible vision backend. An empty baseURL
// targets api.openai.com.
func NewAnalyzer(key *secret.Cache, model, baseURL string) *Analyzer {
	return &Analyzer{
		key:     key,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (a *Analyzer) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	cfg.HTTPClient = a.client
	return openai.NewClientWithConfig(cfg)
}

func (a *Analyzer) Analyze(ctx context.Context, req vision.Request) (*vision.Output, error) {
	apiKey, err := a.key.Get(ctx)
	if err != nil {
		return nil, vision.NewError(vision.KindAPIError, err)
	}

	model := a.model
	if model == "" {
		model = openai.GPT4o
	}
	chat := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: vision.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: vision.BuildPrompt(req.ZoneCode, req.ZoneDescription)},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:" + req.MediaType + ";base64," + req.ImageBase64,
						Detail: openai.ImageURLDetailAuto,
					}},
				},
			},
		},
	}
	// Reasoning models reject max_tokens.
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		chat.MaxCompletionTokens = maxTokens
	} else {
		chat.MaxTokens = maxTokens
	}

	resp, err := a.newClient(apiKey).CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, vision.NewError(vision.KindInvalidResponse, errors.New("openai returned no choices"))
	}

	return vision.ParseOutput(resp.Choices[0].Message.Content)
}

func (a *Analyzer) classify(err error) error {
	if vision.IsTimeout(err) {
		return vision.NewError(vision.KindTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			a.key.Reset()
		}
		return vision.NewError(vision.KindForStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return vision.NewError(vision.KindForStatus(reqErr.HTTPStatusCode), err)
	}
	return vision.NewError(vision.KindAPIError, err)
}

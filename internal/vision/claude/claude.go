package claude

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/vbonduro/yardwise/internal/secret"
	"github.com/vbonduro/yardwise/internal/vision"
)

// maxTokens leaves room for a dozen features and six archetypes in JSON.
const maxTokens = 2048

type ClaudeAnalyzer struct {
	key     *secret.Cache
	model   string
	client  *http.Client
	baseURL string
}

func NewClaudeAnalyzer(key *secret.Cache, model string) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{
		key:    key,
		model:  model,
		client: &http.Client{},
	}
}

func (a *ClaudeAnalyzer) newClient(apiKey string) *anthropic.Client {
	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(a.client)}
	if a.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(a.baseURL))
	}
	return anthropic.NewClient(apiKey, opts...)
}

func (a *ClaudeAnalyzer) Analyze(ctx context.Context, req vision.Request) (*vision.Output, error) {
	apiKey, err := a.key.Get(ctx)
	if err != nil {
		return nil, vision.NewError(vision.KindAPIError, err)
	}

	resp, err := a.newClient(apiKey).CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System:    vision.SystemPrompt,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(req.MediaType),
					req.ImageBase64,
				)),
				anthropic.NewTextMessageContent(vision.BuildPrompt(req.ZoneCode, req.ZoneDescription)),
			},
		}},
	})
	if err != nil {
		return nil, a.classify(err)
	}

	var responseText string
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			responseText = c.GetText()
			break
		}
	}
	if responseText == "" {
		return nil, vision.NewError(vision.KindInvalidResponse, errors.New("claude returned no text content"))
	}

	return vision.ParseOutput(responseText)
}

// classify maps SDK errors onto vision kinds. An authentication failure drops
// the cached key so a rotated key is picked up on the next run.
func (a *ClaudeAnalyzer) classify(err error) error {
	if vision.IsTimeout(err) {
		return vision.NewError(vision.KindTimeout, err)
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case anthropic.ErrTypeRateLimit, anthropic.ErrTypeOverloaded:
			return vision.NewError(vision.KindRateLimited, err)
		case anthropic.ErrTypeAuthentication:
			slog.Warn("claude rejected api key, clearing cache")
			a.key.Reset()
		}
		return vision.NewError(vision.KindAPIError, err)
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return vision.NewError(vision.KindForStatus(reqErr.StatusCode), err)
	}
	return vision.NewError(vision.KindAPIError, err)
}

// normaliseMIME maps media types to the values the Anthropic API accepts.
// Normalization upstream already turned HEIC into JPEG.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}

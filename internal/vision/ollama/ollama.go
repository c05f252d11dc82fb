package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/yardwise/internal/vision"
)

type OllamaAnalyzer struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaAnalyzer(host, model string) *OllamaAnalyzer {
	return &OllamaAnalyzer{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	System string   `json:"system"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Format string   `json:"format"`
	Stream bool     `json:"stream"`
}

func (a *OllamaAnalyzer) Analyze(ctx context.Context, req vision.Request) (*vision.Output, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  a.model,
		System: vision.SystemPrompt,
		Prompt: vision.BuildPrompt(req.ZoneCode, req.ZoneDescription),
		Images: []string{req.ImageBase64},
		Format: "json",
	})
	if err != nil {
		return nil, vision.NewError(vision.KindAPIError, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, vision.NewError(vision.KindAPIError, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if vision.IsTimeout(err) {
			return nil, vision.NewError(vision.KindTimeout, err)
		}
		return nil, vision.NewError(vision.KindAPIError, fmt.Errorf("failed to call ollama: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, vision.NewError(vision.KindForStatus(resp.StatusCode),
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody))
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		if vision.IsTimeout(err) {
			return nil, vision.NewError(vision.KindTimeout, err)
		}
		return nil, vision.NewError(vision.KindInvalidResponse, fmt.Errorf("failed to decode response: %w", err))
	}

	return vision.ParseOutput(respBody.Response)
}

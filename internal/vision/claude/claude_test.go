package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/yardwise/internal/secret"
	"github.com/vbonduro/yardwise/internal/vision"
)

const modelJSON = `{"isValidYardPhoto": true, "summary": "Sunny front yard", "yardSize": "small",
"overallSunExposure": "full_sun", "features": [{"type": "lawn", "label": "Lawn"}],
"recommendedPlantTypes": [{"plantType": "perennial", "lightRequirement": "full_sun",
"searchTags": ["pollinator"], "category": "seasonal_color", "reason": "Adds color"}]}`

func messageResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"usage": map[string]int{"input_tokens": 10, "output_tokens": 20},
	}
}

func newTestAnalyzer(url string) *ClaudeAnalyzer {
	a := NewClaudeAnalyzer(secret.NewCache(secret.Static("sk-test")), "claude-sonnet-4-5")
	a.baseURL = url
	return a
}

var testRequest = vision.Request{ImageBase64: "/9j/AA==", MediaType: "image/jpeg", ZoneCode: "7b", ZoneDescription: "Charlotte"}

func TestClaudeAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))

		var body struct {
			Model    string `json:"model"`
			System   string `json:"system"`
			Messages []struct {
				Content []struct {
					Type   string `json:"type"`
					Text   string `json:"text"`
					Source struct {
						MediaType string `json:"media_type"`
						Data      string `json:"data"`
					} `json:"source"`
				} `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-5", body.Model)
		assert.Equal(t, vision.SystemPrompt, body.System)
		if assert.Len(t, body.Messages, 1) && assert.Len(t, body.Messages[0].Content, 2) {
			assert.Equal(t, "image", body.Messages[0].Content[0].Type)
			assert.Equal(t, "/9j/AA==", body.Messages[0].Content[0].Source.Data)
			assert.Contains(t, body.Messages[0].Content[1].Text, "zone 7b")
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(messageResponse(modelJSON)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	out, err := newTestAnalyzer(server.URL).Analyze(context.Background(), testRequest)
	require.NoError(t, err)
	assert.True(t, out.IsValidSubjectPhoto)
	assert.Equal(t, "Sunny front yard", out.Summary)
	require.Len(t, out.Archetypes, 1)
	assert.Equal(t, "perennial", out.Archetypes[0].PlantType)
}

func writeAPIError(w http.ResponseWriter, status int, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":  "error",
		"error": map[string]string{"type": errType, "message": "test"},
	})
}

func TestClaudeAnalyzeErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    vision.ErrorKind
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, http.StatusTooManyRequests, "rate_limit_error")
			},
			want: vision.KindRateLimited,
		},
		{
			name: "overloaded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, 529, "overloaded_error")
			},
			want: vision.KindRateLimited,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, http.StatusInternalServerError, "api_error")
			},
			want: vision.KindAPIError,
		},
		{
			name: "garbage text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(messageResponse("I am not JSON"))
			},
			want: vision.KindInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newTestAnalyzer(server.URL).Analyze(context.Background(), testRequest)
			require.Error(t, err)
			assert.Equal(t, tt.want, vision.KindOf(err))
		})
	}
}

func TestClaudeAnalyzeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestAnalyzer(server.URL).Analyze(ctx, testRequest)
	require.Error(t, err)
	assert.Equal(t, vision.KindTimeout, vision.KindOf(err))
}

func TestClaudeAnalyzeAuthResetsKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "authentication_error")
	}))
	defer server.Close()

	calls := 0
	a := NewClaudeAnalyzer(secret.NewCache(func(context.Context) (string, error) {
		calls++
		return "sk-old", nil
	}), "claude-sonnet-4-5")
	a.baseURL = server.URL

	_, err := a.Analyze(context.Background(), testRequest)
	assert.Equal(t, vision.KindAPIError, vision.KindOf(err))
	_, _ = a.Analyze(context.Background(), testRequest)
	assert.Equal(t, 2, calls)
}

func TestClaudeAnalyzeMissingKey(t *testing.T) {
	a := NewClaudeAnalyzer(secret.NewCache(secret.Static("")), "claude-sonnet-4-5")
	_, err := a.Analyze(context.Background(), testRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, secret.ErrEmpty)
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/png", normaliseMIME("image/png"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/heic"))
	assert.Equal(t, "image/jpeg", normaliseMIME(""))
}

// internal/oracle/provider_test.go
package oracle

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

func geminiConfig(endpoint string) config.OracleConfig {
	return config.OracleConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.0-flash",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
		MaxTokens:  512,
	}
}

func geminiSuccessBody(text string) string {
	payload := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestNewGeminiProviderRequiresAPIKey(t *testing.T) {
	cfg := geminiConfig("")
	cfg.APIKey = ""
	_, err := NewGeminiProvider(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestGeminiGenerate(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, geminiSuccessBody(`{"tool":"wait"}`))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	content, err := provider.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "You drive a browser.",
		UserPrompt:   "Decide the next action.",
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			MaxTokens:       512,
			ForceJSONFormat: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tool":"wait"}`, content)

	var payload geminiRequestPayload
	require.NoError(t, json.Unmarshal(captured, &payload))
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, "Decide the next action.", payload.Contents[0].Parts[0].Text)
	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, "You drive a browser.", payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 512, payload.GenerationConfig.MaxOutputTokens)
}

func TestGeminiGenerateRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, geminiSuccessBody("recovered"))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	content, err := provider.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiGenerateDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"invalid argument"}}`)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestGeminiGenerateSafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiGenerateNoCandidatesIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiConfig(server.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.OracleConfig{Model: "gpt-4o-mini"}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{
			"choices": [{"message": {"role": "assistant", "content": "{\"tool\":\"navigate\"}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(config.OracleConfig{
		Provider: config.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		Endpoint: server.URL,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	content, err := provider.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "You drive a browser.",
		UserPrompt:   "Decide.",
		Options:      schemas.GenerationOptions{MaxTokens: 256, ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tool":"navigate"}`, content)

	var chatReq map[string]interface{}
	require.NoError(t, json.Unmarshal(captured, &chatReq))
	assert.Equal(t, "gpt-4o-mini", chatReq["model"])
	messages := chatReq["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", messages[1].(map[string]interface{})["role"])
	format := chatReq["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIGenerateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(config.OracleConfig{
		Model: "gpt-4o-mini", APIKey: "test-key", Endpoint: server.URL,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewProviderFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p, err := NewProvider(config.OracleConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m"}, logger)
	require.NoError(t, err)
	assert.IsType(t, (*OpenAIProvider)(nil), p)

	p, err = NewProvider(config.OracleConfig{Provider: config.ProviderGemini, APIKey: "k", Model: "m"}, logger)
	require.NoError(t, err)
	assert.IsType(t, (*GeminiProvider)(nil), p)

	_, err = NewProvider(config.OracleConfig{Provider: "llama"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown oracle provider")
}

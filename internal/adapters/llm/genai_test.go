package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

func newGeminiServer(t *testing.T, status int, body string, got *map[string]any) *GenAIClient {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent"), r.URL.Path)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(context.Background(), "g-key", srv.URL)
	require.NoError(t, err)
	return c
}

func geminiRequest() domain.CompletionRequest {
	req := sampleRequest()
	req.Model = "gemini-2.5-flash"
	return req
}

func TestGenAIComplete(t *testing.T) {
	var got map[string]any
	c := newGeminiServer(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "Reminder drafted."}]}}],
		"usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 7},
		"modelVersion": "gemini-2.5-flash-001"
	}`, &got)

	out, err := c.Complete(context.Background(), geminiRequest())
	require.NoError(t, err)

	assert.Equal(t, "Reminder drafted.", out.Text)
	assert.Equal(t, 42, out.InputTokens)
	assert.Equal(t, 7, out.OutputTokens)
	assert.Equal(t, "gemini-2.5-flash-001", out.Model)

	contents, ok := got["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.Contains(t, got, "systemInstruction")
}

func TestGenAIErrorKinds(t *testing.T) {
	c := newGeminiServer(t, http.StatusTooManyRequests,
		`{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`, nil)

	_, err := c.Complete(context.Background(), geminiRequest())
	require.ErrorIs(t, err, domain.ErrProvider)

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.ProviderRateLimited, pe.Kind)
}

func TestGenAIRejectsEmptyReply(t *testing.T) {
	c := newGeminiServer(t, http.StatusOK, `{"candidates": []}`, nil)

	_, err := c.Complete(context.Background(), geminiRequest())
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.ProviderUnknown, pe.Kind)
}

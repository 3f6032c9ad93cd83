package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
)

type geminiContent struct {
	Role  string           `json:"role"`
	Parts []map[string]any `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
}

const geminiReply = `{"candidates":[{"content":{"role":"model","parts":[{"text":"hi there"}]},"finishReason":"STOP","index":0}]}`

func newGeminiTestServer(t *testing.T, status int, body string, got *geminiRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/m:generateContent"), r.URL.Path)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(t *testing.T, srv *httptest.Server) *GeminiAdapter {
	t.Helper()
	adapter, err := NewGemini(context.Background(), Config{Name: NameGemini, APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	return adapter
}

func partText(part map[string]any) string {
	text, _ := part["text"].(string)
	return text
}

func TestGeminiAdapter_Generate(t *testing.T) {
	var got geminiRequest
	srv := newGeminiTestServer(t, http.StatusOK, geminiReply, &got)

	reply, err := newTestGemini(t, srv).Generate(context.Background(), sampleHistory(), "hello", "es")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	require.Len(t, got.Contents, 5)
	roles := make([]string, len(got.Contents))
	for i, c := range got.Contents {
		roles[i] = c.Role
	}
	assert.Equal(t, []string{"user", "model", "user", "model", "user"}, roles)
	require.Len(t, got.Contents[4].Parts, 1)
	assert.Equal(t, "hello", partText(got.Contents[4].Parts[0]))

	require.NotNil(t, got.SystemInstruction)
	require.NotEmpty(t, got.SystemInstruction.Parts)
	assert.Contains(t, partText(got.SystemInstruction.Parts[0]), "Spanish")
}

func TestGeminiAdapter_AnalyzeImage(t *testing.T) {
	var got geminiRequest
	srv := newGeminiTestServer(t, http.StatusOK, geminiReply, &got)

	reply, err := newTestGemini(t, srv).AnalyzeImage(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg", "What does this show?")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	inline, ok := parts[0]["inlineData"].(map[string]any)
	require.True(t, ok, "image travels as inline data")
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, "What does this show?", partText(parts[1]))
	require.NotNil(t, got.SystemInstruction)
}

func TestGeminiAdapter_Errors(t *testing.T) {
	t.Run("api error carries status", func(t *testing.T) {
		srv := newGeminiTestServer(t, http.StatusBadRequest,
			`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`, nil)

		_, err := newTestGemini(t, srv).Generate(context.Background(), nil, "hello", "en")
		var pe *apperrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, NameGemini, pe.Provider)
		assert.Equal(t, http.StatusBadRequest, pe.Status)
		assert.Equal(t, "API key not valid", pe.Detail)
	})

	t.Run("empty response", func(t *testing.T) {
		srv := newGeminiTestServer(t, http.StatusOK, `{"candidates":[]}`, nil)

		_, err := newTestGemini(t, srv).Generate(context.Background(), nil, "hello", "en")
		var pe *apperrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "empty response", pe.Detail)
	})

	t.Run("vision errors map the same way", func(t *testing.T) {
		srv := newGeminiTestServer(t, http.StatusBadRequest,
			`{"error":{"code":400,"message":"unsupported image","status":"INVALID_ARGUMENT"}}`, nil)

		_, err := newTestGemini(t, srv).AnalyzeImage(context.Background(), []byte{1}, "image/png", "look")
		assert.True(t, apperrors.IsProvider(err))
	})
}

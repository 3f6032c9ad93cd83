package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

func sampleHistory() []storage.Message {
	now := time.Now()
	return []storage.Message{
		storage.NewMessage(storage.SenderUser, "I slept 5 hours", now),
		storage.NewMessage(storage.SenderAssistant, "That is below the usual 7-9 hours.", now),
		storage.NewMessage(storage.SenderUser, "Is that bad?", now),
		storage.NewMessage(storage.SenderAssistant, "Occasionally it is fine.", now),
	}
}

func TestTranslation_RoundTrip(t *testing.T) {
	history := sampleHistory()
	newMessage := "What about naps?"

	wantSenders := make([]storage.Sender, 0, len(history)+1)
	wantTexts := make([]string, 0, len(history)+1)
	for _, m := range history {
		wantSenders = append(wantSenders, m.Sender)
		wantTexts = append(wantTexts, m.Text)
	}
	wantSenders = append(wantSenders, storage.SenderUser)
	wantTexts = append(wantTexts, newMessage)

	t.Run("openai", func(t *testing.T) {
		msgs := BuildOpenAIMessages(history, newMessage)
		require.Len(t, msgs, len(wantSenders))
		for i, m := range msgs {
			sender, ok := senderFromOpenAIRole(m.Role)
			require.True(t, ok)
			assert.Equal(t, wantSenders[i], sender)
			assert.Equal(t, wantTexts[i], m.Content)
		}
	})

	t.Run("anthropic", func(t *testing.T) {
		msgs := BuildAnthropicMessages(history, newMessage)
		require.Len(t, msgs, len(wantSenders))
		for i, m := range msgs {
			sender, ok := senderFromAnthropicRole(m.Role)
			require.True(t, ok)
			assert.Equal(t, wantSenders[i], sender)
			require.Len(t, m.Content, 1)
			require.NotNil(t, m.Content[0].OfText)
			assert.Equal(t, wantTexts[i], m.Content[0].OfText.Text)
		}
	})

	t.Run("gemini", func(t *testing.T) {
		contents := BuildGeminiContents(history, newMessage)
		require.Len(t, contents, len(wantSenders))
		for i, c := range contents {
			sender, ok := senderFromGeminiRole(c.Role)
			require.True(t, ok)
			assert.Equal(t, wantSenders[i], sender)
			require.Len(t, c.Parts, 1)
			assert.Equal(t, wantTexts[i], c.Parts[0].Text)
		}
		assert.Equal(t, "model", contents[1].Role)
	})
}

func TestTranslation_EmptyHistory(t *testing.T) {
	msgs := BuildOpenAIMessages(nil, "hello")
	require.Len(t, msgs, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[0].Role)

	assert.Len(t, BuildAnthropicMessages(nil, "hello"), 1)
	assert.Len(t, BuildGeminiContents(nil, "hello"), 1)
}

func TestSystemInstruction_AddedOnce(t *testing.T) {
	msgs := withOpenAISystem(BuildOpenAIMessages(sampleHistory(), "q"), "persona")
	require.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)

	again := withOpenAISystem(msgs, "persona")
	assert.Len(t, again, len(msgs))

	systems := 0
	for _, m := range again {
		if m.Role == openai.ChatMessageRoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)

	blocks := withAnthropicSystem(nil, "persona")
	require.Len(t, blocks, 1)
	assert.Len(t, withAnthropicSystem(blocks, "other"), 1)
	assert.Equal(t, "persona", withAnthropicSystem(blocks, "other")[0].Text)
}

func TestBuildInstruction_Language(t *testing.T) {
	testCases := []struct {
		name     string
		lang     string
		fallback string
		want     string
	}{
		{"spanish", "es", "en", "Always reply in Spanish (es)"},
		{"english default", "", "en", "Always reply in English (en)"},
		{"invalid falls back", "not a tag!!", "fr", "Always reply in French (fr)"},
		{"nothing valid", "", "", "Always reply in English (en)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildInstruction("You are a helper.", tc.lang, tc.fallback)
			assert.True(t, strings.HasPrefix(got, "You are a helper."))
			assert.Contains(t, got, tc.want)
		})
	}
}

func TestLoadPersona(t *testing.T) {
	assert.Equal(t, DefaultPersona, LoadPersona(""))
	assert.Equal(t, DefaultPersona, LoadPersona("/does/not/exist"))

	path := t.TempDir() + "/persona.md"
	require.NoError(t, os.WriteFile(path, []byte("  Custom persona \n"), 0o600))
	assert.Equal(t, "Custom persona", LoadPersona(path))
}

func newOpenAITestServer(t *testing.T, handler func(w http.ResponseWriter, req openai.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIAdapter_Generate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		got = req
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	})

	adapter := NewOpenAI(Config{Name: NameOpenAI, APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"})
	reply, err := adapter.Generate(context.Background(), sampleHistory(), "hello", "es")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	require.Len(t, got.Messages, 6)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Spanish")
	assert.Equal(t, "hello", got.Messages[5].Content)
	assert.Equal(t, "m", got.Model)
}

func TestOpenAIAdapter_Errors(t *testing.T) {
	t.Run("api error carries status", func(t *testing.T) {
		srv := newOpenAITestServer(t, func(w http.ResponseWriter, _ openai.ChatCompletionRequest) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"rate_limit","code":"rate_limit"}}`))
		})
		adapter := NewOpenAI(Config{Name: NameOpenAI, APIKey: "k", BaseURL: srv.URL + "/v1"})

		_, err := adapter.Generate(context.Background(), nil, "hello", "en")
		require.Error(t, err)
		var pe *apperrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusTooManyRequests, pe.Status)
		assert.Equal(t, "quota exceeded", pe.Detail)
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := newOpenAITestServer(t, func(w http.ResponseWriter, _ openai.ChatCompletionRequest) {
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`))
		})
		adapter := NewOpenAI(Config{Name: NameDeepSeek, APIKey: "k", BaseURL: srv.URL + "/v1"})

		_, err := adapter.Generate(context.Background(), nil, "hello", "en")
		assert.True(t, apperrors.IsProvider(err))
	})

	t.Run("caller cancellation is not a provider error", func(t *testing.T) {
		srv := newOpenAITestServer(t, func(w http.ResponseWriter, _ openai.ChatCompletionRequest) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		})
		adapter := NewOpenAI(Config{Name: NameOpenAI, APIKey: "k", BaseURL: srv.URL + "/v1"})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := adapter.Generate(ctx, nil, "hello", "en")
		require.Error(t, err)
		assert.False(t, apperrors.IsProvider(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestAnthropicAdapter_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"hi there"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	adapter := NewAnthropic(Config{Name: NameAnthropic, APIKey: "k", BaseURL: srv.URL})
	reply, err := adapter.Generate(context.Background(), sampleHistory(), "hello", "de")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 5)
	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "German")
}

func TestAnthropicAdapter_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	adapter := NewAnthropic(Config{Name: NameAnthropic, APIKey: "k", BaseURL: srv.URL})
	_, err := adapter.Generate(context.Background(), nil, "hello", "en")

	var pe *apperrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, NameAnthropic, pe.Provider)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, Config{Name: NameOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, NameOpenAI, a.Name())
	_, isAnalyzer := a.(ImageAnalyzer)
	assert.False(t, isAnalyzer)

	a, err = New(ctx, Config{Name: NameAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, NameAnthropic, a.Name())

	a, err = New(ctx, Config{Name: NameGemini, APIKey: "k"})
	require.NoError(t, err)
	_, isAnalyzer = a.(ImageAnalyzer)
	assert.True(t, isAnalyzer)

	a, err = New(ctx, Config{Name: NameOllama})
	require.NoError(t, err)
	assert.Equal(t, NameOllama, a.Name())

	_, err = New(ctx, Config{Name: NameOpenAI})
	assert.Error(t, err, "api key is required")

	_, err = New(ctx, Config{Name: "mystery", APIKey: "k"})
	assert.Error(t, err, "unknown providers need a base url")

	a, err = New(ctx, Config{Name: "mystery", APIKey: "k", BaseURL: "http://localhost:9999/v1"})
	require.NoError(t, err)
	assert.Equal(t, "mystery", a.Name())
}

package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Code
	}{
		{"validation", Validation("text is required"), CodeValidation},
		{"not found", NotFound("conversation not found"), CodeNotFound},
		{"invalid state", InvalidState("not deleted"), CodeInvalidState},
		{"provider", NewProviderError("openai", 429, "quota", nil), CodeProvider},
		{"wrapped validation", fmt.Errorf("send: %w", Validation("x")), CodeValidation},
		{"wrapped provider", fmt.Errorf("generate: %w", NewProviderError("gemini", 0, "boom", nil)), CodeProvider},
		{"plain", errors.New("disk full"), CodeUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewProviderError("anthropic", 503, "overloaded", cause)

	assert.Equal(t, "provider anthropic failed (status 503): overloaded", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsProvider(err))

	noStatus := NewProviderError("gemini", 0, "empty response", nil)
	assert.Equal(t, "provider gemini failed: empty response", noStatus.Error())
}

func TestAppError_Message(t *testing.T) {
	err := Wrap(CodeInternal, "failed to save conversation", errors.New("locked"))

	assert.Equal(t, "failed to save conversation: locked", err.Error())
	assert.Equal(t, "failed to save conversation", MessageOf(err))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
	assert.True(t, IsNotFound(NotFound("gone")))
	assert.True(t, IsInvalidState(InvalidState("nope")))
	assert.True(t, IsValidation(Validation("bad")))
}

// Package apperrors defines the error taxonomy shared by the conversation
// subsystem and its transports.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an AppError.
type Code string

const (
	CodeUnknown      Code = "UNKNOWN"
	CodeValidation   Code = "VALIDATION"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidState Code = "INVALID_STATE"
	CodeProvider     Code = "PROVIDER"
	CodeInternal     Code = "INTERNAL"
)

// AppError is a classified, user-presentable error.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New returns an AppError with the given code.
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap returns an AppError with the given code that wraps cause.
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Validation reports bad input. It never reaches the network or storage.
func Validation(msg string) error {
	return New(CodeValidation, msg)
}

// NotFound reports a missing conversation, or one the caller does not own.
func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

// InvalidState reports an operation that does not apply to the current state.
func InvalidState(msg string) error {
	return New(CodeInvalidState, msg)
}

// ProviderError is returned by provider adapters when the vendor call fails.
type ProviderError struct {
	Provider string
	Status   int
	Detail   string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s failed (status %d): %s", e.Provider, e.Status, e.Detail)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Detail)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps a vendor failure.
func NewProviderError(provider string, status int, detail string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Detail: detail, Cause: cause}
}

// CodeOf returns the classification of err, or CodeUnknown.
func CodeOf(err error) Code {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return CodeProvider
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

func IsValidation(err error) bool   { return CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool     { return CodeOf(err) == CodeNotFound }
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }
func IsProvider(err error) bool     { return CodeOf(err) == CodeProvider }

// MessageOf returns the user-facing message of an AppError, or err.Error().
func MessageOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

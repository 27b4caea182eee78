// Package errors defines the coded application errors shared by the ingestion,
// storage, and outbound layers.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown               = "UNKNOWN"
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeMissingConversationID = "MISSING_CONVERSATION_ID"
	CodeCorruptCache          = "CORRUPT_CACHE"
	CodeStorage               = "STORAGE_FAILURE"
	CodeValidation            = "VALIDATION"
	CodeAPI                   = "API"
	CodeConfig                = "CONFIG"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// appError carries the code, message, and cause shared by every typed error below.
type appError struct {
	code    string
	message string
	err     error
}

func (e *appError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *appError) Code() string {
	return e.code
}

func (e *appError) Unwrap() error {
	return e.err
}

// Message returns the error message without the wrapped cause.
func (e *appError) Message() string {
	return e.message
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// InvalidPayloadError is returned when an inbound event is not a JSON object.
type InvalidPayloadError struct {
	appError
}

func NewInvalidPayloadError(message string) error {
	return &InvalidPayloadError{appError{code: CodeInvalidPayload, message: message}}
}

// MissingConversationIDError is returned when the conversation identifier is absent or blank.
type MissingConversationIDError struct {
	appError
}

func NewMissingConversationIDError(message string) error {
	return &MissingConversationIDError{appError{code: CodeMissingConversationID, message: message}}
}

// CorruptCacheError signals a stored config value that can no longer be decoded.
// It points at a persistence bug, not at an empty cache.
type CorruptCacheError struct {
	appError
}

func NewCorruptCacheError(message string, cause error) error {
	return &CorruptCacheError{appError{code: CodeCorruptCache, message: message, err: cause}}
}

type StorageError struct {
	appError
}

func NewStorageError(message string, cause error) error {
	return &StorageError{appError{code: CodeStorage, message: message, err: cause}}
}

type ValidationError struct {
	appError
}

func NewValidationError(message string, cause error) error {
	return &ValidationError{appError{code: CodeValidation, message: message, err: cause}}
}

// APIError wraps a failure to reach the upstream chat API.
type APIError struct {
	appError
}

func NewAPIError(message string, cause error) error {
	return &APIError{appError{code: CodeAPI, message: message, err: cause}}
}

type ConfigError struct {
	appError
}

func NewConfigError(message string, cause error) error {
	return &ConfigError{appError{code: CodeConfig, message: message, err: cause}}
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes failures for retry decisions and user-facing text.
type ErrorKind string

const (
	KindUnknown            ErrorKind = "Unknown"
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindNetworkUnavailable ErrorKind = "NetworkUnavailable"
	KindServerError        ErrorKind = "ServerError"
	KindModelNotFound      ErrorKind = "ModelNotFound"
	KindMalformedResponse  ErrorKind = "MalformedResponse"
)

// ClientError represents a failed call to the Ollama server.
type ClientError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int    // HTTP status for ServerError and ModelNotFound
	Model      string // model the request was for, if any
	Cause      error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same kind, so the sentinels below work
// with errors.Is.
func (e *ClientError) Is(target error) bool {
	var t *ClientError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrNetworkUnavailable = &ClientError{Kind: KindNetworkUnavailable, Message: "Ollama server unreachable"}
	ErrServerError        = &ClientError{Kind: KindServerError, Message: "Ollama server error"}
	ErrModelNotFound      = &ClientError{Kind: KindModelNotFound, Message: "model not found"}
	ErrMalformedResponse  = &ClientError{Kind: KindMalformedResponse, Message: "malformed response"}
)

// KindOf returns the kind of err, or KindUnknown if err is not a ClientError.
// A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}

// IsRetryable reports whether a retry might succeed: the server was
// unreachable, or it answered with a 5xx status.
func IsRetryable(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case KindNetworkUnavailable:
		return true
	case KindServerError:
		return ce.StatusCode >= 500
	default:
		return false
	}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return KindOf(err) == KindModelNotFound
}

// IsNetworkUnavailable checks if an error indicates the server is unreachable.
func IsNetworkUnavailable(err error) bool {
	return KindOf(err) == KindNetworkUnavailable
}

// classifyTransportError maps an error from http.Client.Do to a ClientError.
func classifyTransportError(err error, model string) *ClientError {
	ce := &ClientError{Kind: KindUnknown, Message: "request failed", Model: model, Cause: err}

	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
		urlErr *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ce.Kind, ce.Message = KindNetworkUnavailable, "request timed out"
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		ce.Kind, ce.Message = KindNetworkUnavailable, "connection refused"
	case errors.As(err, &dnsErr):
		ce.Kind, ce.Message = KindNetworkUnavailable, "host lookup failed"
	case errors.As(err, &opErr):
		ce.Kind, ce.Message = KindNetworkUnavailable, "network error"
	case errors.As(err, &urlErr) && urlErr.Timeout():
		ce.Kind, ce.Message = KindNetworkUnavailable, "request timed out"
	}
	return ce
}

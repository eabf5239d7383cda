// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/config"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitNetworkError = 5
	ExitNotFound     = 7
	ExitTimeout      = 8
	ExitInterrupted  = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError reports which command and action failed.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError is bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// NewCommandError wraps err with the command and action that failed.
func NewCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to w, as a JSON envelope in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse("chirai", err).Print(w)
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error:"), err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(w, DimStyle.Render(hint))
	}
}

func errorHint(err error) string {
	switch ollama.KindOf(err) {
	case ollama.KindNetworkUnavailable:
		return "Is Ollama running? Start it with 'ollama serve' or use --mock."
	case ollama.KindModelNotFound:
		return "Run 'chirai models' to see installed models."
	}
	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return "Run 'chirai config path' to find the file to fix."
	}
	return ""
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var verrs config.ValidateErrors
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, agent.ErrEmptyTask):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	}

	switch ollama.KindOf(err) {
	case ollama.KindNetworkUnavailable, ollama.KindServerError, ollama.KindMalformedResponse:
		return ExitNetworkError
	case ollama.KindModelNotFound:
		return ExitNotFound
	}
	return ExitGeneralError
}

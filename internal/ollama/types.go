// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is one role/content pair on the wire.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatCompletionRequest is the request body for /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatCompletionResponse is the response from /v1/chat/completions.
// Only choices[0].message.content is required.
type ChatCompletionResponse struct {
	ID                string   `json:"id,omitempty"`
	Object            string   `json:"object,omitempty"`
	Created           int64    `json:"created,omitempty"`
	Model             string   `json:"model,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
}

// Choice is one candidate reply.
type Choice struct {
	Index        int            `json:"index"`
	Message      *ChoiceMessage `json:"message"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// ChoiceMessage keeps Content as a pointer so a missing field can be told
// apart from an empty reply.
type ChoiceMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Usage holds token counts reported by the server.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse is the response from /api/generate.
type GenerateResponse struct {
	Model           string  `json:"model"`
	Response        *string `json:"response"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration,omitempty"` // nanoseconds
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// errorBody is the JSON error envelope. Ollama sends {"error": "..."} on its
// native endpoints and {"error": {"message": "..."}} on the OpenAI ones.
type errorBody struct {
	Error any `json:"error"`
}

func (e errorBody) message() string {
	switch v := e.Error.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo describes an installed model as reported by /api/tags.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// FormatSize formats the model size in human-readable form.
func (m ModelInfo) FormatSize() string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case m.Size >= GB:
		return fmt.Sprintf("%.1f GB", float64(m.Size)/GB)
	case m.Size >= MB:
		return fmt.Sprintf("%.1f MB", float64(m.Size)/MB)
	case m.Size >= KB:
		return fmt.Sprintf("%.1f KB", float64(m.Size)/KB)
	default:
		return fmt.Sprintf("%d B", m.Size)
	}
}

// =============================================================================
// TRANSPORT-NEUTRAL TYPES
// =============================================================================

// CompletionRequest is a chat completion request independent of endpoint.
type CompletionRequest struct {
	Model    string
	Messages []Message
}

// CompletionResult is a successful completion.
type CompletionResult struct {
	Content  string
	Model    string
	Usage    *Usage
	Duration time.Duration
	Cached   bool
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// =============================================================================
// DECOMPOSERS
// =============================================================================

// PlanStep is one planned unit of work.
type PlanStep struct {
	Capability  Capability `json:"capability"`
	Description string     `json:"description"`
}

// Decomposer splits a task into ordered steps.
type Decomposer interface {
	Decompose(ctx context.Context, task string) ([]PlanStep, error)
}

// PlanDecomposer returns the same four-phase plan for every task.
type PlanDecomposer struct{}

// Decompose returns research, design, implementation and testing steps.
func (PlanDecomposer) Decompose(_ context.Context, _ string) ([]PlanStep, error) {
	return []PlanStep{
		{Capability: CapResearch, Description: "Research and analyze requirements"},
		{Capability: CapDesign, Description: "Design solution architecture"},
		{Capability: CapImplementation, Description: "Implement core functionality"},
		{Capability: CapTesting, Description: "Test and validate"},
	}, nil
}

// LLMDecomposer asks a model for the plan and falls back to Fallback when
// the answer cannot be used.
type LLMDecomposer struct {
	Client   ollama.Completer
	Model    string
	Fallback Decomposer
}

const (
	maxPlanResponse = 64 * 1024
	maxPlanSteps    = 8
)

// Decompose requests a JSON plan from the model.
func (d *LLMDecomposer) Decompose(ctx context.Context, task string) ([]PlanStep, error) {
	res, err := d.Client.Complete(ctx, ollama.CompletionRequest{
		Model:    d.Model,
		Messages: []ollama.Message{{Role: "user", Content: planPrompt(task)}},
	})
	if err == nil {
		var steps []PlanStep
		if steps, err = parsePlanResponse(res.Content); err == nil {
			return steps, nil
		}
	}
	if d.Fallback == nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	return d.Fallback.Decompose(ctx, task)
}

func planPrompt(task string) string {
	return fmt.Sprintf(`Break the following task into 2-%d ordered steps.

Task: %s

Each step needs one capability from: research, design, implementation, testing, coordination.

Respond with ONLY JSON in this shape:
{"steps": [{"capability": "research", "description": "What this step does"}]}`, maxPlanSteps, task)
}

func parsePlanResponse(response string) ([]PlanStep, error) {
	if len(response) > maxPlanResponse {
		return nil, fmt.Errorf("response too large: %d bytes (max: %d)", len(response), maxPlanResponse)
	}

	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var data struct {
		Steps []struct {
			Capability  string `json:"capability"`
			Description string `json:"description"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(response), &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if len(data.Steps) == 0 || len(data.Steps) > maxPlanSteps {
		return nil, fmt.Errorf("plan must have 1-%d steps, got %d", maxPlanSteps, len(data.Steps))
	}

	steps := make([]PlanStep, 0, len(data.Steps))
	for i, s := range data.Steps {
		c, err := ParseCapability(s.Capability)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			return nil, fmt.Errorf("step %d: empty description", i+1)
		}
		steps = append(steps, PlanStep{Capability: c, Description: desc})
	}
	return steps, nil
}

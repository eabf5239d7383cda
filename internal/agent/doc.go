// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent runs a task through a team of capability handlers.
//
// A Decomposer splits the task into ordered steps, each tagged with a
// Capability. The Orchestrator records the job and its steps in a
// tasks.Queue, then hands each step to the Handler registered for its
// capability, passing along the output of the steps already finished.
//
// # Key Types
//
//   - Capability: research, design, implementation, testing, coordination
//   - Registry: capability to Handler mapping
//   - CompletionHandler: a handler backed by one chat completion
//   - PlanDecomposer: the fixed four-phase plan
//   - LLMDecomposer: asks the model for a plan, with a fallback
//   - Orchestrator: runs plans synchronously (Run) or via a tasks.Runner (Submit)
//
// # Usage
//
//	reg := agent.NewCompletionRegistry(client, "gemma3:1b")
//	orch := agent.NewOrchestrator(reg, agent.Options{Summarize: true})
//	res, err := orch.Run(ctx, "Write a release checklist")
//	fmt.Println(res.Summary)
package agent

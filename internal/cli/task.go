// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/tasks"
)

// =============================================================================
// TASK COMMAND
// =============================================================================

type taskFlags struct {
	plan            bool
	continueOnError bool
}

func newTaskCommand(opts *Options) *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "task <description>",
		Short: "Run a task through the capability agents",
		Long: `Plan a task with the model, run each step through the agent for its
capability (research, design, implementation, testing, ...) and print the
step outputs followed by a summary.`,
		Example: `  chirai task "add a /health endpoint to the API"
  chirai task --plan "write a CSV parser" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), opts, flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&flags.plan, "plan", false, "ask the model for the plan instead of the fixed four steps")
	cmd.Flags().BoolVar(&flags.continueOnError, "continue", false, "run the remaining steps after a failure")
	return cmd
}

func runTask(ctx context.Context, opts *Options, flags taskFlags, task string) error {
	a, err := newApp(ctx, opts, appMode{backend: true})
	if err != nil {
		return err
	}
	defer a.close()

	var decomposer agent.Decomposer = agent.PlanDecomposer{}
	if flags.plan {
		decomposer = &agent.LLMDecomposer{
			Client:   a.backend,
			Model:    a.cfg.DefaultModel,
			Fallback: agent.PlanDecomposer{},
		}
	}
	orch := agent.NewOrchestrator(agent.NewCompletionRegistry(a.backend, a.cfg.DefaultModel), agent.Options{
		Decomposer:      decomposer,
		StepTimeout:     a.cfg.Timeout(),
		ContinueOnError: flags.continueOnError,
		Summarize:       true,
		Logger:          a.log.Logger,
	})

	res, err := orch.Run(ctx, task)
	if res == nil {
		return err
	}
	if opts.JSON {
		if jerr := outputJSON(opts.Out, "task", res); jerr != nil {
			return jerr
		}
		return err
	}
	printTaskResult(opts, res)
	return err
}

func printTaskResult(opts *Options, res *agent.Result) {
	w := opts.Out
	fmt.Fprintln(w, TitleStyle.Render("Task: "+res.Task))
	fmt.Fprintln(w, RenderSeparator())
	for i, step := range res.Steps {
		ok := step.Status == tasks.TaskStatusComplete
		fmt.Fprintf(w, "%s %d. [%s] %s (%s, %s)\n",
			RenderStatus(ok), i+1, step.Capability, step.Description, step.Agent, formatDurationShort(step.Duration))
		switch {
		case step.Error != "":
			fmt.Fprintln(w, "   ", ErrorStyle.Render(step.Error))
		case !opts.Quiet && step.Output != "":
			for _, line := range strings.Split(strings.TrimSpace(step.Output), "\n") {
				fmt.Fprintln(w, "    "+line)
			}
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, res.Summary)
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d/%d steps in %s", res.Completed(), len(res.Steps), formatDurationShort(res.Duration))))
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/ui/components"
)

// askFlags are the flags of the ask command.
type askFlags struct {
	file    string
	retry   bool
	channel string
}

// AskResult is the --json payload of ask.
type AskResult struct {
	Model     string `json:"model"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Error     string `json:"error_kind,omitempty"`
	Attempts  int    `json:"attempts"`
	Cached    bool   `json:"cached"`
	LatencyMs int64  `json:"latency_ms"`
}

func newAskCommand(opts *Options) *cobra.Command {
	var flags askFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Long: `Send one message to the model and print the reply.

With no argument the question is read from stdin. --file prepends a file to
the question as context.`,
		Example: `  chirai ask "What is a goroutine?"
  echo "Summarise this" | chirai ask
  chirai ask --file main.go "Review this code"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "" || question == "-" {
				q, err := readAll(opts.In)
				if err != nil {
					return err
				}
				question = q
			}
			if flags.file != "" {
				data, err := os.ReadFile(flags.file)
				if err != nil {
					return NewCommandError("ask", "read file", err)
				}
				question = fmt.Sprintf("File %s:\n```\n%s\n```\n\n%s", flags.file, strings.TrimRight(string(data), "\n"), question)
			}
			if strings.TrimSpace(question) == "" {
				return NewValidationError("question", "", "nothing to ask")
			}
			return runAsk(cmd.Context(), opts, flags, question)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "include a file as context")
	cmd.Flags().BoolVar(&flags.retry, "retry", false, "retry transient failures")
	cmd.Flags().StringVar(&flags.channel, "channel", "", "append to a saved conversation in this channel")
	return cmd
}

func runAsk(ctx context.Context, opts *Options, flags askFlags, question string) error {
	a, err := newApp(ctx, opts, appMode{backend: true, store: flags.channel != ""})
	if err != nil {
		return err
	}
	defer a.close()

	var ctrl *session.Controller
	if flags.channel != "" {
		mgr := a.newManager()
		defer mgr.Close()
		if ctrl, err = mgr.Get(ctx, flags.channel); err != nil {
			return err
		}
	} else {
		ctrl = session.New(a.backend, a.sessionOptions())
		defer ctrl.Close()
	}

	policy := session.NoRetry()
	if flags.retry {
		policy = session.DefaultRetryPolicy()
	}
	_, ch, err := ctrl.Submit(ctx, question, policy)
	if err != nil {
		return err
	}
	out, sendErr := session.Await(ctx, ch)
	if out.Reply.ID == "" {
		return sendErr
	}

	if opts.JSON {
		res := AskResult{
			Model:    out.Reply.Model,
			Question: out.User.Content,
			Answer:   out.Reply.Content,
			Error:    out.Reply.ErrorKind,
			Attempts: out.Attempts,
			Cached:   out.Cached,
		}
		if meta := out.Reply.Metadata; meta != nil {
			res.LatencyMs = meta.ResponseTime.Milliseconds()
		}
		if err := outputJSON(opts.Out, "ask", res); err != nil {
			return err
		}
		return sendErr
	}

	if out.Reply.IsError() {
		fmt.Fprintln(opts.Err, errorColor.Sprint("error")+": "+out.Reply.Content)
		return sendErr
	}
	answer := out.Reply.Content
	if ColorsEnabled() {
		answer = components.HighlightBlocks(answer)
	}
	fmt.Fprintln(opts.Out, answer)
	if opts.Verbose {
		fmt.Fprintln(opts.Err, DimStyle.Render(fmt.Sprintf("[%s, %d attempt(s), cached=%t]", out.Reply.Model, out.Attempts, out.Cached)))
	}
	return nil
}

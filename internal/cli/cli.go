// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/server"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigDir string
	Model     string
	Mock      bool
	Verbose   bool
	Quiet     bool
	JSON      bool
	Language  string

	// Streams, replaced in tests.
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the chirai command tree.
func NewRootCommand(opts *Options) *cobra.Command {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}

	root := &cobra.Command{
		Use:   "chirai",
		Short: "ChirAI - private chat with local Ollama models",
		Long: `ChirAI is a chat client for models served by a local Ollama instance.

Nothing leaves your machine: conversations are kept in ~/.chirai and every
request goes to the Ollama server named in the config.

Run without arguments to open the chat screen. When stdin or stdout is not
a terminal the line-based chat is used instead.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() || !IsStdoutTTY() {
				return runChat(cmd.Context(), opts, chatFlags{})
			}
			return runTUI(cmd.Context(), opts, "")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigDir, "config-dir", "", "configuration directory (default ~/.chirai, or $CHIRAI_HOME)")
	pf.StringVarP(&opts.Model, "model", "m", "", "model to use (overrides default_model)")
	pf.BoolVar(&opts.Mock, "mock", false, "use the built-in mock backend instead of Ollama")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&opts.Quiet, "quiet", "q", false, "minimal output")
	pf.BoolVar(&opts.JSON, "json", false, "JSON output where supported")
	pf.StringVar(&opts.Language, "lang", "", "message language: en or ja")

	root.AddCommand(
		newChatCommand(opts),
		newTUICommand(opts),
		newAskCommand(opts),
		newModelsCommand(opts),
		newStatusCommand(opts),
		newHistoryCommand(opts),
		newServeCommand(opts),
		newTaskCommand(opts),
		newConfigCommand(opts),
	)
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &Options{}
	root := NewRootCommand(opts)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	DisplayError(opts.Err, err, opts.JSON)
	return GetExitCode(err)
}

func init() {
	server.Version = Version
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/storage"
	"github.com/enablerdao/ChirAI/internal/util"
)

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func newHistoryCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"sessions", "session"},
		Short:   "Manage saved conversations",
		Long: `List, inspect, export and delete saved conversations.

Conversations can be named by full ID or by the short ID shown in the list.`,
		Example: `  chirai history
  chirai history show 1a2b3c4d
  chirai history search "goroutine"
  chirai history export 1a2b3c4d --format md
  chirai history export 1a2b3c4d --format html -o chat.html
  chirai history export --output backup.json
  chirai history import backup.json
  chirai history delete 1a2b3c4d --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				return historyList(cmd.Context(), opts, s)
			})
		},
	}

	var (
		format string
		output string
		yes    bool
		days   int
	)

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				return historyList(cmd.Context(), opts, s)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				return historyShow(cmd.Context(), opts, s, args[0])
			})
		},
	}

	search := &cobra.Command{
		Use:   "search <text>",
		Short: "Find conversations containing text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				metas, err := s.Search(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printMetas(opts, "history search", metas)
			})
		},
	}

	export := &cobra.Command{
		Use:   "export [id]",
		Short: "Export one conversation, or everything as a JSON archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				w := opts.Out
				if output != "" {
					f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
					if err != nil {
						return NewCommandError("history", "export", err)
					}
					defer f.Close()
					w = f
				}
				if len(args) == 0 {
					return storage.Export(cmd.Context(), s, w)
				}
				return historyExport(cmd.Context(), s, args[0], format, w)
			})
		},
	}
	export.Flags().StringVar(&format, "format", "json", "format for a single conversation: json, md, html or txt")
	export.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an archive written by 'history export'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return NewCommandError("history", "import", err)
				}
				defer f.Close()
				n, err := storage.Import(cmd.Context(), s, f)
				if err != nil {
					return NewCommandError("history", "import", err)
				}
				fmt.Fprintf(opts.Out, "Imported %d conversation(s).\n", n)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				id, err := storage.ResolveID(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				if !yes && !confirm(opts.In, opts.Out, "Delete conversation "+id+"?") {
					fmt.Fprintln(opts.Out, "Cancelled.")
					return nil
				}
				if err := s.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(opts.Out, SuccessStyle.Render("[OK]"), "Deleted", id)
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations not updated for a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return NewValidationError("days", fmt.Sprint(days), "must be positive")
			}
			return withStore(cmd.Context(), opts, func(s storage.Store) error {
				n, err := s.PruneOlderThan(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.Out, "Deleted %d conversation(s) older than %d day(s).\n", n, days)
				return nil
			})
		},
	}
	prune.Flags().IntVar(&days, "days", 30, "age in days")

	cmd.AddCommand(list, show, search, export, importCmd, del, prune)
	return cmd
}

// withStore opens the history store for the duration of fn.
func withStore(ctx context.Context, opts *Options, fn func(storage.Store) error) error {
	a, err := newApp(ctx, opts, appMode{store: true})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.store)
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

func historyList(ctx context.Context, opts *Options, s storage.Store) error {
	metas, err := s.List(ctx)
	if err != nil {
		return err
	}
	return printMetas(opts, "history list", metas)
}

func printMetas(opts *Options, command string, metas []storage.ConversationMeta) error {
	if opts.JSON {
		if metas == nil {
			metas = []storage.ConversationMeta{}
		}
		return outputJSON(opts.Out, command, metas)
	}
	fmt.Fprint(opts.Out, storage.FormatSessionList(metas))
	if len(metas) > 0 {
		fmt.Fprintf(opts.Out, "\nTotal: %d conversation(s)\n", len(metas))
	} else {
		fmt.Fprintln(opts.Out)
	}
	return nil
}

func historyShow(ctx context.Context, opts *Options, s storage.Store, ref string) error {
	conv, err := loadConversation(ctx, s, ref)
	if err != nil {
		return err
	}
	if opts.JSON {
		return outputJSON(opts.Out, "history show", conv)
	}

	w := opts.Out
	title := conv.Title()
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintln(w, TitleStyle.Render(title))
	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintln(w, RenderField("ID:", conv.ID))
	fmt.Fprintln(w, RenderField("Model:", conv.Model))
	fmt.Fprintln(w, RenderField("Messages:", fmt.Sprint(len(conv.Messages))))
	fmt.Fprintln(w, RenderField("Created:", conv.CreatedAt.Format(time.RFC1123)))
	fmt.Fprintln(w, RenderField("Updated:", conv.UpdatedAt.Format(time.RFC1123)))
	fmt.Fprintln(w)
	for i, msg := range conv.Messages {
		fmt.Fprintf(w, "[%d] %s: %s\n", i+1, roleLabel(msg), util.TruncateRunes(util.OneLine(msg.Content), 100))
	}
	return nil
}

func historyExport(ctx context.Context, s storage.Store, ref, format string, w io.Writer) error {
	conv, err := loadConversation(ctx, s, ref)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	case "md", "markdown":
		_, err := io.WriteString(w, storage.ExportMarkdown(conv))
		return err
	case "html":
		_, err := io.WriteString(w, storage.ExportHTML(conv))
		return err
	case "txt", "text":
		_, err := io.WriteString(w, exportText(conv))
		return err
	}
	return &ValidationError{Field: "format", Value: format, Reason: "unsupported export format", Example: "--format md"}
}

func loadConversation(ctx context.Context, s storage.Store, ref string) (*model.Conversation, error) {
	id, err := storage.ResolveID(ctx, s, ref)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

func exportText(conv *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("Conversation " + conv.ID + " (" + conv.Model + ")\n\n")
	for _, msg := range conv.Messages {
		sb.WriteString("[" + msg.Timestamp.Format("2006-01-02 15:04") + "] " + msg.Role.DisplayName() + ": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

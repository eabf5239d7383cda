// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/storage"
	"github.com/enablerdao/ChirAI/internal/ui/components"
	"github.com/enablerdao/ChirAI/internal/util"
)

// chatFlags are the flags of the chat command.
type chatFlags struct {
	resume string
}

func newChatCommand(opts *Options) *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a line-based chat session",
		Long: `Start an interactive chat in the terminal, one line at a time.

Commands during chat:
  /model [name]   Show or switch the model
  /models         List installed models
  /clear          Clear the conversation
  /search TEXT    Find messages containing TEXT
  /history        Print the conversation
  /stats          Show session statistics
  /quit           Exit (also Ctrl+D)`,
		Example: `  chirai chat
  chirai chat --model llama3.2:3b
  chirai chat --resume 1a2b3c4d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, flags)
		},
	}
	cmd.Flags().StringVar(&flags.resume, "resume", "", "continue a saved conversation (ID or short ID)")
	return cmd
}

// =============================================================================
// LINE INPUT
// =============================================================================

// lineReader reads one line of user input per prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in the config directory.
func NewChatCLI(configDir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlashCommand)

	if configDir == "" {
		configDir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(configDir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// Prompt reads a line and records it in the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the terminal.
func (c *ChatCLI) Close() error {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o755); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// scanReader reads lines from a non-terminal input such as a pipe.
type scanReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func newScanReader(in io.Reader, out io.Writer) *scanReader {
	return &scanReader{sc: bufio.NewScanner(in), out: out}
}

func (r *scanReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

func (r *scanReader) Close() error { return nil }

var slashCommands = []string{"/clear", "/help", "/history", "/model", "/models", "/quit", "/search", "/stats"}

func completeSlashCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func runChat(ctx context.Context, opts *Options, flags chatFlags) error {
	a, err := newApp(ctx, opts, appMode{backend: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	sopts := a.sessionOptions()
	if flags.resume != "" {
		id, err := storage.ResolveID(ctx, a.store, flags.resume)
		if err != nil {
			return NewCommandError("chat", "resume", err)
		}
		conv, err := a.store.Load(ctx, id)
		if err != nil {
			return NewCommandError("chat", "resume", err)
		}
		sopts.Conversation = conv
		if opts.Model == "" {
			sopts.Model = ""
		}
	}

	ctrl := session.New(a.backend, sopts)
	var saver *session.AutoSaver
	if a.cfg.Storage.AutoSave {
		saver = session.NewAutoSaver(ctrl, a.store, a.log.Logger)
	}
	defer func() {
		_ = ctrl.Close()
		if saver != nil {
			saver.Wait()
		}
	}()

	var reader lineReader
	if f, ok := opts.In.(*os.File); ok && f == os.Stdin && IsTTY() {
		reader = NewChatCLI(filepath.Dir(a.cfgPath))
	} else {
		reader = newScanReader(opts.In, opts.Out)
	}
	defer reader.Close()

	r := &repl{
		ctrl:      ctrl,
		backend:   a.backend,
		out:       opts.Out,
		quiet:     opts.Quiet,
		highlight: ColorsEnabled(),
	}
	return r.run(ctx, reader)
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	ctrl      *session.Controller
	backend   ollama.Backend
	out       io.Writer
	quiet     bool
	highlight bool
	started   time.Time
}

func (r *repl) run(ctx context.Context, in lineReader) error {
	r.started = time.Now()
	if !r.quiet {
		r.printWelcome()
	}

	for {
		line, err := in.Prompt(userColor.Sprint("you") + "> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				break
			}
			return err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if !r.handleSlash(ctx, text) {
				break
			}
			continue
		}
		if err := r.send(ctx, text); err != nil {
			return err
		}
	}

	if !r.quiet {
		r.printSummary()
	}
	return nil
}

// send waits for the reply and prints it. A failed completion is printed
// like any reply; only cancellation ends the session.
func (r *repl) send(ctx context.Context, text string) error {
	out, err := r.ctrl.Send(ctx, text)
	if out.Reply.ID != "" {
		r.printMessage(out.Reply)
		if meta := out.Reply.Metadata; !r.quiet && meta != nil && meta.ResponseTime > 0 {
			note := formatDurationShort(meta.ResponseTime)
			if meta.Cached {
				note += ", cached"
			}
			fmt.Fprintln(r.out, DimStyle.Render("  ("+note+")"))
		}
		return nil
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, session.ErrClosed):
		return err
	}
	fmt.Fprintln(r.out, errorColor.Sprint("error")+": "+err.Error())
	return nil
}

func (r *repl) printMessage(msg model.Message) {
	content := msg.Content
	if r.highlight && msg.Role == model.RoleAssistant && !msg.IsError() {
		content = components.HighlightBlocks(content)
	}
	fmt.Fprintf(r.out, "%s: %s\n", roleLabel(msg), content)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlash runs a slash command. It returns false to end the session.
func (r *repl) handleSlash(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return false

	case "/clear", "/c":
		if err := r.ctrl.Clear(); err != nil {
			fmt.Fprintln(r.out, WarningStyle.Render("[Warning]"), err)
			break
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("[Conversation cleared]"))

	case "/model", "/m":
		if len(args) == 0 {
			fmt.Fprintln(r.out, "Current model:", r.ctrl.Model())
			break
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := r.ctrl.SelectModel(cctx, args[0])
		cancel()
		if err != nil {
			fmt.Fprintln(r.out, WarningStyle.Render("[Warning]"), err)
			break
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("[OK]"), "Switched to model:", args[0])

	case "/models":
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		infos, err := r.backend.ListModels(cctx)
		cancel()
		if err != nil {
			fmt.Fprintln(r.out, WarningStyle.Render("[Warning]"), err)
			break
		}
		for _, info := range infos {
			marker := "  "
			if info.Name == r.ctrl.Model() {
				marker = "* "
			}
			fmt.Fprintln(r.out, marker+info.Name)
		}

	case "/search", "/find":
		query := strings.Join(args, " ")
		if query == "" {
			fmt.Fprintln(r.out, "Usage: /search TEXT")
			break
		}
		hits := r.ctrl.Search(query)
		fmt.Fprintf(r.out, "%d match(es) for %q\n", len(hits), query)
		for _, msg := range hits {
			fmt.Fprintf(r.out, "  [%s] %s: %s\n", msg.Timestamp.Format("15:04"), roleLabel(msg), oneLine(msg.Content, GetTerminalWidth()-10))
		}

	case "/history":
		msgs := r.ctrl.Transcript()
		if len(msgs) == 0 {
			fmt.Fprintln(r.out, DimStyle.Render("(empty)"))
		}
		for _, msg := range msgs {
			r.printMessage(msg)
		}

	case "/stats", "/s":
		r.printStats()

	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type /help for commands)\n", command)
	}
	return true
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("ChirAI chat"))
	fmt.Fprintln(r.out, RenderSeparator(30))
	fmt.Fprintln(r.out, RenderField("Model:", r.ctrl.Model()))
	for _, msg := range r.ctrl.Transcript() {
		r.printMessage(msg)
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, /quit or Ctrl+D to exit."))
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, line := range [][2]string{
		{"/model [name]", "Show or switch the model"},
		{"/models", "List installed models"},
		{"/clear", "Clear the conversation"},
		{"/search TEXT", "Find messages containing TEXT"},
		{"/history", "Print the conversation"},
		{"/stats", "Show session statistics"},
		{"/quit", "Exit"},
	} {
		fmt.Fprintln(r.out, "  "+RenderField(line[0], line[1]))
	}
}

func (r *repl) printStats() {
	st := r.ctrl.Stats()
	fmt.Fprintln(r.out, RenderField("Messages:", fmt.Sprint(len(r.ctrl.Transcript()))))
	fmt.Fprintln(r.out, RenderField("Sent:", fmt.Sprint(st.MessagesSent)))
	fmt.Fprintln(r.out, RenderField("Replies:", fmt.Sprint(st.Replies)))
	fmt.Fprintln(r.out, RenderField("Errors:", fmt.Sprint(st.Errors)))
	fmt.Fprintln(r.out, RenderField("Cache hits:", fmt.Sprint(st.CacheHits)))
	fmt.Fprintln(r.out, RenderField("Avg reply:", session.FormatDuration(st.AverageResponseTime())))
	fmt.Fprintln(r.out, RenderField("Model:", r.ctrl.Model()))
}

func (r *repl) printSummary() {
	st := r.ctrl.Stats()
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "%s %d request(s) in %s\n",
		DimStyle.Render("Session:"), st.MessagesSent, formatDurationShort(time.Since(r.started)))
}

// oneLine flattens s and cuts it to n display columns.
func oneLine(s string, n int) string {
	return util.TruncateWidth(util.OneLine(s), n)
}

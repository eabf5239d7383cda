// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/config"
	"github.com/enablerdao/ChirAI/internal/logging"
	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// runCLI runs the command line against dir with the mock backend and returns
// stdout, stderr and the error.
func runCLI(t *testing.T, dir, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	opts := &Options{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	}
	root := NewRootCommand(opts)
	root.SetArgs(append([]string{"--config-dir", dir, "--mock", "-q"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// decodeEnvelope parses a --json response and returns its data.
func decodeEnvelope(t *testing.T, out string, data any) JSONResponse {
	t.Helper()
	var resp JSONResponse
	resp.Data = data
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_PrintsReply(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "ask", "What is Go?")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: What is Go?\n", out)
}

func TestAsk_ReadsStdin(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "  piped question\n", "ask")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: piped question")
}

func TestAsk_EmptyQuestion(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCLI(t, dir, "   \n", "ask")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestAsk_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("line one\n"), 0o600))

	out, _, err := runCLI(t, dir, "", "ask", "--file", file, "summarise")
	require.NoError(t, err)
	assert.Contains(t, out, "line one")
	assert.Contains(t, out, "summarise")
}

func TestAsk_JSON(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "--json", "-m", "mock-model-1", "ask", "hello")
	require.NoError(t, err)

	var res AskResult
	resp := decodeEnvelope(t, out, &res)
	assert.True(t, resp.Success)
	assert.Equal(t, "ask", resp.Command)
	assert.Equal(t, "mock-model-1", res.Model)
	assert.Equal(t, "hello", res.Question)
	assert.Equal(t, "Mock response to: hello", res.Answer)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Error)
}

// =============================================================================
// MODELS AND STATUS
// =============================================================================

func TestModels_MarksDefault(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "-m", "mock-model-2", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "mock-model-1")
	assert.Contains(t, out, "* mock-model-2")
}

func TestModels_JSON(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "--json", "-m", "mock-model-1", "models")
	require.NoError(t, err)

	var rows []ModelRow
	decodeEnvelope(t, out, &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "mock-model-1", rows[0].Name)
	assert.True(t, rows[0].Default)
	assert.False(t, rows[1].Default)
}

func TestStatus_JSON(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "--json", "--lang", "ja", "status")
	require.NoError(t, err)

	var st StatusData
	decodeEnvelope(t, out, &st)
	assert.True(t, st.Mock)
	assert.True(t, st.Reachable)
	assert.Equal(t, 2, st.Models)
	assert.Equal(t, config.DefaultModel, st.DefaultModel)
	assert.False(t, st.ModelFound)
	assert.Equal(t, "ja", st.Language)
	assert.Equal(t, filepath.Join(dir, "config.toml"), st.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "history"), st.StorageDir)
}

func TestStatus_Text(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "mock backend")
	assert.Contains(t, out, "Language:")
	assert.Contains(t, out, "memory (50.00 MB max)")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitPathShow(t *testing.T) {
	dir := t.TempDir()

	out, _, err := runCLI(t, dir, "", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	_, _, err = runCLI(t, dir, "", "config", "init")
	require.Error(t, err, "init must not overwrite without --force")

	_, _, err = runCLI(t, dir, "", "config", "init", "--force")
	require.NoError(t, err)

	out, _, err = runCLI(t, dir, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", out)

	out, _, err = runCLI(t, dir, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, config.DefaultModel)

	out, _, err = runCLI(t, dir, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestConfig_InitFormats(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			_, _, err := runCLI(t, dir, "", "config", "init", "--format", format)
			require.NoError(t, err)
			assert.FileExists(t, filepath.Join(dir, "config."+format))

			cfg, err := config.LoadDir(dir)
			require.NoError(t, err)
			assert.Equal(t, config.DefaultModel, cfg.DefaultModel)
		})
	}

	_, _, err := runCLI(t, t.TempDir(), "", "config", "init", "--format", "ini")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestConfig_ShowJSONRedactsPassword(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Dir = filepath.Join(dir, "history")
	cfg.Cache.RedisPassword = "hunter2"
	require.NoError(t, config.SaveTOML(cfg, filepath.Join(dir, "config.toml")))

	out, _, err := runCLI(t, dir, "", "--json", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_Empty(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations found.")
}

func TestHistory_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	_, _, err := runCLI(t, dir, "", "ask", "--channel", "notes", "remember the apples")
	require.NoError(t, err)

	out, _, err := runCLI(t, dir, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "notes")
	assert.Contains(t, out, "Total: 1 conversation(s)")

	out, _, err = runCLI(t, dir, "", "history", "show", "notes")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: remember the apples")

	out, _, err = runCLI(t, dir, "", "--json", "history", "search", "APPLES")
	require.NoError(t, err)
	var metas []storage.ConversationMeta
	decodeEnvelope(t, out, &metas)
	require.Len(t, metas, 1)
	assert.Equal(t, "notes", metas[0].ID)

	out, _, err = runCLI(t, dir, "", "history", "export", "notes", "--format", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "remember the apples")

	page := filepath.Join(dir, "notes.html")
	_, _, err = runCLI(t, dir, "", "history", "export", "notes", "--format", "html", "-o", page)
	require.NoError(t, err)
	data, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(data), "remember the apples")

	archive := filepath.Join(dir, "backup.json")
	_, _, err = runCLI(t, dir, "", "history", "export", "--output", archive)
	require.NoError(t, err)

	other := t.TempDir()
	out, _, err = runCLI(t, other, "", "history", "import", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 conversation(s).")

	_, _, err = runCLI(t, other, "", "history", "delete", "notes", "--yes")
	require.NoError(t, err)
	_, _, err = runCLI(t, other, "", "history", "show", "notes")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, GetExitCode(err))
}

func TestHistory_DeleteAsksForConfirmation(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCLI(t, dir, "", "ask", "--channel", "keep", "hello")
	require.NoError(t, err)

	out, _, err := runCLI(t, dir, "n\n", "history", "delete", "keep")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	_, _, err = runCLI(t, dir, "", "history", "show", "keep")
	require.NoError(t, err)
}

func TestHistory_ExportRejectsFormat(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCLI(t, dir, "", "ask", "--channel", "c1", "hi")
	require.NoError(t, err)

	_, _, err = runCLI(t, dir, "", "history", "export", "c1", "--format", "pdf")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestAsk_ChannelContinuesConversation(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCLI(t, dir, "", "ask", "--channel", "thread", "first")
	require.NoError(t, err)
	_, _, err = runCLI(t, dir, "", "ask", "--channel", "thread", "second")
	require.NoError(t, err)

	out, _, err := runCLI(t, dir, "", "history", "show", "thread")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "Mock response to: second")
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_PipedInput(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "hello\n/model mock-model-1\n/stats\n/quit\nnever sent\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: hello")
	assert.Contains(t, out, "Switched to model: mock-model-1")
	assert.Contains(t, out, "Replies:")
	assert.NotContains(t, out, "never sent")
}

func TestChat_UnknownModelAndCommand(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "/model nope:7b\n/frobnicate\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "[Warning]")
	assert.Contains(t, out, "Unknown command: /frobnicate")
}

func TestChat_ResumeSavedConversation(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runCLI(t, dir, "", "ask", "--channel", "resume-me", "earlier question")
	require.NoError(t, err)

	out, _, err := runCLI(t, dir, "/history\n", "chat", "--resume", "resume-me")
	require.NoError(t, err)
	assert.Contains(t, out, "earlier question")

	_, _, err = runCLI(t, dir, "", "chat", "--resume", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, GetExitCode(err))
}

// =============================================================================
// PREFERENCES
// =============================================================================

// savePrefs writes preferences into the history store under dir.
func savePrefs(t *testing.T, dir string, mutate func(*storage.Preferences)) storage.Store {
	t.Helper()
	store, err := storage.NewJSONStore(filepath.Join(dir, "history"))
	require.NoError(t, err)
	prefs := storage.DefaultPreferences()
	mutate(&prefs)
	require.NoError(t, store.SavePreferences(context.Background(), prefs))
	return store
}

func testOptions(dir string) *Options {
	return &Options{
		ConfigDir: dir,
		Mock:      true,
		Quiet:     true,
		In:        strings.NewReader(""),
		Out:       io.Discard,
		Err:       io.Discard,
	}
}

func TestPreferences_AppliedAtStartup(t *testing.T) {
	dir := t.TempDir()
	savePrefs(t, dir, func(p *storage.Preferences) {
		p.PreferredModel = "mock-model-2"
		p.Language = "ja"
	})

	a, err := newApp(context.Background(), testOptions(dir), appMode{store: true})
	require.NoError(t, err)
	defer a.close()
	assert.Equal(t, "mock-model-2", a.cfg.DefaultModel)
	assert.Equal(t, "ja", a.cfg.Session.Language)
	assert.Equal(t, "mock-model-2", a.sessionOptions().Model)

	out, _, err := runCLI(t, dir, "", "--json", "ask", "--channel", "prefs", "hi")
	require.NoError(t, err)
	var res AskResult
	decodeEnvelope(t, out, &res)
	assert.Equal(t, "mock-model-2", res.Model)
}

func TestPreferences_FlagsAndConfigWin(t *testing.T) {
	dir := t.TempDir()
	savePrefs(t, dir, func(p *storage.Preferences) {
		p.PreferredModel = "mock-model-2"
		p.Language = "ja"
	})

	opts := testOptions(dir)
	opts.Model = "mock-model-1"
	opts.Language = "en"
	a, err := newApp(context.Background(), opts, appMode{store: true})
	require.NoError(t, err)
	assert.Equal(t, "mock-model-1", a.cfg.DefaultModel)
	assert.Equal(t, "en", a.cfg.Session.Language)
	require.NoError(t, a.close())

	cfg := config.Default()
	cfg.DefaultModel = "configured:7b"
	cfg.Storage.Dir = filepath.Join(dir, "history")
	require.NoError(t, config.SaveTOML(cfg, filepath.Join(dir, "config.toml")))
	a, err = newApp(context.Background(), testOptions(dir), appMode{store: true})
	require.NoError(t, err)
	defer a.close()
	assert.Equal(t, "configured:7b", a.cfg.DefaultModel)
	assert.Equal(t, "ja", a.cfg.Session.Language)
}

func TestPreferences_PruneAtStartup(t *testing.T) {
	dir := t.TempDir()
	store := savePrefs(t, dir, func(p *storage.Preferences) { p.MaxHistoryDays = 7 })
	ctx := context.Background()

	old := model.NewConversation("m1")
	old.UpdatedAt = time.Now().AddDate(0, 0, -30)
	require.NoError(t, store.Save(ctx, old))
	fresh := model.NewConversation("m1")
	require.NoError(t, store.Save(ctx, fresh))

	out, _, err := runCLI(t, dir, "", "--json", "history", "list")
	require.NoError(t, err)
	var metas []storage.ConversationMeta
	decodeEnvelope(t, out, &metas)
	require.Len(t, metas, 1)
	assert.Equal(t, fresh.ID, metas[0].ID)
}

func TestPreferences_ModelSwitchIsSaved(t *testing.T) {
	dir := t.TempDir()
	store := savePrefs(t, dir, func(p *storage.Preferences) { p.Language = "ja" })
	ctx := context.Background()

	out, _, err := runCLI(t, dir, "/model mock-model-2\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "mock-model-2")

	prefs, err := store.LoadPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mock-model-2", prefs.PreferredModel)
	assert.Equal(t, "ja", prefs.Language, "other preferences are kept")

	// Channels opened by the manager, as served over HTTP and in the TUI,
	// save the switch too.
	a, err := newApp(ctx, testOptions(dir), appMode{backend: true, store: true})
	require.NoError(t, err)
	defer a.close()
	mgr := a.newManager()
	defer mgr.Close()
	ctrl, err := mgr.Get(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "mock-model-2", ctrl.Model())
	require.NoError(t, ctrl.SelectModel(ctx, "mock-model-1"))

	prefs, err = store.LoadPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mock-model-1", prefs.PreferredModel)
}

// =============================================================================
// TASK
// =============================================================================

func TestTask_JSON(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "--json", "task", "build a parser")
	require.NoError(t, err)

	var res agent.Result
	decodeEnvelope(t, out, &res)
	assert.Equal(t, "build a parser", res.Task)
	assert.True(t, res.Succeeded())
	assert.NotEmpty(t, res.Summary)
}

func TestTask_Text(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "task", "build a parser")
	require.NoError(t, err)
	assert.Contains(t, out, "Task: build a parser")
	assert.Contains(t, out, "[OK]")
}

// =============================================================================
// HELPERS
// =============================================================================

func TestReadAll(t *testing.T) {
	long := strings.Repeat("x", 2<<20)
	got, err := readAll(strings.NewReader("  " + long + "\nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, long+"\nsecond line", got)

	_, err = readAll(strings.NewReader(strings.Repeat("y", maxPipedInput+1)))
	assert.Error(t, err)
}

func TestAsk_LongPipedLine(t *testing.T) {
	dir := t.TempDir()
	question := strings.Repeat("a", (1<<20)+10)
	out, _, err := runCLI(t, dir, question+"\n", "ask")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: aaaa")
}

func TestGetTerminalWidth(t *testing.T) {
	assert.GreaterOrEqual(t, GetTerminalWidth(), MinTerminalWidth)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "50.00 MB", formatBytes(50<<20))
	assert.Equal(t, "2.00 GB", formatBytes(2<<30))
}

// =============================================================================
// SERVE
// =============================================================================

func TestReloadServe(t *testing.T) {
	a := &app{opts: &Options{}, cfg: config.Default(), log: logging.Nop()}
	var got string
	setModel := func(m string) { got = m }

	next := config.Default()
	next.DefaultModel = "mock-model-2"
	next.Log.Level = "debug"
	reloadServe(a, setModel, next)
	assert.Equal(t, "mock-model-2", got)
	assert.Equal(t, "mock-model-2", a.cfg.DefaultModel)
	assert.Equal(t, "debug", a.log.Level().String())

	// A --model flag pins the model.
	got = ""
	a.opts.Model = "pinned"
	next.DefaultModel = "other"
	reloadServe(a, setModel, next)
	assert.Empty(t, got)
}

func TestAuthAndCORSConfig(t *testing.T) {
	t.Setenv("CHIRAI_API_TOKEN", "")
	assert.Nil(t, authConfig(serveFlags{}))

	auth := authConfig(serveFlags{token: "secret", allowIPs: []string{"127.0.0.1/32"}})
	require.NotNil(t, auth)
	assert.Equal(t, "secret", auth.BearerToken)
	assert.Equal(t, []string{"127.0.0.1/32"}, auth.AllowedIPs)

	t.Setenv("CHIRAI_API_TOKEN", "from-env")
	assert.Equal(t, "from-env", authConfig(serveFlags{}).BearerToken)

	assert.Nil(t, corsConfig(nil))
	assert.NotEmpty(t, corsConfig([]string{"default"}).AllowedOrigins)
	assert.Equal(t, []string{"https://a.example"}, corsConfig([]string{"https://a.example"}).AllowedOrigins)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("x", "y", "bad"), ExitUsageError},
		{"empty input", session.ErrInvalidInput, ExitUsageError},
		{"empty task", agent.ErrEmptyTask, ExitUsageError},
		{"config", config.ValidateErrors{{Field: "f", Message: "m"}}, ExitConfigError},
		{"not found", fmt.Errorf("load: %w", storage.ErrConversationNotFound), ExitNotFound},
		{"deadline", context.DeadlineExceeded, ExitTimeout},
		{"canceled", context.Canceled, ExitInterrupted},
		{"network", &ollama.ClientError{Kind: ollama.KindNetworkUnavailable}, ExitNetworkError},
		{"model", &ollama.ClientError{Kind: ollama.KindModelNotFound}, ExitNotFound},
		{"wrapped command", NewCommandError("history", "import", errors.New("boom")), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, &ollama.ClientError{Kind: ollama.KindNetworkUnavailable}, false)
	assert.Contains(t, buf.String(), "Error:")
	assert.Contains(t, buf.String(), "--mock")

	buf.Reset()
	DisplayError(&buf, errors.New("boom"), true)
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", *resp.Error)
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, t.TempDir(), "", "frobnicate")
	require.Error(t, err)
}

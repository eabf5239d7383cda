// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/locale"
	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/ui/components"
	"github.com/enablerdao/ChirAI/internal/ui/styles"
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Config wires the chat screen to a controller.
type Config struct {
	Controller *session.Controller

	// Backend lists models for /models. Optional.
	Backend ollama.Backend

	// Channel is shown in the status bar.
	Channel string

	Theme     *styles.Theme
	Localizer *locale.Localizer
	Logger    *zap.Logger
}

// Model is the Bubble Tea model for the chat screen. It renders whatever
// the controller publishes and never edits the transcript itself.
type Model struct {
	ctrl    *session.Controller
	backend ollama.Backend
	theme   *styles.Theme
	loc     *locale.Localizer
	logger  *zap.Logger

	// Subscription
	events      <-chan session.Event
	unsubscribe func()
	lastSeq     uint64

	// Last published controller state
	messages  []model.Message
	state     session.State
	modelName string

	// Components
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keyMap   KeyMap
	renderer *components.MessageRenderer
	status   *components.StatusBar

	// Dimensions
	width  int
	height int
	ready  bool

	// UI state
	spinning    bool
	showHelp    bool
	lastFailed  bool
	notice      string
	searchQuery string
	searchHits  []model.Message

	copyFn func(string) error
}

// New creates the chat screen and subscribes to the controller. Call Close
// when the program exits.
func New(cfg Config) Model {
	if cfg.Theme == nil {
		cfg.Theme = styles.NewTheme()
	}
	if cfg.Localizer == nil {
		cfg.Localizer = locale.New("")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message... (/help for commands)"
	ti.CharLimit = 4096
	ti.PromptStyle = cfg.Theme.InputPrompt
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cfg.Theme.Spinner

	status := components.NewStatusBar(cfg.Theme)
	status.Channel = cfg.Channel

	events, unsubscribe := cfg.Controller.Subscribe()

	m := Model{
		ctrl:        cfg.Controller,
		backend:     cfg.Backend,
		theme:       cfg.Theme,
		loc:         cfg.Localizer,
		logger:      cfg.Logger.Named("tui"),
		events:      events,
		unsubscribe: unsubscribe,
		messages:    cfg.Controller.Transcript(),
		state:       cfg.Controller.State(),
		modelName:   cfg.Controller.Model(),
		input:       ti,
		viewport:    vp,
		spinner:     sp,
		help:        help.New(),
		keyMap:      DefaultKeyMap(),
		renderer:    components.NewMessageRenderer(cfg.Theme, 80),
		status:      status,
		width:       80,
		height:      24,
		copyFn:      clipboard.WriteAll,
	}
	m.refreshViewport()
	return m
}

// Close stops the event subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init starts listening for controller events.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForEvent(m.events)}
	if m.busy() {
		cmds = append(cmds, m.spinner.Tick)
	}
	return tea.Batch(cmds...)
}

func (m Model) busy() bool {
	return m.state == session.StateAwaitingResponse
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Messages returns the transcript as last published.
func (m Model) Messages() []model.Message {
	return m.messages
}

// State returns the controller state as last published.
func (m Model) State() session.State {
	return m.state
}

// ModelName returns the model shown in the header.
func (m Model) ModelName() string {
	return m.modelName
}

// Notice returns the transient status bar note.
func (m Model) Notice() string {
	return m.notice
}

// SendEnabled reports whether Enter will send.
func (m Model) SendEnabled() bool {
	return !m.busy()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/ui/styles"
	"github.com/jeranaias/offchat/internal/voice"
)

// Backend is the session the chat view drives. *session.Session
// satisfies it.
type Backend interface {
	Transcript() *observe.Value[transcript.Snapshot]
	ModelStatus() *observe.Value[lifecycle.StatusUpdate]
	SpeechStatus() *observe.Value[lifecycle.StatusUpdate]
	SpeechReady() *observe.Value[bool]
	Advisory() *observe.Value[string]
	VoiceState() *observe.Value[voice.State]

	Settings() model.Settings
	UpdateSettings(model.Settings) error
	ResetSettings() error
	ModelInfo() lifecycle.ModelInfo
	SpeechModelID() string
	Usage() telemetry.SessionUsage

	SendUserInput(text string, attachments []string) bool
	PressVoice()
	ClearMessages()
	AcknowledgeError()
}

// Layout rows outside the viewport: header, advisory, input box (3), status.
const chromeHeight = 6

// =============================================================================
// MODEL
// =============================================================================

// Model is the chat screen.
type Model struct {
	backend Backend
	theme   *styles.Theme
	keys    KeyMap
	help    help.Model
	subs    *subscriptions

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	snapshot     transcript.Snapshot
	modelStatus  lifecycle.StatusUpdate
	speechStatus lifecycle.StatusUpdate
	speechReady  bool
	voice        voice.State
	advisory     string

	notice      string
	attachments []string
	showHelp    bool
	width       int
	height      int
	quitting    bool

	copyText func(string) error
}

// New creates the chat screen for backend. Call Close when the program ends.
func New(backend Backend, theme *styles.Theme) Model {
	if theme == nil {
		theme = styles.NewTheme()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message, /help for commands..."
	ti.CharLimit = 8192
	ti.PromptStyle = theme.InputPrompt
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Spinner

	return Model{
		backend:      backend,
		theme:        theme,
		keys:         DefaultKeyMap(),
		help:         help.New(),
		subs:         subscribe(backend),
		viewport:     viewport.New(80, 20),
		input:        ti,
		spinner:      sp,
		snapshot:     backend.Transcript().Get(),
		modelStatus:  backend.ModelStatus().Get(),
		speechStatus: backend.SpeechStatus().Get(),
		speechReady:  backend.SpeechReady().Get(),
		voice:        backend.VoiceState().Get(),
		advisory:     backend.Advisory().Get(),
		copyText:     clipboard.WriteAll,
	}
}

// Close releases the session subscriptions.
func (m Model) Close() {
	m.subs.close()
}

// Quitting reports whether the user asked to quit.
func (m Model) Quitting() bool {
	return m.quitting
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the subscriptions and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.subs.all())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TranscriptMsg:
		m.snapshot = msg.Snapshot
		m.refreshViewport()
		return m, listen(m.subs.transcript, func(v transcript.Snapshot) tea.Msg { return TranscriptMsg{v} })

	case ModelStatusMsg:
		m.modelStatus = msg.Update
		return m, listen(m.subs.model, func(v lifecycle.StatusUpdate) tea.Msg { return ModelStatusMsg{v} })

	case SpeechStatusMsg:
		m.speechStatus = msg.Update
		return m, listen(m.subs.speech, func(v lifecycle.StatusUpdate) tea.Msg { return SpeechStatusMsg{v} })

	case SpeechReadyMsg:
		m.speechReady = msg.Ready
		return m, listen(m.subs.ready, func(v bool) tea.Msg { return SpeechReadyMsg{v} })

	case VoiceMsg:
		m.voice = msg.State
		return m, listen(m.subs.voice, func(v voice.State) tea.Msg { return VoiceMsg{v} })

	case AdvisoryMsg:
		m.advisory = msg.Text
		return m, listen(m.subs.advisory, func(v string) tea.Msg { return AdvisoryMsg{v} })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if _, ok := m.snapshot.ActivePlaceholder(); ok {
			m.refreshViewport()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.render()
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	m.viewport.Width = max(msg.Width, 1)
	m.viewport.Height = max(msg.Height-chromeHeight, 1)
	m.input.Width = max(msg.Width-8, 10)
	m.help.Width = msg.Width

	m.refreshViewport()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Voice):
		m.backend.PressVoice()
		return m, nil

	case key.Matches(msg, m.keys.Dismiss):
		switch {
		case m.showHelp:
			m.showHelp = false
		case m.notice != "":
			m.notice = ""
		default:
			m.backend.AcknowledgeError()
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.backend.ClearMessages()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		return m, nil
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keys.Home):
		m.viewport.GotoTop()
		return m, nil
	case key.Matches(msg, m.keys.End):
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input line or runs a slash command. Input rejected by
// the session stays in the box so it can be sent again.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if text == "" && len(m.attachments) == 0 {
		return m, nil
	}
	if m.backend.SendUserInput(text, m.attachments) {
		m.input.Reset()
		m.attachments = nil
		m.notice = ""
		m.viewport.GotoBottom()
	}
	return m, nil
}

// refreshViewport re-renders the transcript, following the bottom when the
// view was already there.
func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// Run shows the chat screen until the user quits or ctx ends.
func Run(ctx context.Context, backend Backend) error {
	m := New(backend, styles.NewTheme())
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

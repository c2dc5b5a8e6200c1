// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/ui/styles"
	"github.com/jeranaias/offchat/internal/voice"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

type sent struct {
	text        string
	attachments []string
}

type fakeBackend struct {
	transcript *observe.Value[transcript.Snapshot]
	model      *observe.Value[lifecycle.StatusUpdate]
	speech     *observe.Value[lifecycle.StatusUpdate]
	ready      *observe.Value[bool]
	voice      *observe.Value[voice.State]
	advisory   *observe.Value[string]

	settings  model.Settings
	usage     telemetry.SessionUsage
	reject    bool
	updateErr error

	sent    []sent
	presses int
	clears  int
	acks    int
	resets  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		transcript: observe.NewValue(transcript.Snapshot{}),
		model:      observe.NewValue(lifecycle.StatusUpdate{Status: lifecycle.StatusReady}),
		speech:     observe.NewValue(lifecycle.StatusUpdate{Status: lifecycle.StatusReady}),
		ready:      observe.NewValue(true),
		voice:      observe.NewValue(voice.StateIdle),
		advisory:   observe.NewValue(""),
		settings:   model.DefaultSettings(),
	}
}

func (f *fakeBackend) Transcript() *observe.Value[transcript.Snapshot]    { return f.transcript }
func (f *fakeBackend) ModelStatus() *observe.Value[lifecycle.StatusUpdate]  { return f.model }
func (f *fakeBackend) SpeechStatus() *observe.Value[lifecycle.StatusUpdate] { return f.speech }
func (f *fakeBackend) SpeechReady() *observe.Value[bool]                    { return f.ready }
func (f *fakeBackend) Advisory() *observe.Value[string]                     { return f.advisory }
func (f *fakeBackend) VoiceState() *observe.Value[voice.State]              { return f.voice }
func (f *fakeBackend) Settings() model.Settings                             { return f.settings }
func (f *fakeBackend) SpeechModelID() string                                { return f.settings.SpeechModelID }
func (f *fakeBackend) Usage() telemetry.SessionUsage                        { return f.usage }
func (f *fakeBackend) PressVoice()                                          { f.presses++ }
func (f *fakeBackend) ClearMessages()                                       { f.clears++ }
func (f *fakeBackend) AcknowledgeError()                                    { f.acks++; f.advisory.Set("") }

func (f *fakeBackend) ModelInfo() lifecycle.ModelInfo {
	return lifecycle.ModelInfo{ModelID: f.settings.ModelID, Loaded: true, Status: lifecycle.StatusReady}
}

func (f *fakeBackend) UpdateSettings(s model.Settings) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.settings = s
	return nil
}

func (f *fakeBackend) ResetSettings() error {
	f.resets++
	f.settings = model.DefaultSettings()
	return nil
}

func (f *fakeBackend) SendUserInput(text string, attachments []string) bool {
	if f.reject {
		return false
	}
	f.sent = append(f.sent, sent{text: text, attachments: attachments})
	return true
}

var _ Backend = (*fakeBackend)(nil)

// =============================================================================
// HELPERS
// =============================================================================

func newModel(t *testing.T, b *fakeBackend) Model {
	t.Helper()
	m := New(b, styles.NewTheme())
	t.Cleanup(m.Close)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeAndSubmit(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

// =============================================================================
// INPUT
// =============================================================================

func TestSubmit_SendsInput(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)

	m, _ = typeAndSubmit(t, m, "  hello  ")
	require.Len(t, b.sent, 1)
	assert.Equal(t, "hello", b.sent[0].text)
	assert.Empty(t, m.input.Value())
}

func TestSubmit_RejectedKeepsText(t *testing.T) {
	b := newFakeBackend()
	b.reject = true
	m := newModel(t, b)

	m, _ = typeAndSubmit(t, m, "hello")
	assert.Empty(t, b.sent)
	assert.Equal(t, "hello", m.input.Value())
}

func TestSubmit_BlankIgnored(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	typeAndSubmit(t, m, "   ")
	assert.Empty(t, b.sent)
}

func TestAttach(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	m, _ = typeAndSubmit(t, m, "/attach "+path)
	assert.Equal(t, []string{path}, m.attachments)
	assert.Contains(t, m.View(), "Attached: notes.txt")

	m, _ = typeAndSubmit(t, m, "summarize")
	require.Len(t, b.sent, 1)
	assert.Equal(t, []string{path}, b.sent[0].attachments)
	assert.Nil(t, m.attachments)
}

func TestAttach_Missing(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = typeAndSubmit(t, m, "/attach /does/not/exist")
	assert.Empty(t, m.attachments)
	assert.Contains(t, m.notice, "Cannot attach")
}

// =============================================================================
// KEYS
// =============================================================================

func TestVoiceKey(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, 1, b.presses)
}

func TestDismiss(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	m.notice = "local"

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, m.notice)
	assert.Equal(t, 0, b.acks, "notice is dismissed first")

	update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, b.acks)
}

func TestQuitKey(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.Quitting())
	assert.Empty(t, m.View())
}

func TestClearKey(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Equal(t, 1, b.clears)
}

// =============================================================================
// SESSION UPDATES
// =============================================================================

func TestListen_ReplaysAndFollows(t *testing.T) {
	b := newFakeBackend()
	m := New(b, nil)

	cmd := listen(m.subs.advisory, func(v string) tea.Msg { return AdvisoryMsg{v} })
	assert.Equal(t, AdvisoryMsg{""}, cmd())

	b.advisory.Set("busy")
	assert.Equal(t, AdvisoryMsg{"busy"}, cmd())

	m.Close()
	assert.Nil(t, cmd())
}

func TestTranscript_RendersPlaceholderAndReply(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)

	user := model.NewUserMessage("what is go?")
	ph := model.NewPlaceholder()
	m, _ = update(t, m, TranscriptMsg{transcript.Snapshot{Messages: []model.Message{user, ph}}})
	view := m.View()
	assert.Contains(t, view, "what is go?")
	assert.Contains(t, view, "Thinking...")

	reply := ph.WithContent("A language.").Completed()
	m, _ = update(t, m, TranscriptMsg{transcript.Snapshot{Messages: []model.Message{user, reply}}})
	view = m.View()
	assert.Contains(t, view, "A language.")
	assert.NotContains(t, view, "Thinking...")
}

func TestAdvisoryShown(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = update(t, m, AdvisoryMsg{"AI not ready. Please wait..."})
	assert.Contains(t, m.View(), "AI not ready")
}

func TestVoiceRecordingBanner(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = update(t, m, VoiceMsg{voice.StateRecording})
	view := m.View()
	assert.Contains(t, view, "Recording...")
	assert.Contains(t, view, "RECORDING")
}

func TestHeaderShowsStatus(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = update(t, m, ModelStatusMsg{lifecycle.StatusUpdate{Status: lifecycle.StatusDownloading, Message: "Downloading 42%"}})
	view := m.View()
	assert.Contains(t, view, "DOWNLOADING")
	assert.Contains(t, view, "Downloading 42%")
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestCommand_Set(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)

	m, _ = typeAndSubmit(t, m, "/set temperature 0.3")
	assert.InDelta(t, 0.3, b.settings.Temperature, 1e-9)
	assert.Equal(t, "Updated temperature", m.notice)

	m, _ = typeAndSubmit(t, m, "/set temperature hot")
	assert.Contains(t, m.notice, "Bad value for temperature")
	assert.InDelta(t, 0.3, b.settings.Temperature, 1e-9)
}

func TestCommand_SetRejectedBySession(t *testing.T) {
	b := newFakeBackend()
	b.updateErr = errors.New("invalid")
	m := newModel(t, b)

	m, _ = typeAndSubmit(t, m, "/set max_tokens 0")
	assert.Empty(t, m.notice, "the session reports its own advisory")
}

func TestCommand_Reset(t *testing.T) {
	b := newFakeBackend()
	b.settings.Temperature = 1.5
	m := newModel(t, b)
	m, _ = typeAndSubmit(t, m, "/reset")
	assert.Equal(t, 1, b.resets)
	assert.Equal(t, model.DefaultTemperature, b.settings.Temperature)
}

func TestCommand_Copy(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)
	var copied string
	m.copyText = func(s string) error { copied = s; return nil }

	m, _ = typeAndSubmit(t, m, "/copy")
	assert.Equal(t, "Nothing to copy yet", m.notice)

	reply := model.NewAssistantMessage("the answer")
	m, _ = update(t, m, TranscriptMsg{transcript.Snapshot{Messages: []model.Message{reply}}})
	m, _ = typeAndSubmit(t, m, "/copy")
	assert.Equal(t, "the answer", copied)
	assert.Equal(t, "Copied last reply", m.notice)
}

func TestCommand_StatsAndSettings(t *testing.T) {
	b := newFakeBackend()
	b.usage = telemetry.SessionUsage{Generations: 2, GenerationTime: 3 * time.Second}
	m := newModel(t, b)

	m, _ = typeAndSubmit(t, m, "/stats")
	assert.Contains(t, m.notice, "Replies 2")
	assert.Contains(t, m.notice, "avg 1.5s")

	m, _ = typeAndSubmit(t, m, "/settings")
	assert.Contains(t, m.notice, "model="+model.DefaultModelID)
}

func TestCommand_Unknown(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = typeAndSubmit(t, m, "/dance")
	assert.Equal(t, "Unknown command: /dance (try /help)", m.notice)
}

func TestCommand_HelpAndQuit(t *testing.T) {
	m := newModel(t, newFakeBackend())
	m, _ = typeAndSubmit(t, m, "/help")
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "/set <key> <value>")

	m, cmd := typeAndSubmit(t, m, "/quit")
	require.NotNil(t, cmd)
	assert.True(t, m.Quitting())
}

func TestApplySetting(t *testing.T) {
	base := model.DefaultSettings()
	tests := []struct {
		key, value string
		check      func(model.Settings) bool
		wantErr    bool
	}{
		{"model", "qwen3-1.7", func(s model.Settings) bool { return s.ModelID == "qwen3-1.7" }, false},
		{"speech_model", "whisper-base", func(s model.Settings) bool { return s.SpeechModelID == "whisper-base" }, false},
		{"max_tokens", "256", func(s model.Settings) bool { return s.MaxTokens == 256 }, false},
		{"context_size", "8192", func(s model.Settings) bool { return s.ContextSize == 8192 }, false},
		{"gpu_layers", "0", func(s model.Settings) bool { return s.GPULayers == 0 }, false},
		{"cpu_threads", "8", func(s model.Settings) bool { return s.CPUThreads == 8 }, false},
		{"show_thinking", "true", func(s model.Settings) bool { return s.ShowThinking }, false},
		{"system", "Be brief.", func(s model.Settings) bool { return s.SystemPrompt == "Be brief." }, false},
		{"system", "", func(s model.Settings) bool { return s.SystemPrompt == "" }, false},
		{"max_tokens", "many", nil, true},
		{"colour", "blue", nil, true},
		{"", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := applySetting(base, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.check(got))
		})
	}
}

// =============================================================================
// LAYOUT
// =============================================================================

func TestView_FitsHeight(t *testing.T) {
	b := newFakeBackend()
	m := newModel(t, b)

	msgs := make([]model.Message, 0, 40)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, model.NewUserMessage("question"), model.NewAssistantMessage("answer"))
	}
	m, _ = update(t, m, TranscriptMsg{transcript.Snapshot{Messages: msgs}})

	lines := strings.Split(m.View(), "\n")
	assert.LessOrEqual(t, len(lines), 30)
}

func TestView_LoadingBeforeResize(t *testing.T) {
	m := New(newFakeBackend(), nil)
	defer m.Close()
	assert.Equal(t, "Loading...", m.View())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
}

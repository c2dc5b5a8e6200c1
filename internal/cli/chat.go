// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
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

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/ui/chat"
	"github.com/jeranaias/offchat/internal/voice"
)

// =============================================================================
// FULL SCREEN CHAT
// =============================================================================

// runTUI shows the full screen chat, or the line chat when there is no
// terminal to draw on.
func runTUI(ctx context.Context, a *app) error {
	if !Interactive() {
		return runLineChat(ctx, a)
	}
	if err := a.load(false); err != nil {
		return err
	}
	rt, err := a.startSession(ctx)
	if err != nil {
		return err
	}
	runErr := chat.Run(ctx, rt.sess)
	if err := rt.stop(); err != nil {
		a.log.Warn().Err(err).Msg("shutdown")
	}
	return runErr
}

// =============================================================================
// LINE CHAT
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in line mode, without the full screen interface",
		Long: `Chat with the local model one line at a time. Type a message and press
Enter. Commands: /voice to talk (Enter stops recording), /clear, /help,
/quit. Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLineChat(cmd.Context(), a)
		},
	}
}

// lineBackend is the part of the session the line chat needs.
type lineBackend interface {
	Transcript() *observe.Value[transcript.Snapshot]
	ModelStatus() *observe.Value[lifecycle.StatusUpdate]
	VoiceState() *observe.Value[voice.State]
	Advisory() *observe.Value[string]
	Busy() bool
	SendUserInput(text string, attachments []string) bool
	PressVoice()
	ClearMessages()
	AcknowledgeError()
}

// lineChat is a liner-backed prompt loop.
type lineChat struct {
	backend lineBackend
	out     io.Writer
	poll    time.Duration
}

func runLineChat(ctx context.Context, a *app) error {
	if a.cfg == nil {
		if err := a.load(false); err != nil {
			return err
		}
	}
	rt, err := a.startSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.stop(); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}()

	fmt.Fprintln(a.stdout, TitleStyle.Render("offchat")+DimStyle.Render("  /help for commands, Ctrl+D to exit"))
	c := &lineChat{backend: rt.sess, out: a.stdout, poll: 100 * time.Millisecond}
	c.waitModel(ctx)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := ""
	if dir, err := a.cfg.DataDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyFile == "" {
			return
		}
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	for ctx.Err() == nil {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(a.stdout)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !c.command(ctx, input, func() { _, _ = line.Prompt(DimStyle.Render("[recording, Enter to stop] ")) }) {
				return nil
			}
			continue
		}
		c.send(ctx, input)
	}
	return nil
}

// waitModel prints load progress until the model is ready or failed.
func (c *lineChat) waitModel(ctx context.Context) {
	ch, cancel := c.backend.ModelStatus().Subscribe()
	defer cancel()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			switch u.Status {
			case lifecycle.StatusReady:
				fmt.Fprintln(c.out, SuccessStyle.Render("[OK]")+" Model ready")
				return
			case lifecycle.StatusError:
				fmt.Fprintln(c.out, ErrorStyle.Render("[X]")+" "+u.Message)
				return
			}
			if u.Message != "" && u.Message != last {
				fmt.Fprintln(c.out, DimStyle.Render(u.Message))
				last = u.Message
			}
		}
	}
}

// send submits text and prints the reply as it streams.
func (c *lineChat) send(ctx context.Context, text string) {
	seen := seenIDs(c.backend.Transcript().Get())
	if !c.backend.SendUserInput(text, nil) {
		c.printAdvisory()
		return
	}
	c.follow(ctx, seen, false)
}

// command runs a slash command. It returns false to quit. waitEnter
// blocks until the user ends a recording.
func (c *lineChat) command(ctx context.Context, input string, waitEnter func()) bool {
	name, _, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return false
	case "clear":
		c.backend.ClearMessages()
		c.printAdvisory()
	case "voice", "talk":
		seen := seenIDs(c.backend.Transcript().Get())
		c.backend.PressVoice()
		if c.backend.VoiceState().Get() != voice.StateRecording {
			c.printAdvisory()
			return true
		}
		waitEnter()
		c.backend.PressVoice()
		c.follow(ctx, seen, true)
	case "help", "?":
		fmt.Fprintln(c.out, RenderField("/voice", "record a spoken message, Enter stops"))
		fmt.Fprintln(c.out, RenderField("/clear", "start a new conversation"))
		fmt.Fprintln(c.out, RenderField("/quit", "exit"))
	default:
		fmt.Fprintln(c.out, WarningStyle.Render("Unknown command: "+input))
	}
	return true
}

func (c *lineChat) printAdvisory() {
	if msg := c.backend.Advisory().Get(); msg != "" {
		fmt.Fprintln(c.out, WarningStyle.Render("[!] "+msg))
		c.backend.AcknowledgeError()
	}
}

// follow prints messages that are not in seen as they change, until the
// session is idle and the reply has finished. User messages are printed
// only when echoUser is set, which is how voice input is shown.
func (c *lineChat) follow(ctx context.Context, seen map[string]bool, echoUser bool) {
	ch, cancel := c.backend.Transcript().Subscribe()
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	p := &replyPrinter{out: c.out, seen: seen, shown: make(map[string]string), echoUser: echoUser}
	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			p.finish()
			return
		case snap, ok := <-ch:
			if !ok {
				p.finish()
				return
			}
			p.print(snap)
		case <-ticker.C:
			if c.backend.Busy() || c.backend.VoiceState().Get() != voice.StateIdle {
				idleTicks = 0
				continue
			}
			idleTicks++
			snap := c.backend.Transcript().Get()
			p.print(snap)
			_, streaming := snap.ActivePlaceholder()
			if (p.replied && !streaming) || idleTicks >= 3 {
				p.finish()
				c.printAdvisory()
				return
			}
		}
	}
}

func seenIDs(snap transcript.Snapshot) map[string]bool {
	seen := make(map[string]bool, len(snap.Messages))
	for _, m := range snap.Messages {
		seen[m.ID] = true
	}
	return seen
}

// =============================================================================
// REPLY PRINTER
// =============================================================================

// replyPrinter writes new transcript messages incrementally.
type replyPrinter struct {
	out      io.Writer
	seen     map[string]bool
	shown    map[string]string // message ID -> content already written
	open     string            // ID of the message whose line is unterminated
	echoUser bool
	replied  bool
}

func (p *replyPrinter) print(snap transcript.Snapshot) {
	for _, m := range snap.Messages {
		if p.seen[m.ID] {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			if p.echoUser && !m.Streaming {
				p.line(DimStyle.Render(m.Role.DisplayName()+": ") + m.Content)
				p.seen[m.ID] = true
			}
		case model.RoleSystem:
			p.line(WarningStyle.Render(m.Content))
			p.seen[m.ID] = true
			p.replied = true
		default:
			p.assistant(m)
		}
	}
}

func (p *replyPrinter) assistant(m model.Message) {
	prev, started := p.shown[m.ID]
	if m.Content == "" && m.Streaming {
		return
	}
	if !started {
		p.close()
		fmt.Fprint(p.out, ReplyStyle.Render(m.Role.DisplayName()+": "))
		p.open = m.ID
	}
	switch {
	case strings.HasPrefix(m.Content, prev):
		fmt.Fprint(p.out, m.Content[len(prev):])
	default:
		// Filtered output shrank; start the reply over.
		fmt.Fprint(p.out, "\n"+m.Content)
	}
	p.shown[m.ID] = m.Content
	p.replied = true
	if !m.Streaming {
		p.close()
		p.seen[m.ID] = true
	}
}

func (p *replyPrinter) line(s string) {
	p.close()
	fmt.Fprintln(p.out, s)
}

func (p *replyPrinter) close() {
	if p.open != "" {
		fmt.Fprintln(p.out)
		p.open = ""
	}
}

func (p *replyPrinter) finish() {
	p.close()
}

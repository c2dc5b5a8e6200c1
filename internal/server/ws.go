// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket event types.
const (
	EventTranscript = "transcript"
	EventStatus     = "status"
	EventSpeech     = "speech"
	EventVoice      = "voice"
	EventAdvisory   = "advisory"
	EventError      = "error"
)

// Websocket command types.
const (
	CommandSend  = "send"
	CommandVoice = "voice"
	CommandAck   = "ack"
	CommandClear = "clear"
)

const (
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 2 * wsPingInterval
	wsMaxMessage   = MaxMessageLength + 4096
)

// Event is a server-to-client frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Command is a client-to-server frame.
type Command struct {
	Type        string   `json:"type"`
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// SpeechEvent is the data of a "speech" event.
type SpeechEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Ready   bool   `json:"ready"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits non-browser clients, same-host pages and the CORS
// allowlist.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return s.cors.isOriginAllowed(origin)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := s.log.With().Str("client", GetClientIP(r)).Logger()
	log.Debug().Msg("websocket connected")

	replies := make(chan Event, 8)
	go func() {
		s.readCommands(ctx, conn, replies)
		cancel()
	}()

	if err := s.writeEvents(ctx, conn, replies); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
	}
	_ = conn.Close()
	log.Debug().Msg("websocket closed")
}

// writeEvents is the only writer on conn. Every observable is replayed on
// connect and then pushed on change; slow clients only see the latest
// value of each.
func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, replies <-chan Event) error {
	b := s.backend
	transcriptCh, c1 := b.Transcript().Subscribe()
	defer c1()
	statusCh, c2 := b.ModelStatus().Subscribe()
	defer c2()
	speechCh, c3 := b.SpeechStatus().Subscribe()
	defer c3()
	readyCh, c4 := b.SpeechReady().Subscribe()
	defer c4()
	voiceCh, c5 := b.VoiceState().Subscribe()
	defer c5()
	advisoryCh, c6 := b.Advisory().Subscribe()
	defer c6()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	speechEvent := func() Event {
		u := b.SpeechStatus().Get()
		return Event{Type: EventSpeech, Data: SpeechEvent{
			Status:  u.Status.String(),
			Message: u.Message,
			Ready:   b.SpeechReady().Get(),
		}}
	}

	for {
		var ev Event
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return err
			}
			continue
		case snap := <-transcriptCh:
			ev = Event{Type: EventTranscript, Data: snap}
		case u := <-statusCh:
			ev = Event{Type: EventStatus, Data: u}
		case <-speechCh:
			ev = speechEvent()
		case <-readyCh:
			ev = speechEvent()
		case st := <-voiceCh:
			ev = Event{Type: EventVoice, Data: st}
		case adv := <-advisoryCh:
			ev = Event{Type: EventAdvisory, Data: adv}
		case ev = <-replies:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
	}
}

// readCommands dispatches client commands until the connection fails or
// ctx ends.
func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn, replies chan<- Event) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	reply := func(msg string) {
		select {
		case replies <- Event{Type: EventError, Data: msg}:
		case <-ctx.Done():
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply("invalid command: " + err.Error())
			continue
		}

		switch cmd.Type {
		case CommandSend:
			req := SendRequest{Text: cmd.Text, Attachments: cmd.Attachments}
			if err := validateSend(req); err != nil {
				reply(err.Error())
				continue
			}
			if !s.backend.SendUserInput(req.Text, req.Attachments) {
				reply(s.backend.Advisory().Get())
			}
		case CommandVoice:
			s.backend.PressVoice()
		case CommandAck:
			s.backend.AcknowledgeError()
		case CommandClear:
			s.backend.ClearMessages()
		default:
			reply("unknown command: " + cmd.Type)
		}
	}
}

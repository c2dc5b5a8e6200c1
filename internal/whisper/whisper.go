// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package whisper implements speech-to-text on top of a local whisper.cpp
// server. Models are ggml files downloaded into a models directory, loaded
// into the server with /load, and audio is posted to /inference. Microphone
// capture runs an external recorder that writes a 16-bit mono WAV file.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/model"
)

// Defaults for Config.
const (
	DefaultServerURL    = "http://127.0.0.1:8178"
	DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
)

// Config configures an Engine.
type Config struct {
	// ServerURL is the whisper.cpp server base URL.
	ServerURL string

	// ModelsDir holds downloaded ggml files.
	ModelsDir string

	// ModelBaseURL is prefixed to the model file name to download it.
	ModelBaseURL string

	// Recorder is the capture command template. See Recorder.
	Recorder []string

	// Language passed to /inference ("auto" to detect).
	Language string

	// Timeout bounds /load and /inference requests (default: 2m).
	Timeout time.Duration
}

// Engine implements engine.Speech.
type Engine struct {
	cfg        Config
	httpClient *http.Client
	// downloadClient has no overall timeout; downloads are bounded by ctx.
	downloadClient *http.Client
	log            zerolog.Logger

	mu      sync.Mutex
	loaded  string
	stopRec context.CancelFunc
}

var _ engine.Speech = (*Engine)(nil)

// New creates an Engine.
func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.ModelBaseURL == "" {
		cfg.ModelBaseURL = DefaultModelBaseURL
	}
	if len(cfg.Recorder) == 0 {
		cfg.Recorder = DefaultRecorder()
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Engine{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		downloadClient: &http.Client{},
		log:            logger.With().Str("component", "whisper").Logger(),
	}
}

// ModelPath returns where modelID is stored.
func (e *Engine) ModelPath(modelID string) string {
	return filepath.Join(e.cfg.ModelsDir, model.SpeechArtifact(modelID))
}

// =============================================================================
// MODEL FILES
// =============================================================================

// IsDownloaded reports whether the model file exists and is non-empty.
func (e *Engine) IsDownloaded(modelID string) bool {
	info, err := os.Stat(e.ModelPath(modelID))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Download fetches the ggml file into ModelsDir. The file is written under a
// temporary name and renamed on success, so a cancelled download never
// leaves a truncated model behind.
func (e *Engine) Download(ctx context.Context, modelID string) error {
	dest := e.ModelPath(modelID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	url := strings.TrimRight(e.cfg.ModelBaseURL, "/") + "/" + filepath.Base(dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := e.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	pw := &progressWriter{
		total:    resp.ContentLength,
		throttle: rate.Sometimes{Interval: 2 * time.Second},
		log:      e.log.With().Str("model", modelID).Logger(),
	}
	n, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("download %s: got %d of %d bytes", url, n, resp.ContentLength)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	e.log.Info().Str("model", modelID).Int64("bytes", n).Msg("speech model downloaded")
	return nil
}

type progressWriter struct {
	total    int64
	written  int64
	throttle rate.Sometimes
	log      zerolog.Logger
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.throttle.Do(func() {
		ev := p.log.Debug().Int64("bytes", p.written)
		if p.total > 0 {
			ev = ev.Int("percent", int(p.written*100/p.total))
		}
		ev.Msg("downloading speech model")
	})
	return len(b), nil
}

// =============================================================================
// SERVER
// =============================================================================

// Initialize loads the model file into the server.
func (e *Engine) Initialize(ctx context.Context, modelID string) error {
	path := e.ModelPath(modelID)
	if !e.IsDownloaded(modelID) {
		return fmt.Errorf("model file missing: %s", path)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", path); err != nil {
		return fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	if _, err := e.post(ctx, "/load", &buf, mw.FormDataContentType()); err != nil {
		return err
	}

	e.mu.Lock()
	e.loaded = modelID
	e.mu.Unlock()
	e.log.Info().Str("model", modelID).Msg("speech model loaded")
	return nil
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// TranscribeFile posts an audio file to /inference.
func (e *Engine) TranscribeFile(ctx context.Context, path string) (engine.Transcription, error) {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if loaded == "" {
		return engine.Transcription{}, errors.New("no speech model loaded")
	}

	f, err := os.Open(path)
	if err != nil {
		return engine.Transcription{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return engine.Transcription{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return engine.Transcription{}, fmt.Errorf("write audio data: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        e.cfg.Language,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return engine.Transcription{}, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return engine.Transcription{}, fmt.Errorf("close multipart writer: %w", err)
	}

	body, err := e.post(ctx, "/inference", &buf, mw.FormDataContentType())
	if err != nil {
		return engine.Transcription{}, err
	}

	var res inferenceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return engine.Transcription{}, fmt.Errorf("decode inference response: %w", err)
	}
	if res.Error != "" {
		return engine.Transcription{Success: false, Text: res.Error}, nil
	}
	return engine.Transcription{Success: true, Text: cleanTranscript(res.Text)}, nil
}

func (e *Engine) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.ServerURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper server %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper server %s: %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// cleanTranscript drops the non-speech annotations whisper emits for
// silence and noise, such as "[BLANK_AUDIO]" or "(wind blowing)".
func cleanTranscript(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
			continue
		case ']', ')':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Unload forgets the loaded model. The server keeps its copy until another
// model is loaded.
func (e *Engine) Unload(ctx context.Context) error {
	e.Stop()
	e.mu.Lock()
	e.loaded = ""
	e.mu.Unlock()
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whisper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/offchat/internal/engine"
)

type fakeWhisper struct {
	mu        sync.Mutex
	loaded    string
	uploads   []int
	language  string
	text      string
	modelBody string
}

func (f *fakeWhisper) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.bin") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, f.modelBody)
	})
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loaded = r.FormValue("model")
		io.WriteString(w, "Load was successful!")
	})
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"no file"}`, http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploads = append(f.uploads, len(data))
		f.language = r.FormValue("language")
		text := f.text
		f.mu.Unlock()
		io.WriteString(w, `{"text":"`+text+`"}`)
	})
	return mux
}

func newEngine(t *testing.T, fw *fakeWhisper, recorder []string) *Engine {
	t.Helper()
	srv := httptest.NewServer(fw.handler())
	t.Cleanup(srv.Close)
	return New(Config{
		ServerURL:    srv.URL,
		ModelsDir:    t.TempDir(),
		ModelBaseURL: srv.URL + "/models",
		Recorder:     recorder,
		Timeout:      5 * time.Second,
	}, zerolog.Nop())
}

func TestExpandRecorder(t *testing.T) {
	got := expandRecorder([]string{"rec", "-r", "{rate}", "{output}", "trim", "0", "{seconds}"}, 16000, 60*time.Second, "/tmp/a.wav")
	assert.Equal(t, []string{"rec", "-r", "16000", "/tmp/a.wav", "trim", "0", "60"}, got)

	got = expandRecorder([]string{"{seconds}"}, 8000, 100*time.Millisecond, "x")
	assert.Equal(t, []string{"1"}, got, "duration rounds up to at least one second")
}

func TestCleanTranscript(t *testing.T) {
	assert.Equal(t, "", cleanTranscript(" [BLANK_AUDIO] "))
	assert.Equal(t, "hello there", cleanTranscript("(wind blowing) hello   there\n"))
	assert.Equal(t, "a ] b", cleanTranscript("a ] b"))
}

func TestDownloadAndInitialize(t *testing.T) {
	fw := &fakeWhisper{modelBody: strings.Repeat("g", 1024)}
	e := newEngine(t, fw, nil)
	ctx := context.Background()

	assert.False(t, e.IsDownloaded("whisper-tiny"))
	require.Error(t, e.Initialize(ctx, "whisper-tiny"), "file must exist before loading")

	require.NoError(t, e.Download(ctx, "whisper-tiny"))
	assert.True(t, e.IsDownloaded("whisper-tiny"))
	assert.Equal(t, "ggml-tiny.bin", filepath.Base(e.ModelPath("whisper-tiny")))

	entries, err := os.ReadDir(filepath.Dir(e.ModelPath("whisper-tiny")))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files left behind")

	require.NoError(t, e.Initialize(ctx, "whisper-tiny"))
	fw.mu.Lock()
	assert.Equal(t, e.ModelPath("whisper-tiny"), fw.loaded)
	fw.mu.Unlock()
}

func TestDownload_NotFound(t *testing.T) {
	fw := &fakeWhisper{}
	e := newEngine(t, fw, nil)
	err := e.Download(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, e.IsDownloaded("missing"))
}

func loadedEngine(t *testing.T, fw *fakeWhisper, recorder []string) *Engine {
	t.Helper()
	fw.modelBody = "model"
	e := newEngine(t, fw, recorder)
	require.NoError(t, e.Download(context.Background(), "whisper-base"))
	require.NoError(t, e.Initialize(context.Background(), "whisper-base"))
	return e
}

func TestTranscribeFile(t *testing.T) {
	fw := &fakeWhisper{text: " What time is it? "}
	e := loadedEngine(t, fw, nil)

	clip := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(clip, make([]byte, 2000), 0o600))

	res, err := e.TranscribeFile(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, engine.Transcription{Success: true, Text: "What time is it?"}, res)
	assert.Equal(t, "en", fw.language)
}

func TestTranscribeFile_NotLoaded(t *testing.T) {
	e := newEngine(t, &fakeWhisper{}, nil)
	_, err := e.TranscribeFile(context.Background(), "/nonexistent.wav")
	assert.Error(t, err)
}

func shellRecorder(script string) []string {
	return []string{"sh", "-c", script}
}

func TestTranscribeFromMicrophone_StopTranscribesCapture(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	fw := &fakeWhisper{text: "turn on the lights"}
	// Writes a header plus audio, then waits to be interrupted.
	e := loadedEngine(t, fw, shellRecorder("head -c 4000 /dev/zero > {output}; exec sleep 30"))

	captured := make(chan struct{})
	done := make(chan engine.Transcription, 1)
	go func() {
		res, err := e.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{
			SampleRate:  16000,
			MaxDuration: 20 * time.Second,
			OnCaptured:  func() { close(captured) },
		})
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.stopRec != nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	e.Stop()

	select {
	case res := <-done:
		<-captured
		assert.Equal(t, engine.Transcription{Success: true, Text: "turn on the lights"}, res)
	case <-time.After(10 * time.Second):
		t.Fatal("capture did not stop")
	}
	fw.mu.Lock()
	assert.Equal(t, []int{4000}, fw.uploads)
	fw.mu.Unlock()
}

func TestTranscribeFromMicrophone_EmptyCapture(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	fw := &fakeWhisper{text: "unused"}
	e := loadedEngine(t, fw, shellRecorder("head -c 44 /dev/zero > {output}"))

	res, err := e.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{MaxDuration: 5 * time.Second})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, fw.uploads)
}

func TestTranscribeFromMicrophone_ContextCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	fw := &fakeWhisper{}
	e := loadedEngine(t, fw, shellRecorder("exec sleep 30"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	_, err := e.TranscribeFromMicrophone(ctx, engine.CaptureParams{MaxDuration: 20 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscribeFromMicrophone_MissingRecorder(t *testing.T) {
	fw := &fakeWhisper{}
	e := loadedEngine(t, fw, []string{"offchat-no-such-recorder-binary"})
	_, err := e.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start recorder")
}

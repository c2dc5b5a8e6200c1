// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/engine/enginetest"
)

var loadParams = engine.LoadParams{ModelID: "qwen3-0.6", ContextSize: 4096, GPULayers: -1, CPUThreads: 4}

func plentyOfSpace(string) (uint64, error) { return 10 << 30, nil }

func newModel(t *testing.T, fake *enginetest.LanguageModel) *ModelController {
	t.Helper()
	return NewModelController(fake, ModelConfig{
		Storage: StorageCheck{Dir: t.TempDir(), FreeSpace: plentyOfSpace},
	}, zerolog.Nop())
}

// =============================================================================
// STATUS AND ERRORS
// =============================================================================

func TestStatusString(t *testing.T) {
	assert.Equal(t, "READY", StatusReady.String())
	assert.Equal(t, "TRANSCRIBING", StatusTranscribing.String())
	assert.Equal(t, "Status(42)", Status(42).String())

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("generating")))
	assert.Equal(t, StatusGenerating, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(ErrEngineInitFailed, EngineModel, "failed to load x", cause)

	assert.ErrorIs(t, err, ErrEngineInitFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEngineNotReady)
	assert.Equal(t, "failed to load x: connection refused", err.Error())
	assert.Equal(t, "connection refused", Reason(err))
	assert.True(t, err.EngineFault())

	plain := newError(ErrTranscriptionFailed, EngineSpeech, "No speech detected", nil)
	assert.Equal(t, "No speech detected", Reason(plain))
	assert.False(t, plain.EngineFault())
}

func TestStorageCheck(t *testing.T) {
	low := StorageCheck{Dir: t.TempDir(), FreeSpace: func(string) (uint64, error) { return 100 << 20, nil }}
	avail, err := low.Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageInsufficient)
	assert.Equal(t, uint64(100), avail)
	assert.Equal(t, "Insufficient storage: 100 MB available, 500 MB required. Please free up space.", err.Error())

	unknown := StorageCheck{Dir: t.TempDir(), FreeSpace: func(string) (uint64, error) { return 0, errors.New("statfs") }}
	_, err = unknown.Check()
	assert.NoError(t, err, "an unreadable disk must not block initialization")
}

func TestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, existingAncestor(dir+"/not/yet/created"))
}

// =============================================================================
// MODEL CONTROLLER
// =============================================================================

func TestInitialize_Transitions(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{Progress: []float64{0.5, 1}, InitGate: gate}
	c := newModel(t, fake)
	assert.Equal(t, StatusUninitialized, c.Status())

	done := make(chan error, 1)
	go func() { done <- c.Initialize(context.Background(), loadParams) }()

	require.Eventually(t, func() bool { return c.Status() == StatusLoading }, time.Second, time.Millisecond)
	assert.Equal(t, "Loading model: qwen3-0.6", c.Updates().Get().Message)
	assert.False(t, c.IsReady())

	close(gate)
	require.NoError(t, <-done)

	assert.True(t, c.IsReady())
	assert.Equal(t, []string{"download:qwen3-0.6", "initialize:qwen3-0.6"}, fake.Calls())
	assert.Equal(t, loadParams, fake.LastLoad())
	assert.Equal(t, "Model ready: qwen3-0.6", c.Updates().Get().Message)
	assert.Equal(t, ModelInfo{ModelID: "qwen3-0.6", ContextSize: 4096, Loaded: true, Status: StatusReady}, c.Info())
}

func TestInitialize_IdempotentWhenReady(t *testing.T) {
	fake := &enginetest.LanguageModel{}
	c := newModel(t, fake)
	require.NoError(t, c.Initialize(context.Background(), loadParams))
	require.NoError(t, c.Initialize(context.Background(), loadParams))
	assert.Equal(t, 1, fake.CallCount("initialize"))
	assert.Equal(t, 1, fake.CallCount("download"))
}

func TestInitialize_ConcurrentCallIsNoop(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{InitGate: gate}
	c := newModel(t, fake)

	first := make(chan error, 1)
	go func() { first <- c.Initialize(context.Background(), loadParams) }()

	require.Eventually(t, func() bool { return c.Status() == StatusLoading }, time.Second, time.Millisecond)
	assert.NoError(t, c.Initialize(context.Background(), loadParams), "second call returns at once")

	close(gate)
	require.NoError(t, <-first)
	assert.Equal(t, 1, fake.CallCount("initialize"))
}

func TestInitialize_AfterUnloadWaitsForOvertakenAttempt(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{InitGate: gate}
	c := newModel(t, fake)

	first := make(chan error, 1)
	go func() { first <- c.Initialize(context.Background(), loadParams) }()
	require.Eventually(t, func() bool { return c.Status() == StatusLoading }, time.Second, time.Millisecond)

	require.NoError(t, c.Unload(context.Background()))
	larger := loadParams
	larger.ModelID = "qwen3-1.7"
	second := make(chan error, 1)
	go func() { second <- c.Initialize(context.Background(), larger) }()

	assert.Never(t, func() bool { return fake.CallCount("download:qwen3-1.7") > 0 },
		50*time.Millisecond, 5*time.Millisecond, "waits for the running attempt")

	close(gate)
	err := <-first
	assert.ErrorIs(t, err, ErrEngineInitFailed)
	assert.ErrorIs(t, err, ErrUnloaded)
	require.NoError(t, <-second)

	assert.Equal(t, []string{
		"download:qwen3-0.6", "initialize:qwen3-0.6", "unload",
		"download:qwen3-1.7", "initialize:qwen3-1.7",
	}, fake.Calls())
	assert.True(t, c.IsReady())
	assert.Equal(t, "qwen3-1.7", c.Info().ModelID)
	assert.Equal(t, "Model ready: qwen3-1.7", c.Updates().Get().Message)
}

func TestInitialize_UnloadDuringDownloadStaysUninitialized(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{DownloadGate: gate, Progress: []float64{1}}
	c := newModel(t, fake)

	done := make(chan error, 1)
	go func() { done <- c.Initialize(context.Background(), loadParams) }()
	require.Eventually(t, func() bool { return fake.CallCount("download") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Unload(context.Background()))
	close(gate)

	assert.ErrorIs(t, <-done, ErrUnloaded)
	assert.Equal(t, StatusUninitialized, c.Status())
	assert.Equal(t, "Model unloaded", c.Updates().Get().Message)
	assert.Equal(t, 0, fake.CallCount("initialize"), "no load after the unload")
	assert.False(t, c.Info().Loaded)
}

func TestInitialize_StorageInsufficient(t *testing.T) {
	fake := &enginetest.LanguageModel{}
	c := NewModelController(fake, ModelConfig{
		Storage: StorageCheck{Dir: t.TempDir(), FreeSpace: func(string) (uint64, error) { return 10 << 20, nil }},
	}, zerolog.Nop())

	err := c.Initialize(context.Background(), loadParams)
	assert.ErrorIs(t, err, ErrStorageInsufficient)
	assert.Equal(t, StatusError, c.Status())
	assert.Empty(t, fake.Calls(), "nothing is downloaded without space")
}

func TestInitialize_DownloadFailure(t *testing.T) {
	cause := errors.New("network unreachable")
	fake := &enginetest.LanguageModel{DownloadErr: cause}
	c := newModel(t, fake)

	err := c.Initialize(context.Background(), loadParams)
	assert.ErrorIs(t, err, ErrEngineDownloadFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StatusError, c.Status())
	assert.Equal(t, "Download failed: network unreachable", c.Updates().Get().Message)
	assert.Zero(t, fake.CallCount("initialize"))
}

func TestInitialize_LoadFailureThenRetry(t *testing.T) {
	cause := errors.New("out of memory")
	fake := &enginetest.LanguageModel{InitErr: cause}
	c := newModel(t, fake)

	err := c.Initialize(context.Background(), loadParams)
	assert.ErrorIs(t, err, ErrEngineInitFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StatusError, c.Status())
	assert.False(t, c.IsReady())

	fake.Set(func(f *enginetest.LanguageModel) { f.InitErr = nil })
	require.NoError(t, c.Initialize(context.Background(), loadParams))
	assert.True(t, c.IsReady())
}

func TestDownload_ProgressMessages(t *testing.T) {
	fake := &enginetest.LanguageModel{Progress: []float64{0.1, 0.2, 1.0}}
	c := NewModelController(fake, ModelConfig{ProgressInterval: time.Hour}, zerolog.Nop())

	var mu sync.Mutex
	var msgs []string
	ctx, cancel := context.WithCancel(context.Background())
	watching := make(chan struct{})
	go func() {
		close(watching)
		c.Updates().Watch(ctx, func(u StatusUpdate) {
			mu.Lock()
			msgs = append(msgs, u.Message)
			mu.Unlock()
		})
	}()
	<-watching

	require.NoError(t, c.Download(context.Background(), "qwen3-0.6"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) > 0 && msgs[len(msgs)-1] == "Downloading model: 100%"
	}, time.Second, time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	for _, m := range msgs {
		assert.NotEqual(t, "Downloading model: 20%", m, "updates inside the interval are throttled")
	}
}

func TestGenerate_NotReady(t *testing.T) {
	fake := &enginetest.LanguageModel{Tokens: []string{"x"}}
	c := newModel(t, fake)

	_, err := c.Generate(context.Background(), GenerateRequest{}, nil)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.Zero(t, fake.CallCount("generate"))
}

func TestGenerate_StreamsInOrder(t *testing.T) {
	fake := &enginetest.LanguageModel{Tokens: []string{"Hel", "lo", " there"}}
	c := newModel(t, fake)
	require.NoError(t, c.Initialize(context.Background(), loadParams))

	var got []string
	out, err := c.Generate(context.Background(), GenerateRequest{
		Turns:        []engine.Turn{{Role: "user", Content: "hi"}},
		SystemPrompt: "be nice",
		Sampling:     engine.SamplingParams{Temperature: 0.3, MaxTokens: 64},
	}, func(tok string) { got = append(got, tok) })

	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)
	assert.Equal(t, []string{"Hel", "lo", " there"}, got)
	assert.Equal(t, StatusReady, c.Status())
	assert.Equal(t, "Response complete", c.Updates().Get().Message)

	turns := fake.LastTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, engine.Turn{Role: "system", Content: "be nice"}, turns[0])
	assert.Equal(t, engine.SamplingParams{Temperature: 0.3, MaxTokens: 64}, fake.LastSampling())
}

func TestGenerate_SecondCallWhileGeneratingIsRejected(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{Tokens: []string{"a"}, TokenGate: gate}
	c := newModel(t, fake)
	require.NoError(t, c.Initialize(context.Background(), loadParams))

	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), GenerateRequest{}, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Status() == StatusGenerating }, time.Second, time.Millisecond)

	_, err := c.Generate(context.Background(), GenerateRequest{}, nil)
	assert.ErrorIs(t, err, ErrEngineNotReady)

	close(gate)
	assert.NoError(t, <-done)
}

func TestGenerate_FailureSetsError(t *testing.T) {
	cause := errors.New("decode error")
	fake := &enginetest.LanguageModel{Tokens: []string{"a", "b", "c"}, GenerateErr: cause, FailAfter: 2}
	c := newModel(t, fake)
	require.NoError(t, c.Initialize(context.Background(), loadParams))

	var got []string
	_, err := c.Generate(context.Background(), GenerateRequest{}, func(tok string) { got = append(got, tok) })
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, StatusError, c.Status())
	assert.True(t, strings.HasPrefix(c.Updates().Get().Message, "Generation failed"))
}

func TestUnload_InvalidatesInFlightCallbacks(t *testing.T) {
	gate := make(chan struct{})
	fake := &enginetest.LanguageModel{Tokens: []string{"one", "two"}, TokenGate: gate}
	c := newModel(t, fake)
	require.NoError(t, c.Initialize(context.Background(), loadParams))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Generate(context.Background(), GenerateRequest{}, func(tok string) {
			mu.Lock()
			got = append(got, tok)
			mu.Unlock()
		})
	}()

	gate <- struct{}{}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Unload(context.Background()))
	gate <- struct{}{}
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one"}, got, "tokens after unload are dropped")
	assert.Equal(t, StatusUninitialized, c.Status())
}

func TestUnload_FromAnyState(t *testing.T) {
	fake := &enginetest.LanguageModel{UnloadErr: errors.New("not loaded")}
	c := newModel(t, fake)

	err := c.Unload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusUninitialized, c.Status())
	assert.Equal(t, "Model unloaded", c.Updates().Get().Message)
	assert.False(t, c.IsReady())
}

// =============================================================================
// SPEECH CONTROLLER
// =============================================================================

func TestSpeechInitialize(t *testing.T) {
	fake := enginetest.NewSpeech("hello")
	c := NewSpeechController(fake, zerolog.Nop())

	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))
	assert.True(t, c.IsReady())
	assert.True(t, c.Ready().Get())
	assert.Equal(t, "whisper-small", c.ModelID())
	assert.Equal(t, []string{"download:whisper-small", "initialize:whisper-small"}, fake.Calls())

	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))
	assert.Len(t, fake.Calls(), 2, "already ready")
}

func TestSpeechInitialize_SkipsDownloadWhenPresent(t *testing.T) {
	fake := enginetest.NewSpeech("hello")
	fake.Downloaded["whisper-tiny"] = true
	c := NewSpeechController(fake, zerolog.Nop())

	require.NoError(t, c.Initialize(context.Background(), "whisper-tiny"))
	assert.Equal(t, []string{"initialize:whisper-tiny"}, fake.Calls())
}

func TestSpeechInitialize_Failure(t *testing.T) {
	fake := enginetest.NewSpeech("")
	fake.InitErr = errors.New("bad model file")
	c := NewSpeechController(fake, zerolog.Nop())

	err := c.Initialize(context.Background(), "whisper-small")
	assert.ErrorIs(t, err, ErrEngineInitFailed)
	assert.Equal(t, StatusError, c.Status())
	assert.False(t, c.Ready().Get())
}

func TestTranscribe_NotReady(t *testing.T) {
	c := NewSpeechController(enginetest.NewSpeech("x"), zerolog.Nop())
	_, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{})
	assert.ErrorIs(t, err, ErrEngineNotReady)
}

func TestTranscribe_RecordingThenTranscribing(t *testing.T) {
	fake := enginetest.NewSpeech("  hello world ")
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	captured := make(chan Status, 1)
	go func() {
		text, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{
			SampleRate: 16000,
			OnCaptured: func() { captured <- c.Status() },
		})
		done <- result{text, err}
	}()

	<-fake.Started
	assert.Equal(t, StatusRecording, c.Status())
	assert.True(t, c.Ready().Get(), "readiness holds while recording")

	c.Stop()
	assert.Equal(t, StatusTranscribing, <-captured)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "hello world", r.text)
	assert.Equal(t, StatusReady, c.Status())
}

func TestTranscribe_BlankResult(t *testing.T) {
	fake := enginetest.NewSpeech("   ")
	fake.AutoFinish = true
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	_, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{})
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, "No speech detected", Reason(err))
	assert.Equal(t, StatusReady, c.Status(), "engine stays usable")
}

func TestTranscribe_EngineReportedFailure(t *testing.T) {
	fake := enginetest.NewSpeech("")
	fake.AutoFinish = true
	fake.Result = engine.Transcription{Success: false, Text: "audio too short"}
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	_, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{})
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, "audio too short", Reason(err))
}

func TestTranscribe_EngineError(t *testing.T) {
	cause := errors.New("device busy")
	fake := enginetest.NewSpeech("")
	fake.AutoFinish = true
	fake.CaptureErr = cause
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	_, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{})
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StatusError, c.Status())
	assert.False(t, c.Ready().Get())
}

func TestTranscribeFile(t *testing.T) {
	fake := enginetest.NewSpeech("from a file")
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	text, err := c.TranscribeFile(context.Background(), "/tmp/clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "from a file", text)
	assert.Contains(t, fake.Calls(), "file:/tmp/clip.wav")
}

func TestSpeechCleanup(t *testing.T) {
	fake := enginetest.NewSpeech("x")
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	require.NoError(t, c.Cleanup(context.Background()))
	assert.Equal(t, StatusUninitialized, c.Status())
	assert.False(t, c.Ready().Get())
	assert.Empty(t, c.ModelID())
}

func TestSpeechCleanup_DuringCaptureStaysUninitialized(t *testing.T) {
	fake := enginetest.NewSpeech("late words")
	c := NewSpeechController(fake, zerolog.Nop())
	require.NoError(t, c.Initialize(context.Background(), "whisper-small"))

	done := make(chan error, 1)
	go func() {
		_, err := c.TranscribeFromMicrophone(context.Background(), engine.CaptureParams{SampleRate: 16000})
		done <- err
	}()
	<-fake.Started

	require.NoError(t, c.Cleanup(context.Background()))
	require.NoError(t, <-done)

	assert.Equal(t, StatusUninitialized, c.Status())
	assert.Equal(t, "Whisper unloaded", c.Updates().Get().Message)
	assert.False(t, c.IsReady())
	assert.False(t, c.Ready().Get())
}

func TestSpeechInitialize_CleanupDuringLoad(t *testing.T) {
	gate := make(chan struct{})
	fake := enginetest.NewSpeech("x")
	fake.InitGate = gate
	fake.Downloaded["whisper-small"] = true
	fake.Downloaded["whisper-base"] = true
	c := NewSpeechController(fake, zerolog.Nop())

	first := make(chan error, 1)
	go func() { first <- c.Initialize(context.Background(), "whisper-small") }()
	require.Eventually(t, func() bool { return c.Status() == StatusLoading }, time.Second, time.Millisecond)

	require.NoError(t, c.Cleanup(context.Background()))
	second := make(chan error, 1)
	go func() { second <- c.Initialize(context.Background(), "whisper-base") }()

	close(gate)
	assert.ErrorIs(t, <-first, ErrUnloaded)
	require.NoError(t, <-second)

	assert.Equal(t, "whisper-base", c.ModelID())
	assert.True(t, c.IsReady())
	assert.True(t, c.Ready().Get())
	assert.Equal(t, "Whisper ready: whisper-base", c.Updates().Get().Message)
}

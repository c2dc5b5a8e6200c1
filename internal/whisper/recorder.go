// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/offchat/internal/engine"
)

// wavHeaderSize is the size of a canonical PCM WAV header; a file no larger
// than this holds no audio.
const wavHeaderSize = 44

// DefaultRecorder returns the capture command for this platform. Arguments
// may contain {rate}, {seconds} and {output}, replaced at capture time.
func DefaultRecorder() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{"arecord", "-q", "-f", "S16_LE", "-c", "1", "-r", "{rate}", "-d", "{seconds}", "{output}"}
	case "windows":
		return []string{"ffmpeg", "-loglevel", "error", "-f", "dshow", "-i", "audio=default",
			"-ac", "1", "-ar", "{rate}", "-t", "{seconds}", "-y", "{output}"}
	default:
		return []string{"rec", "-q", "-r", "{rate}", "-c", "1", "-b", "16", "{output}", "trim", "0", "{seconds}"}
	}
}

// expandRecorder fills the placeholders of a recorder template.
func expandRecorder(tmpl []string, rate int, limit time.Duration, output string) []string {
	seconds := int(limit.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(rate),
		"{seconds}", strconv.Itoa(seconds),
		"{output}", output,
	)
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		out[i] = r.Replace(arg)
	}
	return out
}

// TranscribeFromMicrophone records until Stop is called or MaxDuration
// elapses, then transcribes the recording. Cancelling ctx abandons the
// capture and returns ctx's error.
func (e *Engine) TranscribeFromMicrophone(ctx context.Context, params engine.CaptureParams) (engine.Transcription, error) {
	if params.SampleRate <= 0 {
		params.SampleRate = 16000
	}
	if params.MaxDuration <= 0 {
		params.MaxDuration = 60 * time.Second
	}

	dir, err := os.MkdirTemp("", "offchat-rec-")
	if err != nil {
		return engine.Transcription{}, fmt.Errorf("create capture dir: %w", err)
	}
	defer os.RemoveAll(dir)
	wav := filepath.Join(dir, "capture.wav")

	recCtx, stop := context.WithCancel(ctx)
	defer stop()
	e.mu.Lock()
	if e.stopRec != nil {
		e.mu.Unlock()
		return engine.Transcription{}, errors.New("capture already in progress")
	}
	e.stopRec = stop
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stopRec = nil
		e.mu.Unlock()
	}()

	args := expandRecorder(e.cfg.Recorder, params.SampleRate, params.MaxDuration, wav)
	cmd := exec.CommandContext(recCtx, args[0], args[1:]...)
	// Interrupt rather than kill so the recorder finalizes the WAV header.
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = 3 * time.Second

	e.log.Debug().Strs("cmd", args).Msg("starting recorder")
	if err := cmd.Start(); err != nil {
		return engine.Transcription{}, fmt.Errorf("start recorder %s: %w", args[0], err)
	}

	// A little over MaxDuration in case the recorder ignores its own limit.
	timer := time.AfterFunc(params.MaxDuration+2*time.Second, stop)
	waitErr := cmd.Wait()
	timer.Stop()

	if err := ctx.Err(); err != nil {
		return engine.Transcription{}, err
	}
	if params.OnCaptured != nil {
		params.OnCaptured()
	}

	info, statErr := os.Stat(wav)
	if statErr != nil || info.Size() <= wavHeaderSize {
		if waitErr != nil && recCtx.Err() == nil {
			return engine.Transcription{}, fmt.Errorf("recorder failed: %w", waitErr)
		}
		return engine.Transcription{Success: false, Text: "No audio captured"}, nil
	}
	if waitErr != nil && recCtx.Err() == nil {
		e.log.Warn().Err(waitErr).Msg("recorder exited with error; transcribing what was captured")
	}

	return e.TranscribeFile(ctx, wav)
}

// Stop ends the capture in progress, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.stopRec
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

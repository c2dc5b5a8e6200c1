// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// findOllamaExecutable looks on PATH first, then in the platform's usual
// install locations.
func findOllamaExecutable() (string, error) {
	for _, name := range executableNames() {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	candidates := installLocations()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ollama not found in PATH or in %s; please install Ollama",
		strings.Join(candidates, ", "))
}

// startOllamaProcess launches `ollama serve` detached from this process and
// polls until it answers or StartupWait elapses.
func (c *Client) startOllamaProcess(ctx context.Context) error {
	ollamaPath, err := findOllamaExecutable()
	if err != nil {
		return &ClientError{Type: ErrTypeNotRunning, Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(ollamaPath, "serve")
	// GPU selection variables such as OLLAMA_VULKAN must reach the server.
	cmd.Env = os.Environ()
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", ollamaPath),
			Cause:   err,
		}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	c.log.Info().Str("path", ollamaPath).Msg("starting Ollama service")
	start := time.Now()
	deadline := start.Add(c.config.StartupWait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		lastErr = c.CheckRunning(checkCtx)
		cancel()
		if lastErr == nil {
			c.log.Info().Dur("elapsed", time.Since(start)).Msg("Ollama service started")
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeConnection, Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &ClientError{
		Type:    ErrTypeNotRunning,
		Message: fmt.Sprintf("Ollama started but not responding after %s (path: %s)", c.config.StartupWait, ollamaPath),
		Cause:   lastErr,
	}
}

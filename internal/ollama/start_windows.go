// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package ollama

import (
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

func executableNames() []string {
	return []string{"ollama.exe", "ollama"}
}

func installLocations() []string {
	var paths []string
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		paths = append(paths, filepath.Join(local, "Programs", "Ollama", "ollama.exe"))
	}
	paths = append(paths,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		paths = append(paths,
			filepath.Join(profile, "Ollama", "ollama.exe"),
			filepath.Join(profile, ".ollama", "ollama.exe"),
		)
	}
	return paths
}

// detachedProcAttr starts the server without a console window and outside
// our process group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW | windows.DETACHED_PROCESS,
	}
}

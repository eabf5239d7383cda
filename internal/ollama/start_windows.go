// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package ollama

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

const (
	createNoWindow  = 0x08000000
	detachedProcess = 0x00000008
)

// findOllamaExecutable searches PATH and the usual install locations.
func findOllamaExecutable() (string, error) {
	for _, name := range []string{"ollama.exe", "ollama"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	var candidates []string
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "Programs", "Ollama", "ollama.exe"))
	}
	candidates = append(candidates,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf(`ollama.exe not found in PATH, %%LOCALAPPDATA%%\Programs\Ollama or C:\Program Files\Ollama`)
}

// detach starts the child without a console in its own process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow | detachedProcess,
	}
}

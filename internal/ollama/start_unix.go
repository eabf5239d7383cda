// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// findOllamaExecutable searches PATH and the usual install locations.
func findOllamaExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	candidates := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
		"/Applications/Ollama.app/Contents/Resources/ollama",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ollama not found in PATH, /usr/local/bin, /usr/bin or ~/.local/bin")
}

// detach puts the child in its own process group so it outlives us.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

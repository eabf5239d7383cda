// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// startupWait bounds how long StartServer polls for a freshly spawned server.
const startupWait = 15 * time.Second

// EnsureRunning checks if Ollama is running, and starts it if not.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if err := c.CheckRunning(ctx); err == nil {
		return nil
	}
	return c.StartServer(ctx)
}

// StartServer launches "ollama serve" as a detached background process and
// waits until it answers.
func (c *Client) StartServer(ctx context.Context) error {
	path, err := findOllamaExecutable()
	if err != nil {
		return &ClientError{Kind: KindNetworkUnavailable, Message: "failed to find Ollama executable", Cause: err}
	}

	cmd := exec.Command(path, "serve")
	// GPU settings such as OLLAMA_VULKAN must reach the child.
	cmd.Env = os.Environ()
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Kind:    KindNetworkUnavailable,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", path),
			Cause:   err,
		}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	c.log.Info("starting Ollama", zap.String("path", path))
	return c.waitReady(ctx, path)
}

func (c *Client) waitReady(ctx context.Context, path string) error {
	start := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for time.Since(start) < startupWait {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		lastErr = c.CheckRunning(checkCtx)
		cancel()
		if lastErr == nil {
			c.log.Info("Ollama started", zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Kind: KindNetworkUnavailable, Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	return &ClientError{
		Kind:    KindNetworkUnavailable,
		Message: fmt.Sprintf("Ollama started but not responding after %s (path: %s)", startupWait, path),
		Cause:   lastErr,
	}
}

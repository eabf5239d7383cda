// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_FileSinkAndHotLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chirai.log")
	l, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", zap.String("model", "gemma3:1b"))

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	l.Debug("now visible")
	l.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "gemma3:1b")
	assert.Contains(t, out, "now visible")
}

func TestNew_QuietWithoutFileIsNop(t *testing.T) {
	l, err := New(Options{Quiet: true})
	require.NoError(t, err)
	assert.NotPanics(t, func() { l.Info("dropped") })
	assert.Error(t, l.SetLevel("loud"))
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "verbose"})
	assert.Error(t, err)
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("hello, world!"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello, world!", string(content))
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "test.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("test data"), 0644))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("initial"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("updated"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(content))
}

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.json")

	for i := 0; i < 3; i++ {
		require.NoError(t, AtomicWriteFile(path, []byte("{}"), 0600))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		input    string
		maxRunes int
		want     string
	}{
		{"hello world", 5, "he..."},
		{"hello", 5, "hello"},
		{"", 5, ""},
		{"hello world", 0, ""},
		{"abcd", 3, "abc"},
		{"こんにちは世界", 5, "こん..."},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, TruncateRunes(tc.input, tc.maxRunes))
		})
	}
}

func TestTruncateRunesNoEllipsis(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunesNoEllipsis("hello world", 5))
	assert.Equal(t, "日本", TruncateRunesNoEllipsis("日本語", 2))
	assert.Equal(t, "", TruncateRunesNoEllipsis("hello", 0))
}

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "hello", TruncateWidth("hello", 10))
	assert.Equal(t, "he...", TruncateWidth("hello world", 5))
	assert.LessOrEqual(t, StringWidth(TruncateWidth("日本語テキスト", 7)), 7)
	assert.Equal(t, "", TruncateWidth("hello", 0))
}

func TestStringWidth(t *testing.T) {
	assert.Equal(t, 5, StringWidth("hello"))
	assert.Equal(t, 6, StringWidth("日本語"))
	assert.Equal(t, 9, StringWidth("hello世界"))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", OneLine("  a\n\tb   c \n"))
	assert.Equal(t, "", OneLine(" \n "))
}

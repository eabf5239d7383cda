// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enablerdao/ChirAI/internal/model"
)

// storeFactories lets every test run against both backends.
var storeFactories = map[string]func(t *testing.T) Store{
	"json": func(t *testing.T) Store {
		s, err := NewJSONStore(t.TempDir())
		require.NoError(t, err)
		return s
	},
	"sqlite": func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chirai.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// richConversation exercises every persisted Message field.
func richConversation() *model.Conversation {
	conv := model.NewConversation("m1")
	conv.Welcome = "Welcome"
	conv.Append(model.NewUserMessage("Hello"))

	reply := model.NewAssistantMessage("Hi there", "m1")
	reply.Metadata = &model.Metadata{
		PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5,
		ResponseTime: 1500 * time.Millisecond, Attempts: 2, Language: "en",
	}
	reply.Attachments = []model.Attachment{{
		ID: "a1", FileName: "notes.txt", FileType: "text/plain", FileSize: 42, URL: "file:///tmp/notes.txt",
	}}
	reply.Reactions = []model.Reaction{{ID: "r1", Emoji: "🌸", UserID: "u1", Timestamp: time.Now()}}
	stored := conv.Append(reply)
	_, _ = conv.Edit(stored.ID, "Hi there, edited")

	conv.Append(model.NewErrorMessage("サーバーエラー", "ServerError"))
	conv.Append(model.NewSystemMessage("Switched model to m2."))
	return conv
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestStore_RoundTripLossless(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := richConversation()

		require.NoError(t, s.Save(ctx, conv))
		got, err := s.Load(ctx, conv.ID)
		require.NoError(t, err)

		if diff := cmp.Diff(conv.Messages, got.Messages); diff != "" {
			t.Errorf("messages mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, conv.Model, got.Model)
		assert.Equal(t, conv.Welcome, got.Welcome)
		assert.True(t, conv.UpdatedAt.Equal(got.UpdatedAt))
	})
}

func TestStore_SaveReplaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := model.NewConversation("m1")
		conv.Append(model.NewUserMessage("one"))
		require.NoError(t, s.Save(ctx, conv))

		conv.Append(model.NewUserMessage("two"))
		require.NoError(t, s.Save(ctx, conv))

		got, err := s.Load(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Len())

		metas, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, metas, 1)
	})
}

func TestStore_LoadMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Load(context.Background(), "does-not-exist")
		assert.True(t, errors.Is(err, ErrConversationNotFound))
	})
}

// =============================================================================
// LIST / SEARCH / DELETE
// =============================================================================

func TestStore_ListNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			conv := model.NewConversation("m1")
			conv.Append(model.NewUserMessage(fmt.Sprintf("conversation %d", i)))
			conv.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.Save(ctx, conv))
		}

		metas, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, metas, 3)
		assert.Equal(t, "conversation 2", metas[0].Summary)
		assert.Equal(t, "conversation 0", metas[2].Summary)
		assert.Equal(t, 1, metas[0].MessageCount)
	})
}

func TestStore_Search(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := model.NewConversation("m1")
		a.Append(model.NewUserMessage("Tell me about KYOTO temples"))
		a.UpdatedAt = time.Now().Add(-time.Minute)
		b := model.NewConversation("m1")
		b.Append(model.NewUserMessage("Weather in Tokyo"))
		b.Append(model.NewAssistantMessage("Kyoto is nearby", "m1"))
		require.NoError(t, s.Save(ctx, a))
		require.NoError(t, s.Save(ctx, b))

		results, err := s.Search(ctx, "kyoto")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, b.ID, results[0].ID)

		results, err = s.Search(ctx, "weather")
		require.NoError(t, err)
		assert.Len(t, results, 1)

		results, err = s.Search(ctx, "  ")
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := model.NewConversation("m1")
		require.NoError(t, s.Save(ctx, conv))

		require.NoError(t, s.Delete(ctx, conv.ID))
		assert.True(t, errors.Is(s.Delete(ctx, conv.ID), ErrConversationNotFound))
	})
}

func TestStore_PruneOlderThan(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		old := model.NewConversation("m1")
		old.UpdatedAt = time.Now().AddDate(0, 0, -45)
		fresh := model.NewConversation("m1")
		require.NoError(t, s.Save(ctx, old))
		require.NoError(t, s.Save(ctx, fresh))

		n, err := s.PruneOlderThan(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.PruneOlderThan(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		metas, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, metas, 1)
		assert.Equal(t, fresh.ID, metas[0].ID)
	})
}

func TestStore_MaxConversations(t *testing.T) {
	ctx := context.Background()
	js, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	js.MaxConversations = 2
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer sq.Close()
	sq.MaxConversations = 2

	for _, s := range []Store{js, sq} {
		var ids []string
		for i := 0; i < 3; i++ {
			conv := model.NewConversation("m1")
			conv.UpdatedAt = time.Now().Add(time.Duration(i) * time.Second)
			require.NoError(t, s.Save(ctx, conv))
			ids = append(ids, conv.ID)
		}
		metas, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, metas, 2)
		_, err = s.Load(ctx, ids[0])
		assert.True(t, errors.Is(err, ErrConversationNotFound))
	}
}

func TestJSONStore_LimitKeepsRecentlyUpdated(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	s.MaxConversations = 2

	base := time.Now().Add(-time.Hour)
	a := model.NewConversation("m1")
	a.UpdatedAt = base
	require.NoError(t, s.Save(ctx, a))
	b := model.NewConversation("m1")
	b.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.Save(ctx, b))

	// Re-saving an existing conversation never evicts anything.
	a.UpdatedAt = base.Add(2 * time.Minute)
	require.NoError(t, s.Save(ctx, a))
	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)

	c := model.NewConversation("m1")
	c.UpdatedAt = base.Add(3 * time.Minute)
	require.NoError(t, s.Save(ctx, c))

	metas, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, c.ID, metas[0].ID)
	assert.Equal(t, a.ID, metas[1].ID)
	_, err = s.Load(ctx, b.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestJSONStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "../etc/passwd")
	assert.True(t, errors.Is(err, ErrInvalidID))
}

// =============================================================================
// PREFERENCES
// =============================================================================

func TestStore_Preferences(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		prefs, err := s.LoadPreferences(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultPreferences(), prefs)

		prefs.PreferredModel = "qwen2.5:3b"
		prefs.Theme = ThemeLight
		prefs.Language = "ja"
		prefs.EnableHaptics = false
		require.NoError(t, s.SavePreferences(ctx, prefs))

		got, err := s.LoadPreferences(ctx)
		require.NoError(t, err)
		assert.Equal(t, prefs, got)
	})
}

func TestPreferences_Normalize(t *testing.T) {
	p := Preferences{Theme: "neon", FontSize: "huge", MaxHistoryDays: -3, Language: "fr"}.Normalize()
	assert.Equal(t, ThemeDark, p.Theme)
	assert.Equal(t, FontMedium, p.FontSize)
	assert.Equal(t, 0, p.MaxHistoryDays)
	assert.Equal(t, "en", p.Language)
	assert.Equal(t, "gemma3:1b", p.PreferredModel)
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	dst, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dst.db"))
	require.NoError(t, err)
	defer dst.Close()

	conv := richConversation()
	require.NoError(t, src.Save(ctx, conv))
	prefs := DefaultPreferences()
	prefs.Language = "ja"
	require.NoError(t, src.SavePreferences(ctx, prefs))

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, src, &buf))

	n, err := Import(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := dst.Load(ctx, conv.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(conv.Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	gotPrefs, err := dst.LoadPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ja", gotPrefs.Language)
}

func TestImport_RejectsNewerVersion(t *testing.T) {
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	_, err = Import(context.Background(), s, strings.NewReader(`{"version": 99, "conversations": []}`))
	assert.Error(t, err)
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(richConversation())
	assert.Contains(t, md, "# Hello")
	assert.Contains(t, md, "**You**")
	assert.Contains(t, md, "**Assistant** _m1_")
	assert.Contains(t, md, "Hi there, edited")
}

func TestExportHTML(t *testing.T) {
	conv := richConversation()
	conv.Append(model.NewAssistantMessage("See <this>:\n\n```go\nfunc main() {}\n```\n\nand `x < y`.", "m1"))

	page := ExportHTML(conv)
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>Hello</title>")
	assert.Contains(t, page, "See &lt;this&gt;:")
	assert.Contains(t, page, "<code>x &lt; y</code>")
	assert.Contains(t, page, `<div class="lang">go</div>`)
	assert.NotContains(t, page, "<this>")
}

func TestExportHTML_EscapesLanguage(t *testing.T) {
	out := formatHTMLContent("```<script>\nalert(1)\n```")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "alert(1)")
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No conversations found.", FormatSessionList(nil))

	out := FormatSessionList([]ConversationMeta{{
		ID: "0190f0a4-1234-7abc-8def-0123456789ab", Summary: "日本語のテスト", Model: "gemma3:1b", MessageCount: 4,
	}})
	assert.Contains(t, out, "456789ab")
	assert.Contains(t, out, "日本語のテスト")
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	conv := model.NewConversation("m1")
	require.NoError(t, s.Save(ctx, conv))

	id, err := ResolveID(ctx, s, shortID(conv.ID))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, id)

	_, err = ResolveID(ctx, s, "zzzzzzzz")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

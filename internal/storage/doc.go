// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations and user preferences.
//
// Two Store implementations are provided:
//
//   - JSONStore: one JSON document per conversation under a directory,
//     written atomically (temp file + fsync + rename)
//   - SQLiteStore: a single SQLite database using the pure Go driver
//
// Both round-trip every Message field losslessly, list conversations most
// recently updated first, and keep at most MaxConversations entries.
//
// # Usage
//
//	store, err := storage.NewJSONStore(filepath.Join(home, ".chirai", "conversations"))
//	if err != nil {
//	    return err
//	}
//	if err := store.Save(ctx, conv); err != nil {
//	    return err
//	}
//	metas, _ := store.List(ctx)
//
// Export and Import move the whole history between stores as one JSON
// document.
package storage

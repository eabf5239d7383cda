// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// A Conversation is plain transcript state with no locking of its own; the
// session controller owns one and serializes every mutation.
//
// # Key Types
//
//   - Conversation: ordered transcript, active model, FIFO message cap
//   - Message: one entry with role, content, timestamp and the model that produced it
//   - Attachment, Reaction, Metadata: optional message decorations
//   - Role: user, assistant or system
//
// # Usage
//
//	conv := model.NewConversation("gemma3:1b")
//	conv.Append(model.NewUserMessage("Hello!"))
//	for _, m := range conv.Search("hello") {
//	    fmt.Println(m.Role, m.Content)
//	}
package model

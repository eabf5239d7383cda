// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the terminal chat screen.
//
// The screen is a Bubble Tea model that subscribes to a session.Controller
// and renders each published snapshot. It never edits the transcript: Enter
// calls SendMessage, and the reply shows up as a controller event. While a
// reply is pending the input stays editable but Enter does not send.
//
// Slash commands:
//
//	/model [name]   show or switch the model (checked against Ollama)
//	/models         list installed models
//	/clear          clear the conversation
//	/search [text]  filter the view; no argument shows everything
//	/copy           copy the last reply to the clipboard
//	/help           toggle the key help
//	/quit           exit
package chat

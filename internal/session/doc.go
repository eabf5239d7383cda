// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns live conversations.
//
// A Controller serializes every change to one conversation: it appends the
// user message, guards against overlapping requests, runs the completion on
// its own goroutine and appends exactly one reply (or localized error) when
// the request resolves. Observers subscribe to a per-subscriber ordered event
// stream carrying transcript snapshots.
//
// # Key Types
//
//   - Controller: one conversation, Idle or AwaitingResponse
//   - Manager: controllers keyed by channel ID, sharing client, cache and store
//   - AutoSaver: writes each snapshot of a controller to a storage.Store
//   - RetryPolicy: bounded retry for transient failures
//
// # Usage
//
//	ctrl := session.New(client, session.Options{Model: "gemma3:1b"})
//	defer ctrl.Close()
//
//	out, err := ctrl.Send(ctx, "Hello")
//	if errors.Is(err, session.ErrBusy) {
//	    // a request is already in flight
//	}
//	fmt.Println(out.Reply.Content)
package session

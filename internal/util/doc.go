// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across ChirAI packages.
//
//   - AtomicWriteFile: crash-safe file replacement (temp file + fsync + rename)
//   - TruncateRunes / TruncateWidth: Unicode-safe truncation for previews and titles
//   - OneLine: collapses whitespace so previews fit on a single line
package util

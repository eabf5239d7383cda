// ChirAI - private chat with local Ollama models.
//
// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/enablerdao/ChirAI/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

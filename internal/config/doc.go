// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ChirAI.
//
// TOML, JSON and YAML files are supported, with defaults, environment
// variable overrides, validation, and live reload.
//
// # Key Types
//
//   - Config: main configuration structure with all settings
//   - LocalConfig: Ollama server address, timeouts, endpoint mode
//   - SessionConfig: transcript cap, welcome message, language
//   - RetryConfig, CacheConfig, StorageConfig, ServerConfig, LogConfig
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHIRAI_*, OLLAMA_URL, TEST_MODE, MOCK_MODE)
//   - ~/.chirai/config.toml
//   - ~/.chirai/config.json
//   - ~/.chirai/config.yaml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go config.Watch(ctx, path, func(cfg *config.Config, err error) { ... })
package config

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zap loggers used across ChirAI.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level       string // debug, info, warn or error
	Development bool   // console encoding and caller stack traces
	File        string // log to this file instead of stderr
	Quiet       bool   // discard output unless File is set; used by the TUI
}

// Logger bundles a zap logger with the level that controls it.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a logger. The returned level can be changed at runtime with SetLevel.
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	if opts.Quiet && opts.File == "" {
		return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(lvl)}, nil
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Logger{Logger: logger.Named("chirai"), level: cfg.Level}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Level returns the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// SetLevel changes the level of a running logger.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Close flushes buffered entries.
func (l *Logger) Close() {
	_ = l.Logger.Sync()
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

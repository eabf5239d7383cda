// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/config"
)

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func newConfigCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, locate or create the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(opts)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(opts)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.Out, p)
			return nil
		},
	}

	var (
		force  bool
		format string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configInit(opts, format, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&format, "format", "toml", "file format: toml, json or yaml")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(opts.Out, RenderStatus(true), "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, validate)
	return cmd
}

func configShow(opts *Options) error {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.JSON {
		redacted := cfg.Clone()
		if redacted.Cache.RedisPassword != "" {
			redacted.Cache.RedisPassword = "[REDACTED]"
		}
		return outputJSON(opts.Out, "config show", redacted)
	}
	fmt.Fprintln(opts.Out, DimStyle.Render("# "+path))
	fmt.Fprintln(opts.Out, cfg.String())
	return nil
}

func configInit(opts *Options, format string, force bool) error {
	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = config.ConfigDir(); err != nil {
			return err
		}
	}

	var save func(*config.Config, string) error
	switch strings.ToLower(format) {
	case "toml":
		save = config.SaveTOML
	case "json":
		save = config.SaveJSON
	case "yaml", "yml":
		format, save = "yaml", config.SaveYAML
	default:
		return &ValidationError{Field: "format", Value: format, Reason: "unsupported config format", Example: "--format toml"}
	}

	path := filepath.Join(dir, "config."+strings.ToLower(format))
	if _, err := os.Stat(path); err == nil && !force {
		return NewCommandError("config", "init", fmt.Errorf("%s already exists (use --force to overwrite)", path))
	}
	cfg := config.Default()
	// The default history dir follows the config dir.
	cfg.Storage.Dir = filepath.Join(dir, "history")
	if err := save(cfg, path); err != nil {
		return NewCommandError("config", "init", err)
	}
	fmt.Fprintln(opts.Out, SuccessStyle.Render("[OK]"), "Wrote", path)
	return nil
}

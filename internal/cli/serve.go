// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/config"
	"github.com/enablerdao/ChirAI/internal/server"
)

// =============================================================================
// SERVE COMMAND
// =============================================================================

type serveFlags struct {
	addr     string
	token    string
	allowIPs []string
	cors     []string
	rate     float64
	burst    int
	noReload bool
}

func newServeCommand(opts *Options) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API",
		Long: `Serve channels, models and agent tasks over HTTP.

Each channel is a conversation restored from history on first use. The
config file is watched; log level and default model changes apply without
a restart.`,
		Example: `  chirai serve
  chirai serve --addr 127.0.0.1:9090 --token secret
  CHIRAI_API_TOKEN=secret chirai serve --cors http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "", "listen address (default server.address)")
	f.StringVar(&flags.token, "token", "", "bearer token required on every request (or $CHIRAI_API_TOKEN)")
	f.StringSliceVar(&flags.allowIPs, "allow-ip", nil, "addresses or CIDR ranges allowed to connect")
	f.StringSliceVar(&flags.cors, "cors", nil, "allowed CORS origins; 'default' allows localhost")
	f.Float64Var(&flags.rate, "rate", 10, "requests per second per client, 0 disables")
	f.IntVar(&flags.burst, "burst", 20, "rate limit burst")
	f.BoolVar(&flags.noReload, "no-reload", false, "do not watch the config file")
	return cmd
}

func runServe(ctx context.Context, opts *Options, flags serveFlags) error {
	a, err := newApp(ctx, opts, appMode{backend: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	mgr := a.newManager()
	defer mgr.Close()

	orch := newOrchestrator(a)

	addr := flags.addr
	if addr == "" {
		addr = a.cfg.Server.Address
	}
	srv := server.New(server.Config{
		Address:      addr,
		Manager:      mgr,
		Backend:      a.backend,
		Orchestrator: orch,
		Cache:        a.cache,
		Auth:         authConfig(flags),
		CORS:         corsConfig(flags.cors),
		RateLimit:    flags.rate,
		Burst:        flags.burst,
		Logger:       a.log.Logger,
	})
	defer srv.Close()

	if !opts.Quiet {
		fmt.Fprintf(opts.Err, "ChirAI API listening on http://%s (model %s)\n", addr, a.cfg.DefaultModel)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if !flags.noReload {
		if _, err := os.Stat(a.cfgPath); err == nil {
			path := a.cfgPath
			g.Go(func() error {
				err := config.Watch(gctx, path, func(cfg *config.Config, err error) {
					if err != nil {
						a.log.Warn("config reload rejected", zap.Error(err))
						return
					}
					reloadServe(a, mgr.SetDefaultModel, cfg)
				})
				if err != nil && gctx.Err() == nil {
					// Serving goes on without reloads.
					a.log.Warn("config watch stopped", zap.Error(err))
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// reloadServe applies the settings that can change while serving.
func reloadServe(a *app, setModel func(string), cfg *config.Config) {
	if err := a.log.SetLevel(cfg.Log.Level); err != nil {
		a.log.Warn("invalid log level in config", zap.String("level", cfg.Log.Level))
	}
	if a.opts.Model == "" && cfg.DefaultModel != a.cfg.DefaultModel {
		setModel(cfg.DefaultModel)
		a.log.Info("default model changed",
			zap.String("from", a.cfg.DefaultModel),
			zap.String("to", cfg.DefaultModel))
		a.cfg.DefaultModel = cfg.DefaultModel
	}
}

func authConfig(flags serveFlags) *server.AuthConfig {
	token := flags.token
	if token == "" {
		token = os.Getenv("CHIRAI_API_TOKEN")
	}
	if token == "" && len(flags.allowIPs) == 0 {
		return nil
	}
	return &server.AuthConfig{BearerToken: token, AllowedIPs: flags.allowIPs}
}

func corsConfig(origins []string) *server.CORSConfig {
	if len(origins) == 0 {
		return nil
	}
	cfg := server.DefaultCORSConfig()
	if len(origins) == 1 && strings.EqualFold(origins[0], "default") {
		return cfg
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// newOrchestrator builds the agent orchestrator on the app's backend.
func newOrchestrator(a *app) *agent.Orchestrator {
	registry := agent.NewCompletionRegistry(a.backend, a.cfg.DefaultModel)
	return agent.NewOrchestrator(registry, agent.Options{
		Decomposer: &agent.LLMDecomposer{
			Client:   a.backend,
			Model:    a.cfg.DefaultModel,
			Fallback: agent.PlanDecomposer{},
		},
		StepTimeout: a.cfg.Timeout(),
		Summarize:   true,
		Logger:      a.log.Logger,
	})
}

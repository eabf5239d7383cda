// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/cache"
	"github.com/enablerdao/ChirAI/internal/config"
	"github.com/enablerdao/ChirAI/internal/locale"
	"github.com/enablerdao/ChirAI/internal/logging"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/storage"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app is everything a command needs, built from the config and flags.
type app struct {
	opts    *Options
	cfg     *config.Config
	cfgPath string
	log     *logging.Logger
	loc     *locale.Localizer
	backend ollama.Backend
	cache   cache.Cache
	store   storage.Store

	prefsMu sync.Mutex
	prefs   storage.Preferences

	closers []func() error
}

// prefsTimeout bounds preference reads and writes.
const prefsTimeout = 5 * time.Second

// appMode selects which parts newApp builds.
type appMode struct {
	// quietLog sends logs to the configured file only; the TUI owns the terminal.
	quietLog bool
	backend  bool
	store    bool
}

// loadConfig reads the config for opts and applies flag overrides.
func loadConfig(opts *Options) (*config.Config, string, error) {
	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = config.ConfigDir(); err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.LoadDir(dir)
	if cfg == nil {
		return nil, "", err
	}
	if err != nil {
		// A broken file leaves the defaults in place; say so and carry on.
		fmt.Fprintln(opts.Err, WarningStyle.Render("Warning:"), err)
	}

	if opts.Model != "" {
		cfg.DefaultModel = opts.Model
	}
	if opts.Mock {
		cfg.Local.MockMode = true
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if opts.Language != "" {
		cfg.Session.Language = opts.Language
	}
	// The default history dir follows --config-dir.
	if home, herr := config.ConfigDir(); opts.ConfigDir != "" && herr == nil &&
		cfg.Storage.Dir == filepath.Join(home, "history") {
		cfg.Storage.Dir = filepath.Join(dir, "history")
	}
	return cfg, existingConfigFile(dir), nil
}

func existingConfigFile(dir string) string {
	for _, name := range []string{"config.toml", "config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, "config.toml")
}

// newApp builds the parts of the application selected by mode. Call close
// when done.
func newApp(ctx context.Context, opts *Options, mode appMode) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		Quiet:       mode.quietLog || opts.Quiet,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		opts:    opts,
		cfg:     cfg,
		cfgPath: path,
		log:     logger,
		loc:     locale.New(cfg.Session.Language),
	}
	a.closers = append(a.closers, func() error { logger.Close(); return nil })

	a.prefs = storage.DefaultPreferences()
	if mode.store {
		if err := a.openStore(); err != nil {
			a.close()
			return nil, err
		}
		a.applyPreferences(ctx)
	}
	if mode.backend {
		a.backend, err = a.newBackend(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		if cfg.Cache.Enabled {
			a.cache = a.newCache(ctx)
		}
	}
	return a, nil
}

func (a *app) newBackend(ctx context.Context) (ollama.Backend, error) {
	if a.cfg.Local.MockMode {
		a.log.Debug("using mock backend")
		return ollama.NewMockClient(), nil
	}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      a.cfg.Local.OllamaURL,
		Timeout:      a.cfg.Timeout(),
		DefaultModel: a.cfg.DefaultModel,
		Endpoint:     ollama.Endpoint(a.cfg.Local.Endpoint),
		RateLimit:    a.cfg.Local.RateLimit,
		Logger:       a.log.Logger,
	})
	if a.cfg.Local.AutoStart {
		if err := client.EnsureRunning(ctx); err != nil {
			// Sends will report the failure in the transcript.
			a.log.Warn("could not start Ollama", zap.Error(err))
		}
	}
	return client, nil
}

// newCache returns the configured cache. An unreachable Redis falls back to
// the in-memory cache.
func (a *app) newCache(ctx context.Context) cache.Cache {
	if a.cfg.Cache.Backend == "redis" {
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
			TTL:      a.cfg.CacheTTL(),
			Logger:   a.log.Logger,
		})
		if err == nil {
			a.closers = append(a.closers, r.Close)
			return r
		}
		a.log.Warn("redis cache unavailable, using memory", zap.Error(err))
	}
	return cache.NewMemory(a.cfg.Cache.MaxBytes)
}

func (a *app) openStore() error {
	var (
		store storage.Store
		err   error
	)
	switch a.cfg.Storage.Backend {
	case "sqlite":
		if err = os.MkdirAll(a.cfg.Storage.Dir, 0o755); err == nil {
			store, err = storage.NewSQLiteStore(filepath.Join(a.cfg.Storage.Dir, "chirai.db"))
		}
	default:
		store, err = storage.NewJSONStore(a.cfg.Storage.Dir)
	}
	if err != nil {
		return fmt.Errorf("open %s history store: %w", a.cfg.Storage.Backend, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// applyPreferences loads the saved preferences. The preferred model and
// language apply unless the config or a flag chose something else, and
// conversations older than MaxHistoryDays are pruned.
func (a *app) applyPreferences(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, prefsTimeout)
	defer cancel()

	prefs, err := a.store.LoadPreferences(ctx)
	if err != nil {
		a.log.Warn("could not load preferences", zap.Error(err))
		return
	}
	a.prefs = prefs

	def := config.Default()
	if a.opts.Model == "" && a.cfg.DefaultModel == def.DefaultModel && prefs.PreferredModel != "" {
		a.cfg.DefaultModel = prefs.PreferredModel
	}
	if a.opts.Language == "" && a.cfg.Session.Language == def.Session.Language &&
		prefs.Language != a.cfg.Session.Language {
		a.cfg.Session.Language = prefs.Language
		a.loc = locale.New(prefs.Language)
	}

	if n, err := a.store.PruneOlderThan(ctx, prefs.MaxHistoryDays); err != nil {
		a.log.Warn("could not prune history", zap.Error(err))
	} else if n > 0 {
		a.log.Info("pruned old conversations", zap.Int("count", n), zap.Int("days", prefs.MaxHistoryDays))
	}
}

// rememberModel saves modelID as the preferred model.
func (a *app) rememberModel(modelID string) {
	a.prefsMu.Lock()
	defer a.prefsMu.Unlock()
	if a.store == nil || modelID == a.prefs.PreferredModel {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), prefsTimeout)
	defer cancel()

	prefs := a.prefs
	prefs.PreferredModel = modelID
	if err := a.store.SavePreferences(ctx, prefs); err != nil {
		a.log.Warn("could not save preferences", zap.Error(err))
		return
	}
	a.prefs = prefs
}

// sessionOptions is the controller template derived from the config.
func (a *app) sessionOptions() session.Options {
	opts := session.Options{
		Model:               a.cfg.DefaultModel,
		MaxMessages:         a.cfg.Session.MaxMessages,
		AnnounceModelSwitch: a.cfg.Session.AnnounceModelSwitch,
		Retry:               a.retryPolicy(),
		Timeout:             a.cfg.Timeout(),
		Localizer:           a.loc,
		Cache:               a.cache,
		Logger:              a.log.Logger,
	}
	if a.store != nil {
		opts.OnModelChange = a.rememberModel
	}
	if a.cfg.Session.WelcomeMessage {
		opts.Welcome = a.loc.Welcome()
	}
	return opts
}

func (a *app) retryPolicy() session.RetryPolicy {
	if !a.cfg.Retry.Enabled {
		return session.NoRetry()
	}
	return session.RetryPolicy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Delay:       a.cfg.RetryDelay(),
		Backoff:     session.Backoff(a.cfg.Retry.Backoff),
	}
}

// newManager builds a channel manager backed by the store, if open.
func (a *app) newManager() *session.Manager {
	return session.NewManager(session.ManagerConfig{
		Client:   a.backend,
		Options:  a.sessionOptions(),
		Store:    a.store,
		AutoSave: a.store != nil && a.cfg.Storage.AutoSave,
		Logger:   a.log.Logger,
	})
}

// close releases everything in reverse order of creation.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

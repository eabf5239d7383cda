// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// statusTimeout bounds the Ollama reachability check.
const statusTimeout = 5 * time.Second

// =============================================================================
// MODELS COMMAND
// =============================================================================

// ModelRow is one installed model in --json output.
type ModelRow struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Family     string    `json:"family,omitempty"`
	Parameters string    `json:"parameters,omitempty"`
	Modified   time.Time `json:"modified_at"`
	Default    bool      `json:"default"`
}

func newModelsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"list"},
		Short:   "List models installed in Ollama",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd.Context(), opts)
		},
	}
}

func runModels(ctx context.Context, opts *Options) error {
	a, err := newApp(ctx, opts, appMode{backend: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	infos, err := a.backend.ListModels(ctx)
	if err != nil {
		return err
	}

	rows := make([]ModelRow, len(infos))
	for i, info := range infos {
		rows[i] = ModelRow{
			Name:       info.Name,
			Size:       info.Size,
			Family:     info.Details.Family,
			Parameters: info.Details.ParameterSize,
			Modified:   info.ModifiedAt,
			Default:    info.Name == a.cfg.DefaultModel,
		}
	}
	if opts.JSON {
		return outputJSON(opts.Out, "models", rows)
	}

	if len(infos) == 0 {
		fmt.Fprintln(opts.Out, "No models installed. Pull one with 'ollama pull "+a.cfg.DefaultModel+"'.")
		return nil
	}
	for _, info := range infos {
		marker := "  "
		if info.Name == a.cfg.DefaultModel {
			marker = SuccessStyle.Render("* ")
		}
		line := fmt.Sprintf("%s%-32s %10s", marker, info.Name, info.FormatSize())
		if info.Details.ParameterSize != "" {
			line += "  " + DimStyle.Render(info.Details.ParameterSize)
		}
		fmt.Fprintln(opts.Out, line)
	}
	return nil
}

// =============================================================================
// STATUS COMMAND
// =============================================================================

// StatusData is the --json payload of status.
type StatusData struct {
	Version      string `json:"version"`
	ConfigFile   string `json:"config_file"`
	OllamaURL    string `json:"ollama_url"`
	Mock         bool   `json:"mock"`
	Reachable    bool   `json:"reachable"`
	Error        string `json:"error,omitempty"`
	Models       int    `json:"models"`
	DefaultModel string `json:"default_model"`
	ModelFound   bool   `json:"default_model_installed"`
	Storage      string `json:"storage"`
	StorageDir   string `json:"storage_dir"`
	Cache        string `json:"cache"`
	Language     string `json:"language"`
}

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check Ollama and show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts)
		},
	}
}

func runStatus(ctx context.Context, opts *Options) error {
	a, err := newApp(ctx, opts, appMode{backend: true})
	if err != nil {
		return err
	}
	defer a.close()

	st := StatusData{
		Version:      Version,
		ConfigFile:   a.cfgPath,
		OllamaURL:    a.cfg.Local.OllamaURL,
		Mock:         a.cfg.Local.MockMode,
		DefaultModel: a.cfg.DefaultModel,
		Storage:      a.cfg.Storage.Backend,
		StorageDir:   a.cfg.Storage.Dir,
		Cache:        "off",
		Language:     a.loc.Language(),
	}
	if a.cfg.Cache.Enabled {
		st.Cache = a.cfg.Cache.Backend
	}

	cctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	infos, err := a.backend.ListModels(cctx)
	if err != nil {
		st.Error = string(ollama.KindOf(err))
	} else {
		st.Reachable = true
		st.Models = len(infos)
		for _, info := range infos {
			if info.Name == a.cfg.DefaultModel {
				st.ModelFound = true
			}
		}
	}

	if opts.JSON {
		return outputJSON(opts.Out, "status", st)
	}

	w := opts.Out
	fmt.Fprintln(w, TitleStyle.Render("ChirAI "+st.Version))
	fmt.Fprintln(w, RenderSeparator(40))
	ollamaLine := RenderStatus(st.Reachable) + " " + st.OllamaURL
	if st.Mock {
		ollamaLine = RenderStatus(true) + " mock backend"
	}
	fmt.Fprintln(w, RenderField("Ollama:", ollamaLine))
	if !st.Reachable {
		fmt.Fprintln(w, RenderField("", a.loc.Error(err)))
	}
	fmt.Fprintln(w, RenderField("Models:", fmt.Sprint(st.Models)))
	fmt.Fprintln(w, RenderField("Default model:", st.DefaultModel+" "+RenderStatus(st.ModelFound)))
	fmt.Fprintln(w, RenderField("Config:", st.ConfigFile))
	fmt.Fprintln(w, RenderField("History:", st.Storage+" ("+st.StorageDir+")"))
	cacheLine := st.Cache
	if a.cfg.Cache.Enabled && a.cfg.Cache.Backend == "memory" {
		cacheLine += " (" + formatBytes(a.cfg.Cache.MaxBytes) + " max)"
	}
	fmt.Fprintln(w, RenderField("Cache:", cacheLine))
	fmt.Fprintln(w, RenderField("Language:", st.Language))
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List selectable models",
		Long:  "List the configured model catalogue. With --remote, fetch the live list from the provider.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			remote, _ := cmd.Flags().GetBool("remote")
			freeOnly, _ := cmd.Flags().GetBool("free")
			return withApp(cmd, func(app *App) error {
				if !remote {
					printModelList(cmd.OutOrStdout(), app.Live.Config())
					return nil
				}
				models, err := app.Client.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				printRemoteModels(cmd.OutOrStdout(), models, freeOnly)
				return nil
			})
		},
	}
	cmd.Flags().Bool("remote", false, "fetch the provider's model list")
	cmd.Flags().Bool("free", false, "with --remote, only show free models")
	return cmd
}

// printModelList prints the catalogue with the selected model marked.
func printModelList(w io.Writer, cfg *config.Config) {
	for _, id := range cfg.Models() {
		marker := " "
		if id == cfg.Provider.SelectedModel {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, id)
	}
}

func printRemoteModels(w io.Writer, models []model.ModelInfo, freeOnly bool) {
	n := 0
	for _, m := range models {
		if freeOnly && !m.IsFree() {
			continue
		}
		n++
		price := "free"
		if !m.IsFree() {
			price = fmt.Sprintf("%s/%s per 1M", perMillion(m.PromptPrice), perMillion(m.CompletionPrice))
		}
		fmt.Fprintf(w, "%s %8d ctx  %s\n", PadRight(m.ID, 48), m.ContextSize, DimStyle.Render(price))
	}
	fmt.Fprintf(w, "\n%d model(s)\n", n)
}

// perMillion converts a per-token price string to dollars per million tokens.
func perMillion(price string) string {
	v, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return "?"
	}
	return fmt.Sprintf("$%.2f", v*1e6)
}

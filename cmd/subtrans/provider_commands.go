package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported LLM providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Providers []providerInfo `json:"providers"`
			}
			if err := client.get(cmd.Context(), "/api/settings/llm-providers", &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			rows := make([][]string, 0, len(result.Providers))
			for _, p := range result.Providers {
				rows = append(rows, []string{p.ID, p.Name, strings.Join(p.Models, ", ")})
			}
			renderRows(cmd.OutOrStdout(),
				[]string{"ID", "Name", "Models"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft})
			return nil
		},
	}
}

func newLanguagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported target languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Languages []struct {
					Code string `json:"code"`
					Name string `json:"name"`
				} `json:"languages"`
			}
			if err := client.get(cmd.Context(), "/api/settings/languages", &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			for _, lang := range result.Languages {
				fmt.Fprintln(cmd.OutOrStdout(), lang.Name)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change runtime settings",
	}

	settingsCmd.AddCommand(newSettingsShowCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	settingsCmd.AddCommand(newSettingsTestLLMCommand(ctx))

	return settingsCmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Version  int64             `json:"version"`
				Settings map[string]string `json:"settings"`
			}
			if err := client.get(cmd.Context(), "/api/settings", &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			keys := make([]string, 0, len(result.Settings))
			for key := range result.Settings {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				rows = append(rows, []string{key, result.Settings[key]})
			}
			renderRows(cmd.OutOrStdout(),
				[]string{"Key", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
			return nil
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value> [key=value ...]",
		Short: "Update one or more settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := make(map[string]any, len(args))
			for _, arg := range args {
				key, value, found := strings.Cut(arg, "=")
				if !found || key == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				changes[key] = value
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Version  int64             `json:"version"`
				Settings map[string]string `json:"settings"`
			}
			if err := client.put(cmd.Context(), "/api/settings", changes, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			for key := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, result.Settings[key])
			}
			return nil
		},
	}
}

func newSettingsTestLLMCommand(ctx *commandContext) *cobra.Command {
	var apiKey, model, baseURL string

	cmd := &cobra.Command{
		Use:   "test-llm <provider>",
		Short: "Verify LLM credentials with a round-trip translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"provider": args[0]}
			if apiKey != "" {
				body["api_key"] = apiKey
			}
			if model != "" {
				body["model"] = model
			}
			if baseURL != "" {
				body["base_url"] = baseURL
			}

			var result struct {
				Success  bool   `json:"success"`
				Provider string `json:"provider"`
				Model    string `json:"model"`
				Error    string `json:"error"`
			}
			if err := client.post(cmd.Context(), "/api/settings/test-llm", body, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			if result.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) responded OK\n", result.Provider, result.Model)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "provider check failed: %s\n", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to test instead of the stored one")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint override")
	return cmd
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newWatchersCommand(ctx *commandContext) *cobra.Command {
	watchersCmd := &cobra.Command{
		Use:   "watchers",
		Short: "Manage watched directories",
	}

	watchersCmd.AddCommand(newWatchersListCommand(ctx))
	watchersCmd.AddCommand(newWatchersAddCommand(ctx))
	watchersCmd.AddCommand(newWatchersRemoveCommand(ctx))
	watchersCmd.AddCommand(newWatchersToggleCommand(ctx))
	watchersCmd.AddCommand(newWatchersScanCommand(ctx))

	return watchersCmd
}

func newWatchersScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <id>",
		Short: "Sweep a watched directory for files right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWatcherArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/watchers/%d/scan", id), nil, nil); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"scanned": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watcher %d scanned\n", id)
			return nil
		},
	}
}

func newWatchersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Watchers []watcherInfo `json:"watchers"`
			}
			if err := client.get(cmd.Context(), "/api/watchers", &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			if len(result.Watchers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No watchers")
				return nil
			}
			rows := make([][]string, 0, len(result.Watchers))
			for _, w := range result.Watchers {
				state := "disabled"
				if w.Enabled {
					state = "enabled"
				}
				rows = append(rows, []string{
					strconv.FormatInt(w.ID, 10), w.Path, w.TargetLanguage, w.LLMProvider, state,
				})
			}
			renderRows(cmd.OutOrStdout(),
				[]string{"ID", "Path", "Target", "Provider", "State"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			return nil
		},
	}
}

func newWatchersAddCommand(ctx *commandContext) *cobra.Command {
	var targetLang, provider string

	cmd := &cobra.Command{
		Use:   "add <directory>",
		Short: "Watch a directory for new files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"path": args[0]}
			if targetLang != "" {
				body["target_language"] = targetLang
			}
			if provider != "" {
				body["llm_provider"] = provider
			}

			var w watcherInfo
			if err := client.post(cmd.Context(), "/api/watchers", body, &w); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (-> %s via %s)\n", w.Path, w.TargetLanguage, w.LLMProvider)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language for discovered files")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider for discovered files")
	return cmd
}

func parseWatcherArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid watcher id %q", arg)
	}
	return id, nil
}

func newWatchersRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Stop watching a directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWatcherArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.delete(cmd.Context(), fmt.Sprintf("/api/watchers/%d", id), nil); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watcher %d removed\n", id)
			return nil
		},
	}
}

func newWatchersToggleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Enable or disable a watcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWatcherArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Enabled bool `json:"enabled"`
			}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/watchers/%d/toggle", id), nil, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			state := "disabled"
			if result.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watcher %d %s\n", id, state)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"subtrans/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var info daemonInfo
			if err := client.get(cmd.Context(), "/api/info", &info); err != nil {
				return err
			}
			var stats map[string]int
			if err := client.get(cmd.Context(), "/api/tasks/stats", &stats); err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"daemon": info, "tasks": stats})
			}

			out := cmd.OutOrStdout()
			uptime := (time.Duration(info.UptimeSeconds) * time.Second).String()
			fmt.Fprintf(out, "%s %s, up %s\n\n", info.Name, info.Version, uptime)

			rows := make([][]string, 0, len(stats))
			for _, status := range queue.AllStatuses() {
				rows = append(rows, []string{string(status), fmt.Sprint(stats[string(status)])})
			}
			rows = append(rows, []string{"total", fmt.Sprint(stats["total"])})
			renderRows(out, []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			return nil
		},
	}
}

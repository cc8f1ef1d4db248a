package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage translation tasks",
	}

	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksAddCommand(ctx))
	tasksCmd.AddCommand(newTasksAddDirCommand(ctx))
	tasksCmd.AddCommand(newTasksShowCommand(ctx))
	tasksCmd.AddCommand(newTasksRetryCommand(ctx))
	tasksCmd.AddCommand(newTasksPauseCommand(ctx))
	tasksCmd.AddCommand(newTasksResumeCommand(ctx))
	tasksCmd.AddCommand(newTasksDeleteCommand(ctx))
	tasksCmd.AddCommand(newTasksPauseAllCommand(ctx))
	tasksCmd.AddCommand(newTasksDeleteAllCommand(ctx))

	return tasksCmd
}

func taskRows(tasks []taskInfo, colorize bool) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		errMsg := task.ErrorMessage
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.FileName,
			colorizeStatus(task.Status, colorize),
			fmt.Sprintf("%d%%", task.Progress),
			task.TargetLanguage,
			task.LLMProvider,
			errMsg,
		})
	}
	return rows
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			params := url.Values{}
			if statusFilter != "" {
				params.Set("status", statusFilter)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}

			var list taskList
			if err := client.get(cmd.Context(), queryPath("/api/tasks", params), &list); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, list)
			}
			if len(list.Tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			renderRows(cmd.OutOrStdout(),
				[]string{"ID", "File", "Status", "Progress", "Target", "Provider", "Error"},
				taskRows(list.Tasks, colorize),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			)
			if list.Total > len(list.Tasks) {
				fmt.Fprintf(cmd.OutOrStdout(), "showing %d of %d tasks\n", len(list.Tasks), list.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum tasks to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset into the task list")
	return cmd
}

func newTasksAddCommand(ctx *commandContext) *cobra.Command {
	var sourceLang, targetLang, provider string
	var track int
	var force bool

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Queue a file for translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"file_path": args[0]}
			if sourceLang != "" {
				body["source_language"] = sourceLang
			}
			if targetLang != "" {
				body["target_language"] = targetLang
			}
			if provider != "" {
				body["llm_provider"] = provider
			}
			if cmd.Flags().Changed("track") {
				body["subtitle_track"] = track
			}
			if force {
				body["force_override"] = true
			}

			var task taskInfo
			if err := client.post(cmd.Context(), "/api/tasks", body, &task); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, task)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued task %d: %s -> %s via %s\n",
				task.ID, task.FileName, task.TargetLanguage, task.LLMProvider)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceLang, "source", "", "Source language")
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider")
	cmd.Flags().IntVar(&track, "track", 0, "Subtitle track index for container files")
	cmd.Flags().BoolVar(&force, "force", false, "Queue even when an output already exists")
	return cmd
}

func newTasksAddDirCommand(ctx *commandContext) *cobra.Command {
	var sourceLang, targetLang, provider string
	var recursive, force bool

	cmd := &cobra.Command{
		Use:   "add-dir <directory>",
		Short: "Queue every translatable file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"directory_path": args[0], "recursive": recursive}
			if sourceLang != "" {
				body["source_language"] = sourceLang
			}
			if targetLang != "" {
				body["target_language"] = targetLang
			}
			if provider != "" {
				body["llm_provider"] = provider
			}
			if force {
				body["force_override"] = true
			}

			var result struct {
				CreatedCount int      `json:"created_count"`
				SkippedCount int      `json:"skipped_count"`
				TaskIDs      []int64  `json:"task_ids"`
				SkippedFiles []string `json:"skipped_files"`
			}
			if err := client.post(cmd.Context(), "/api/tasks/directory", body, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d tasks, skipped %d files\n", result.CreatedCount, result.SkippedCount)
			for _, skipped := range result.SkippedFiles {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s\n", skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceLang, "source", "", "Source language")
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&force, "force", false, "Queue even when outputs already exist")
	return cmd
}

func parseTaskArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var task taskInfo
			if err := client.get(cmd.Context(), fmt.Sprintf("/api/tasks/%d", id), &task); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, task)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task %d\n", task.ID)
			fmt.Fprintf(out, "  File:     %s\n", task.FilePath)
			fmt.Fprintf(out, "  Status:   %s (%d%%)\n", task.Status, task.Progress)
			fmt.Fprintf(out, "  Target:   %s\n", task.TargetLanguage)
			fmt.Fprintf(out, "  Provider: %s\n", task.LLMProvider)
			if task.SourceLanguage != "" {
				fmt.Fprintf(out, "  Source:   %s\n", task.SourceLanguage)
			}
			if task.ErrorMessage != "" {
				fmt.Fprintf(out, "  Error:    %s\n", task.ErrorMessage)
			}
			return nil
		},
	}
}

func newTaskActionCommand(ctx *commandContext, use, short, method, pathSuffix, doneVerb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/tasks/%d%s", id, pathSuffix)
			var result map[string]any
			if err := client.do(cmd.Context(), method, path, nil, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %d %s\n", id, doneVerb)
			return nil
		},
	}
}

func newTasksRetryCommand(ctx *commandContext) *cobra.Command {
	return newTaskActionCommand(ctx, "retry <id>", "Retry a failed, cancelled, or paused task", "POST", "/retry", "queued for retry")
}

func newTasksPauseCommand(ctx *commandContext) *cobra.Command {
	return newTaskActionCommand(ctx, "pause <id>", "Pause a pending or running task", "POST", "/pause", "pausing")
}

func newTasksResumeCommand(ctx *commandContext) *cobra.Command {
	return newTaskActionCommand(ctx, "resume <id>", "Resume a paused task", "POST", "/resume", "resumed")
}

func newTasksDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task; a running task is cancelled instead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskArg(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Deleted   bool `json:"deleted"`
				Cancelled bool `json:"cancelled"`
			}
			if err := client.delete(cmd.Context(), fmt.Sprintf("/api/tasks/%d", id), &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			if result.Cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "task %d was running, cancellation requested\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "task %d deleted\n", id)
			}
			return nil
		},
	}
}

func newTasksPauseAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause-all",
		Short: "Pause all pending and running tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				PausedCount int `json:"paused_count"`
			}
			if err := client.post(cmd.Context(), "/api/tasks/pause-all", nil, &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused %d tasks\n", result.PausedCount)
			return nil
		},
	}
}

func newTasksDeleteAllCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every task; running tasks are cancelled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all tasks without --yes")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				CancelledCount int `json:"cancelled_count"`
				DeletedCount   int `json:"deleted_count"`
			}
			if err := client.delete(cmd.Context(), "/api/tasks/delete-all", &result); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tasks, cancelled %d running tasks\n",
				result.DeletedCount, result.CancelledCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"subtrans/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(ctx))

	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(*ctx.configFlag)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"path":     path,
					"exists":   exists,
					"data_dir": cfg.Paths.DataDir,
					"log_dir":  cfg.Paths.LogDir,
					"api_bind": cfg.Paths.APIBind,
					"database": cfg.DatabasePath(),
				})
			}
			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "config file: %s\n", path)
			} else {
				fmt.Fprintf(out, "config file: %s (not found, using defaults)\n", path)
			}
			fmt.Fprintf(out, "data dir:    %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log dir:     %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "api bind:    %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "database:    %s\n", cfg.DatabasePath())
			return nil
		},
	}
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *ctx.configFlag
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

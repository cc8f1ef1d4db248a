package main

import (
	"net"

	"github.com/spf13/cobra"

	"subtrans/internal/config"
)

type commandContext struct {
	addrFlag   *string
	configFlag *string
	jsonFlag   *bool
}

// client resolves the daemon address: the --addr flag wins, otherwise the
// configured bind address with wildcard hosts rewritten to loopback.
func (c *commandContext) client() (*apiClient, error) {
	if *c.addrFlag != "" {
		return newAPIClient(*c.addrFlag), nil
	}
	cfg, _, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	addr := cfg.Paths.APIBind
	if host, port, splitErr := net.SplitHostPort(addr); splitErr == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return newAPIClient(addr), nil
}

func (c *commandContext) jsonOutput() bool {
	return *c.jsonFlag
}

func newRootCommand() *cobra.Command {
	var addrFlag, configFlag string
	var jsonFlag bool

	ctx := &commandContext{addrFlag: &addrFlag, configFlag: &configFlag, jsonFlag: &jsonFlag}

	rootCmd := &cobra.Command{
		Use:           "subtrans",
		Short:         "Control the subtitle translation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit machine-readable JSON")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newTasksCommand(ctx))
	rootCmd.AddCommand(newWatchersCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newProvidersCommand(ctx))
	rootCmd.AddCommand(newLanguagesCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

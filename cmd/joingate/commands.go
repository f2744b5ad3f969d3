package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review bot",
		Long: `Run the review bot.

The bot will:
1. Load and validate the configuration
2. Open the resolution history (and its SQL mirror when history.dsn is set)
3. Connect to the configured platform
4. Start the admin HTTP server when server.addr is set
5. Reload the reviewer list whenever the config file changes

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  joingate serve
  joingate serve --config /etc/joingate/joingate.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.OutOrStdout())
		},
	}
}

func buildHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		offset     int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List resolved requests from the SQL history",
		Long: `List resolved requests, newest first, from the SQL table configured by
history.dsn. The in-memory history of a running bot is served on /api/history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), limit, offset, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of newest records to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON lines")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "joingate %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}

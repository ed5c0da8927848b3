// Package app provides the entry point for the graph-mcp command-line
// application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/konnektr-io/graph-mcp/pkg/logger"
	"github.com/konnektr-io/graph-mcp/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "graph-mcp",
	DisableAutoGenTag: true,
	Short:             "MCP gateway for Konnektr Graph",
	Long: `graph-mcp exposes a Konnektr Graph instance over the Model Context
Protocol. It verifies bearer tokens against the configured issuer, routes
each request to the caller's tenant backend, and provides tools for DTDL
models, digital twins, relationships, queries, and hybrid search.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the graph-mcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway and listen for MCP client connections.

Configuration is read from KONNEKTR_-prefixed environment variables and,
when --config is given, a YAML file. Environment variables win.`,
		RunE: runServe,
	}
}

func newVersionCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if outputJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				cmd.Println(string(out))
				return nil
			}
			cmd.Printf("Version:    %s\n", info.Version)
			cmd.Printf("Commit:     %s\n", info.Commit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			cmd.Printf("Platform:   %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print version information as JSON")
	return cmd
}

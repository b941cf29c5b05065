// Command broadbandsync runs the broadband availability sync pipeline,
// either as a one-shot run or as a long-lived trigger server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "broadbandsync",
		Short: "Broadband availability ingestion and publishing pipeline",
		Long: `broadbandsync pulls broadband availability records from the upstream
API, normalizes and spatially indexes them, compacts them into
dictionary-encoded tables, and publishes them as feature layers.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the pipeline config file (default $BDSYNC_CONFIG or ./broadbandsync.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath applies the flag > environment > default precedence.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("BDSYNC_CONFIG"); env != "" {
		return env
	}
	return "./broadbandsync.yaml"
}

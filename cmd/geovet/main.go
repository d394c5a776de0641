package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartolab/geovet/cmd/geovet/commands"
	"github.com/cartolab/geovet/logger"
)

var rootCmd = &cobra.Command{
	Use:   "geovet",
	Short: "geovet - Geodatabase validation pipeline",
	Long: `geovet - Rule-driven validation for GeoPackage geodatabases.

geovet runs a staged validation pipeline against one or more GeoPackage
files: table presence, column schemas, geometric defects, attribute
constraints, and cross-layer spatial relations, driven by a YAML or TOML
rule catalog.

Available commands:
  validate - Validate a single geodatabase file
  batch    - Validate many files with bounded parallelism
  rules    - Inspect and lint rule catalogs
  version  - Show version information

Examples:
  geovet validate city.gpkg --rules water.yaml
  geovet validate city.gpkg --rules water.yaml --json > report.json
  geovet batch north.gpkg south.gpkg --rules water.yaml --parallel 4
  geovet rules lint water.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json", false, "Machine-readable JSON output instead of console rendering")
	rootCmd.PersistentFlags().String("config", "", "Path to a geovet config file (TOML)")

	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.RulesCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

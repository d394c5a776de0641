package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/sym"
)

// RulesCmd represents the rules command group
var RulesCmd = &cobra.Command{
	Use:   "rules",
	Short: sym.Check + " Inspect rule catalogs",
	Long: sym.Check + ` rules — Inspect and lint rule catalogs

Examples:
  geovet rules lint water.yaml      # Parse a catalog and report problems`,
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint <catalog>",
	Short: "Parse a rule catalog and report skipped rules",
	Long: `Parse a YAML or TOML rule catalog the same way a validation run would:
malformed rules are listed as warnings, and a broken dependency graph is a
hard error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesLint,
}

func init() {
	RulesCmd.AddCommand(rulesLintCmd)
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cat, err := rules.LoadCatalog(args[0])
	if err != nil {
		return err
	}

	rows := pterm.TableData{
		{"Rule family", "Count"},
		{"table", itoa(len(cat.Tables))},
		{"schema", itoa(len(cat.Schemas))},
		{"geometry", itoa(len(cat.Geometries))},
		{"attribute", itoa(len(cat.Attributes))},
		{"conditional", itoa(len(cat.Conditionals))},
		{"logical relation", itoa(len(cat.Logicals))},
		{"cross-table", itoa(len(cat.CrossTables))},
		{"spatial relation", itoa(len(cat.Relations))},
		{"dependencies", itoa(len(cat.Dependencies))},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	for _, w := range cat.Warnings {
		pterm.Warning.Println(w)
	}
	if len(cat.Warnings) == 0 {
		pterm.Success.Printf("%s parsed cleanly\n", args[0])
	} else {
		pterm.Info.Printf("%d rule(s) skipped; fix the warnings above to include them\n", len(cat.Warnings))
	}
	return nil
}

func itoa(n int) string { return pterm.Sprintf("%d", n) }

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/sym"
)

// ValidateCmd represents the validate command
var ValidateCmd = &cobra.Command{
	Use:   "validate <geopackage>",
	Short: sym.Stage + " Validate a geodatabase against a rule catalog",
	Long: sym.Stage + ` validate — Run the full validation pipeline on one GeoPackage

Runs every configured stage (table, schema, geometry, attribute, relation)
against the target file and reports the findings. The process exits non-zero
when validation errors are found.

Examples:
  geovet validate city.gpkg --rules water.yaml
  geovet validate city.gpkg --rules water.yaml --output report.json
  geovet validate city.gpkg --rules water.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var (
	validateRulesFlag  string
	validateOutputFlag string
)

func init() {
	ValidateCmd.Flags().StringVar(&validateRulesFlag, "rules", "", "Rule catalog file (YAML or TOML)")
	ValidateCmd.Flags().StringVar(&validateOutputFlag, "output", "", "Write the full JSON report to a file")
	_ = ValidateCmd.MarkFlagRequired("rules")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	target := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(validateRulesFlag)
	if err != nil {
		return err
	}

	orch, err := pipeline.NewOrchestrator(
		stageDefinitions(cat, cfg),
		pipeline.WithEmitter(buildEmitter(cmd, cfg)),
		pipeline.WithMonitor(buildMonitor(cfg)),
	)
	if err != nil {
		return err
	}

	src, err := openTarget(target)
	if err != nil {
		return errors.Wrapf(err, "opening %s", target)
	}
	defer src.Close()

	ctx, stop := signalContext()
	defer stop()

	result, runErr := orch.Run(ctx, src, target)
	if err := writeReport(result, validateOutputFlag); err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		renderResult(result)
	}

	if runErr != nil {
		return runErr
	}
	if !result.IsValid {
		return fmt.Errorf("validation found %d error(s)", result.ErrorCount)
	}
	return nil
}

// writeReport persists the full result as indented JSON when --output is set.
func writeReport(result *report.ValidationResult, path string) error {
	if path == "" || result == nil {
		return nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing report to %s", path)
	}
	return nil
}

// renderResult prints the per-stage summary for interactive use.
func renderResult(result *report.ValidationResult) {
	if result == nil {
		return
	}

	names := make([]string, 0, len(result.Stages))
	for name := range result.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := pterm.TableData{{"Stage", "Rules", "Errors", "Warnings", "Status"}}
	for _, name := range names {
		st := result.Stages[name]
		status := sym.Check
		switch {
		case st.Skipped:
			status = "skipped"
		case !st.IsValid:
			status = sym.Flag
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", st.ProcessedRulesCount),
			fmt.Sprintf("%d", st.ErrorCount),
			fmt.Sprintf("%d", st.WarningCount),
			status,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	switch {
	case result.Status == report.StatusCancelled:
		pterm.Warning.Printf("Run cancelled after %s; partial results above\n", result.ProcessingTime)
	case result.Status == report.StatusFailed:
		pterm.Error.Printf("Run failed: %s\n", result.FailureMessage)
	case result.IsValid:
		pterm.Success.Printf("%s is valid (%d stages, %s)\n",
			result.TargetFile, len(result.Stages), result.ProcessingTime)
	default:
		pterm.Error.Printf("%s has %d error(s), %d warning(s)\n",
			result.TargetFile, result.ErrorCount, result.WarningCount)
	}
}

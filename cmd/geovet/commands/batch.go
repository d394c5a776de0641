package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/sym"
)

// BatchCmd represents the batch command
var BatchCmd = &cobra.Command{
	Use:   "batch <geopackage>...",
	Short: sym.Batch + " Validate many geodatabase files",
	Long: sym.Batch + ` batch — Validate a set of GeoPackages with bounded parallelism

Each file runs the full pipeline independently: a corrupt or unreadable file
is recorded as failed and the batch moves on. Results keep the input order.

Examples:
  geovet batch north.gpkg south.gpkg --rules water.yaml
  geovet batch *.gpkg --rules water.yaml --parallel 4 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var (
	batchRulesFlag    string
	batchParallelFlag int
)

func init() {
	BatchCmd.Flags().StringVar(&batchRulesFlag, "rules", "", "Rule catalog file (YAML or TOML)")
	BatchCmd.Flags().IntVar(&batchParallelFlag, "parallel", 0, "Concurrent files (default: configured file_workers)")
	_ = BatchCmd.MarkFlagRequired("rules")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(batchRulesFlag)
	if err != nil {
		return err
	}

	parallel := batchParallelFlag
	if parallel <= 0 {
		parallel = cfg.Pipeline.FileWorkers
	}

	orch, err := pipeline.NewOrchestrator(
		stageDefinitions(cat, cfg),
		pipeline.WithEmitter(buildEmitter(cmd, cfg)),
		pipeline.WithMonitor(buildMonitor(cfg)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	batch := pipeline.NewBatch(orch, openTarget, parallel)
	result := batch.Run(ctx, args)

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		renderBatch(result)
	}

	if result.FailureCount > 0 {
		return fmt.Errorf("%d of %d file(s) failed", result.FailureCount, len(result.Files))
	}
	return nil
}

func renderBatch(result *report.BatchResult) {
	rows := pterm.TableData{{"File", "Status", "Errors", "Warnings"}}
	for _, f := range result.Files {
		status := sym.Check
		errCount, warnCount := 0, 0
		if f.Result != nil {
			errCount, warnCount = f.Result.ErrorCount, f.Result.WarningCount
		}
		switch {
		case !f.Succeeded():
			status = sym.Flag + " " + f.FailureError
		case errCount > 0:
			status = sym.Flag
		}
		rows = append(rows, []string{
			f.Path,
			status,
			fmt.Sprintf("%d", errCount),
			fmt.Sprintf("%d", warnCount),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	pterm.Info.Printf("%d/%d succeeded (%.0f%%), %d total error(s), %s\n",
		result.SuccessCount, len(result.Files), result.SuccessRate*100,
		result.TotalErrors, result.TotalDuration)
}

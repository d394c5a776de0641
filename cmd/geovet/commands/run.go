// Package commands implements the geovet CLI commands.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
	"github.com/cartolab/geovet/source/gpkg"
	"github.com/cartolab/geovet/stages"
)

// progressInterval throttles per-feature progress events for interactive use.
const progressInterval = 200 * time.Millisecond

// loadConfig resolves the effective configuration, honoring --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCatalog reads the rule catalog and surfaces skipped-rule warnings.
func loadCatalog(path string) (*rules.Catalog, error) {
	if path == "" {
		return nil, errors.NewConfiguration("a rule catalog is required (--rules)")
	}
	cat, err := rules.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cat.Warnings {
		logger.Warnw("Rule catalog warning", "catalog", path, "warning", w)
	}
	return cat, nil
}

// stageDefinitions wires the five engines into the orchestrator's stage
// graph: table runs first, schema builds on it, and the three value-level
// stages fan out concurrently once the schema is known good.
func stageDefinitions(cat *rules.Catalog, cfg *config.Config) []pipeline.StageDefinition {
	retryDelay := time.Duration(cfg.Pipeline.RetryDelayMs) * time.Millisecond
	return []pipeline.StageDefinition{
		{
			Name:          stages.StageTable,
			FailureAction: rules.FailAbort,
			Engine:        stages.NewTableEngine(cat),
		},
		{
			Name:          stages.StageSchema,
			Dependencies:  []string{stages.StageTable},
			FailureAction: rules.FailWarn,
			Engine:        stages.NewSchemaEngine(cat, cfg),
		},
		{
			Name:             stages.StageGeometry,
			Dependencies:     []string{stages.StageSchema},
			FailureAction:    rules.FailRetry,
			MaxRetryCount:    cfg.Pipeline.MaxRetries,
			RetryDelay:       retryDelay,
			CanRunInParallel: true,
			Engine:           stages.NewGeometryEngine(cat, cfg),
		},
		{
			Name:             stages.StageAttribute,
			Dependencies:     []string{stages.StageSchema},
			FailureAction:    rules.FailWarn,
			CanRunInParallel: true,
			Engine:           stages.NewAttributeEngine(cat, cfg),
		},
		{
			Name:             stages.StageRelation,
			Dependencies:     []string{stages.StageSchema},
			FailureAction:    rules.FailWarn,
			CanRunInParallel: true,
			Engine:           stages.NewRelationEngine(cat, cfg),
		},
	}
}

// buildEmitter picks the observer for this invocation: JSON events for
// machine consumers, pterm rendering otherwise, both throttled.
func buildEmitter(cmd *cobra.Command, cfg *config.Config) pipeline.Emitter {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbosity, _ := cmd.Flags().GetCount("verbose")

	var base pipeline.Emitter
	if jsonOutput || cfg.Logging.JSON {
		base = pipeline.NewJSONEmitter(os.Stdout)
	} else {
		base = pipeline.NewCLIEmitter(verbosity + cfg.Logging.Verbosity)
	}
	return pipeline.NewThrottledEmitter(base, progressInterval)
}

func buildMonitor(cfg *config.Config) *pipeline.Monitor {
	return pipeline.NewMonitor(
		cfg.Resources.MaxMemoryPercent,
		cfg.Resources.MaxCPUPercent,
		time.Duration(cfg.Resources.MonitorIntervalMs)*time.Millisecond,
	)
}

// openTarget is the Opener used by both single-file and batch runs.
func openTarget(path string) (source.FeatureSource, error) {
	return gpkg.Open(path)
}

// signalContext returns a context cancelled by SIGINT/SIGTERM, so Ctrl-C
// stops the pipeline cooperatively and preserves collected results.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

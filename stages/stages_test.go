package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/source"
)

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			FileWorkers:  1,
			TableWorkers: 2,
			RuleWorkers:  2,
			BatchSize:    256,
			MaxRetries:   2,
			RetryDelayMs: 1,
		},
		Geometry: config.GeometryConfig{
			Tolerance:     0.01,
			SliverRatio:   0.001,
			SpikeAngleDeg: 10,
			MinLength:     0.5,
			MinArea:       0.25,
			MinPoints:     2,
			DetailLimit:   100,
			SampleLimit:   5,
		},
		Resources: config.ResourcesConfig{
			MaxMemoryPercent:  85,
			MaxCPUPercent:     95,
			MonitorIntervalMs: 100,
		},
	}
}

// runEngine drives one engine to completion against a source and returns the
// frozen stage result.
func runEngine(t *testing.T, name string, eng pipeline.StageEngine, src source.FeatureSource) *report.StageResult {
	t.Helper()
	agg := pipeline.NewAggregator("test.gpkg")
	col := agg.BeginStage(name)
	tr := pipeline.NewTracker(0, name, pipeline.NopEmitter{})
	require.NoError(t, eng.Run(context.Background(), src, col, tr))
	return agg.CompleteStage(col, time.Millisecond)
}

func errorCodes(st *report.StageResult) []string {
	codes := make([]string, 0, len(st.Errors))
	for _, e := range st.Errors {
		codes = append(codes, e.ErrorCode)
	}
	return codes
}

func countCode(st *report.StageResult, code string) int {
	n := 0
	for _, e := range st.Errors {
		if e.ErrorCode == code {
			n++
		}
	}
	for _, w := range st.Warnings {
		if w.ErrorCode == code {
			n++
		}
	}
	return n
}

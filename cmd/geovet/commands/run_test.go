package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/errors"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/stages"
)

func TestStageDefinitions_FormValidPlan(t *testing.T) {
	cfg := &config.Config{}
	defs := stageDefinitions(&rules.Catalog{}, cfg)

	require.Len(t, defs, 5)
	assert.Equal(t, stages.StageTable, defs[0].Name)
	for _, d := range defs {
		assert.NotNil(t, d.Engine, d.Name)
	}

	// The declared dependencies must produce a runnable orchestrator.
	_, err := pipeline.NewOrchestrator(defs)
	require.NoError(t, err)
}

func TestLoadCatalog_RequiresPath(t *testing.T) {
	_, err := loadCatalog("")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/errors"
)

func defsOf(names ...string) []StageDefinition {
	defs := make([]StageDefinition, len(names))
	for i, n := range names {
		defs[i] = StageDefinition{Name: n}
	}
	return defs
}

func TestStageWaves_Linear(t *testing.T) {
	defs := defsOf("schema", "table", "geometry")
	defs[1].Dependencies = []string{"schema"}
	defs[2].Dependencies = []string{"table"}

	waves, err := stageWaves(defs)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {1}, {2}}, waves)
}

func TestStageWaves_Diamond(t *testing.T) {
	defs := defsOf("schema", "geometry", "attribute", "relation")
	defs[1].Dependencies = []string{"schema"}
	defs[2].Dependencies = []string{"schema"}
	defs[3].Dependencies = []string{"geometry", "attribute"}

	waves, err := stageWaves(defs)
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Equal(t, []int{0}, waves[0])
	assert.ElementsMatch(t, []int{1, 2}, waves[1])
	assert.Equal(t, []int{3}, waves[2])
}

func TestStageWaves_Errors(t *testing.T) {
	cyclic := defsOf("a", "b")
	cyclic[0].Dependencies = []string{"b"}
	cyclic[1].Dependencies = []string{"a"}
	_, err := stageWaves(cyclic)
	assert.True(t, errors.IsConfiguration(err))

	unknown := defsOf("a")
	unknown[0].Dependencies = []string{"ghost"}
	_, err = stageWaves(unknown)
	assert.True(t, errors.IsConfiguration(err))

	dup := defsOf("a", "a")
	_, err = stageWaves(dup)
	assert.True(t, errors.IsConfiguration(err))
}

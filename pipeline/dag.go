package pipeline

import (
	"strings"

	"github.com/cartolab/geovet/errors"
)

// stageWaves groups stage indexes into execution waves: every stage in a
// wave has all its dependencies satisfied by earlier waves. Stages in the
// same wave may run concurrently when they opt in via CanRunInParallel.
// Unknown dependencies and cycles are configuration errors detected before
// anything runs.
func stageWaves(defs []StageDefinition) ([][]int, error) {
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return nil, errors.NewConfiguration("stage %d has no name", i)
		}
		if _, dup := index[d.Name]; dup {
			return nil, errors.NewConfiguration("duplicate stage name %q", d.Name)
		}
		index[d.Name] = i
	}

	indegree := make([]int, len(defs))
	dependents := make([][]int, len(defs))
	for i, d := range defs {
		for _, dep := range d.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, errors.NewConfiguration("stage %q depends on unknown stage %q", d.Name, dep)
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	var waves [][]int
	done := 0
	ready := make([]int, 0, len(defs))
	for i := range defs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		wave := ready
		ready = nil
		waves = append(waves, wave)
		done += len(wave)
		for _, i := range wave {
			for _, j := range dependents[i] {
				indegree[j]--
				if indegree[j] == 0 {
					ready = append(ready, j)
				}
			}
		}
	}

	if done != len(defs) {
		var stuck []string
		for i, d := range defs {
			if indegree[i] > 0 {
				stuck = append(stuck, d.Name)
			}
		}
		return nil, errors.NewConfiguration("stage dependency cycle involving: %s", strings.Join(stuck, ", "))
	}
	return waves, nil
}

package rules

import (
	"sort"
	"strings"

	"github.com/cartolab/geovet/errors"
)

// DependencyFor returns the dependency record for a rule id, or nil when the
// rule has no declared dependencies.
func DependencyFor(deps []RuleDependency, ruleID string) *RuleDependency {
	for i := range deps {
		if deps[i].RuleID == ruleID {
			return &deps[i]
		}
	}
	return nil
}

// OrderRules topologically sorts rule ids so that every rule runs after all
// of its dependencies. Rules without dependency records keep their relative
// input order; ties among ready rules are broken by input order, which makes
// the result deterministic. A cycle is a configuration error.
func OrderRules(ruleIDs []string, deps []RuleDependency) ([]string, error) {
	pos := make(map[string]int, len(ruleIDs))
	for i, id := range ruleIDs {
		pos[id] = i
	}

	// Edges from dependency to dependent. Dependencies naming unknown rules
	// are ignored here; the loader already surfaced them as warnings.
	dependents := make(map[string][]string)
	indegree := make(map[string]int, len(ruleIDs))
	for _, id := range ruleIDs {
		indegree[id] = 0
	}
	for _, d := range deps {
		if _, ok := pos[d.RuleID]; !ok {
			continue
		}
		for _, on := range d.DependsOn {
			if _, ok := pos[on]; !ok {
				continue
			}
			dependents[on] = append(dependents[on], d.RuleID)
			indegree[d.RuleID]++
		}
	}

	ready := make([]string, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]string, 0, len(ruleIDs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(ruleIDs) {
		var stuck []string
		for _, id := range ruleIDs {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, errors.NewConfiguration("rule dependency cycle involving: %s", strings.Join(stuck, ", "))
	}
	return out, nil
}

// ValidateDependencies rejects a dependency set whose graph contains a cycle.
// It runs at catalog load so a bad graph fails fast instead of deadlocking a
// validation run.
func ValidateDependencies(deps []RuleDependency) error {
	ids := make(map[string]bool)
	for _, d := range deps {
		ids[d.RuleID] = true
		for _, on := range d.DependsOn {
			ids[on] = true
		}
	}
	all := make([]string, 0, len(ids))
	for id := range ids {
		all = append(all, id)
	}
	sort.Strings(all)
	_, err := OrderRules(all, deps)
	return err
}

package stages

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/cartolab/geovet/config"
	"github.com/cartolab/geovet/geom"
	"github.com/cartolab/geovet/logger"
	"github.com/cartolab/geovet/pipeline"
	"github.com/cartolab/geovet/report"
	"github.com/cartolab/geovet/rules"
	"github.com/cartolab/geovet/source"
	"github.com/cartolab/geovet/sym"
)

// RelationEngine enforces cross-layer spatial relations: every rule pairs a
// main table against a related polygon table and evaluates one relation case
// per main feature. Related tables are indexed once per run and shared
// read-only across rules.
type RelationEngine struct {
	rules    []rules.RelationRule
	defaults config.GeometryConfig
	workers  int
}

// NewRelationEngine builds the engine for a catalog's relation rules.
func NewRelationEngine(cat *rules.Catalog, cfg *config.Config) *RelationEngine {
	return &RelationEngine{
		rules:    cat.Relations,
		defaults: cfg.Geometry,
		workers:  cfg.Pipeline.RuleWorkers,
	}
}

// relatedIndex is one related table's polygons plus their R-tree. Entry ids
// address the polys slice.
type relatedIndex struct {
	polys []orb.Polygon
	index *geom.SpatialIndex
}

func (e *RelationEngine) Run(ctx context.Context, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	var enabled []rules.RelationRule
	for _, r := range e.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	tr.SetTotal(int64(len(enabled)))
	if len(enabled) == 0 {
		return nil
	}

	indexes, err := e.buildIndexes(ctx, src, enabled)
	if err != nil {
		return err
	}

	workers := e.workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, r := range enabled {
		r := r
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			// Each rule collects into its own fragment; one merge per rule
			// keeps findings grouped and lock traffic low.
			frag, err := e.checkRule(ctx, r, src, indexes[r.RelatedTable])
			frag.ProcessedRulesCount = 1
			col.MergeFragment(frag)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			tr.Advance(1)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// buildIndexes streams each distinct related table once and indexes its
// polygon parts.
func (e *RelationEngine) buildIndexes(ctx context.Context, src source.FeatureSource, enabled []rules.RelationRule) (map[string]*relatedIndex, error) {
	indexes := make(map[string]*relatedIndex)
	for _, r := range enabled {
		if _, done := indexes[r.RelatedTable]; done {
			continue
		}
		logger.Debugw("Indexing related table", "symbol", sym.Index, "table", r.RelatedTable)

		ri := &relatedIndex{index: geom.NewIndex()}
		it, err := src.Features(ctx, r.RelatedTable)
		if err != nil {
			return nil, err
		}
		row := 0
		for it.Next() {
			row++
			if row%256 == 0 {
				if err := ctx.Err(); err != nil {
					it.Close()
					return nil, err
				}
			}
			f := it.Feature()
			for _, poly := range asPolygons(f.Geometry) {
				ri.index.Insert(int64(len(ri.polys)), poly)
				ri.polys = append(ri.polys, poly)
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return nil, err
		}
		it.Close()
		indexes[r.RelatedTable] = ri
	}
	return indexes, nil
}

func (e *RelationEngine) checkRule(ctx context.Context, r rules.RelationRule, src source.FeatureSource, related *relatedIndex) (*report.StageResult, error) {
	frag := report.NewStageResult(StageRelation)

	tolerance := r.Tolerance
	if tolerance == 0 {
		tolerance = e.defaults.Tolerance
	}

	var filter *rules.Predicate
	if r.FieldFilter != "" {
		p, err := rules.Parse(r.FieldFilter)
		if err != nil {
			return frag, err
		}
		filter = p
	}

	flag := func(f source.Feature, actual string) {
		frag.Add(report.ValidationError{
			ErrorCode:     "REL_" + r.Case.Name(),
			Severity:      report.SeverityError,
			TableName:     r.MainTable,
			FeatureID:     f.ID,
			ExpectedValue: fmt.Sprintf("%s against %s", r.Case.Name(), r.RelatedTable),
			ActualValue:   actual,
			Message: fmt.Sprintf("feature %d in %s violates %s against %s",
				f.ID, r.MainTable, r.Case.Name(), r.RelatedTable),
			Metadata: map[string]string{
				"relation_type": r.Case.Name(),
				"rule_id":       r.RuleID,
			},
		})
	}

	it, err := src.Features(ctx, r.MainTable)
	if err != nil {
		return frag, err
	}
	defer it.Close()

	filterWarned := false
	row := 0
	for it.Next() {
		row++
		if row%256 == 0 {
			if err := ctx.Err(); err != nil {
				return frag, err
			}
		}
		f := it.Feature()
		if f.Geometry == nil {
			continue
		}
		if filter != nil {
			ok, err := filter.Evaluate(f.Attributes)
			if err != nil {
				// A broken filter would silently drop every row it touches;
				// surface the first failure as a diagnostic.
				if !filterWarned {
					filterWarned = true
					frag.Add(report.ValidationError{
						ErrorCode: "REL_FILTER_ERROR",
						Severity:  report.SeverityWarning,
						TableName: r.MainTable,
						FeatureID: f.ID,
						Message: fmt.Sprintf("field filter %q failed on %s: %v",
							r.FieldFilter, r.MainTable, err),
						Metadata: map[string]string{"rule_id": r.RuleID},
					})
				}
				continue
			}
			if !ok {
				continue
			}
		}

		switch r.Case.(type) {
		case rules.PointInsidePolygon:
			for _, p := range asPoints(f.Geometry) {
				if d := e.pointEscape(p, related, tolerance); d > tolerance {
					flag(f, fmt.Sprintf("point %.6f from nearest polygon", d))
				}
			}
		case rules.LineWithinPolygon:
			for _, ls := range asLines(f.Geometry) {
				cands := e.candidatePolys(ls.Bound(), related, tolerance)
				if d := geom.LineMaxEscape(ls, cands, tolerance); d > tolerance {
					flag(f, fmt.Sprintf("line escapes polygons by %.6f", d))
				}
			}
		case rules.PolygonNotWithinPolygon:
			for _, poly := range asPolygons(f.Geometry) {
				for _, cand := range e.candidatePolys(poly.Bound(), related, tolerance) {
					if geom.PolygonContainsPolygon(cand, poly, tolerance) {
						flag(f, "polygon fully contained in related polygon")
						break
					}
				}
			}
		}
	}
	return frag, it.Err()
}

// pointEscape returns the smallest distance from p to any candidate polygon,
// zero when some polygon contains it.
func (e *RelationEngine) pointEscape(p orb.Point, related *relatedIndex, tolerance float64) float64 {
	best := -1.0
	related.index.Search(p.Bound(), tolerance, func(entry geom.Entry) bool {
		d := geom.PointPolygonDistance(p, related.polys[entry.ID])
		if best < 0 || d < best {
			best = d
		}
		return best != 0
	})
	if best < 0 {
		// no candidate polygon anywhere near the point
		return tolerance + 1
	}
	return best
}

func (e *RelationEngine) candidatePolys(b orb.Bound, related *relatedIndex, tolerance float64) []orb.Polygon {
	entries := related.index.Candidates(b, tolerance)
	polys := make([]orb.Polygon, 0, len(entries))
	for _, entry := range entries {
		polys = append(polys, related.polys[entry.ID])
	}
	return polys
}

// asPoints flattens a geometry's point parts.
func asPoints(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return []orb.Point(v)
	default:
		return nil
	}
}

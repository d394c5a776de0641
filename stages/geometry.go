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

// GeometryEngine runs per-table geometric defect checks. Each table's
// geometries are loaded once into a spatial index; pairwise checks
// (duplicate, overlap, undershoot/overshoot) query bbox candidates from the
// index instead of crossing the full table. Tables run concurrently up to
// the configured table worker count.
type GeometryEngine struct {
	rules    []rules.GeometryRule
	defaults config.GeometryConfig
	workers  int
}

// NewGeometryEngine builds the engine for a catalog's geometry rules.
func NewGeometryEngine(cat *rules.Catalog, cfg *config.Config) *GeometryEngine {
	workers := cfg.Pipeline.TableWorkers
	if workers < 1 {
		workers = 1
	}
	return &GeometryEngine{rules: cat.Geometries, defaults: cfg.Geometry, workers: workers}
}

func (e *GeometryEngine) Run(ctx context.Context, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		go func(r rules.GeometryRule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := e.checkTable(ctx, r, src, col, tr); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// thresholds resolves a rule's thresholds, falling back to the configured
// defaults for zero values.
func (e *GeometryEngine) thresholds(r rules.GeometryRule) rules.GeometryRule {
	if r.Tolerance == 0 {
		r.Tolerance = e.defaults.Tolerance
	}
	if r.SliverRatio == 0 {
		r.SliverRatio = e.defaults.SliverRatio
	}
	if r.SpikeAngleDeg == 0 {
		r.SpikeAngleDeg = e.defaults.SpikeAngleDeg
	}
	if r.MinLength == 0 {
		r.MinLength = e.defaults.MinLength
	}
	if r.MinArea == 0 {
		r.MinArea = e.defaults.MinArea
	}
	if r.MinPoints == 0 {
		r.MinPoints = e.defaults.MinPoints
	}
	return r
}

func (e *GeometryEngine) checkTable(ctx context.Context, r rules.GeometryRule, src source.FeatureSource, col *pipeline.Collector, tr *pipeline.Tracker) error {
	r = e.thresholds(r)
	item := report.NewGeometryItem(r.TableID, r.TableName)

	total, err := src.FeatureCount(ctx, r.TableName)
	if err != nil {
		return err
	}
	item.TotalFeatureCount = total
	tr.AddTotal(total)

	logger.Debugw("Building spatial index",
		"table", r.TableName, "features", total, "symbol", sym.Index)

	// One pass loads the index and runs the per-feature checks; the
	// pairwise checks follow once the index is complete.
	index := geom.NewIndex()
	var entries []geom.Entry

	it, err := src.Features(ctx, r.TableName)
	if err != nil {
		return err
	}
	defer it.Close()

	finding := func(id int64, defect, msg string, at orb.Point) {
		item.AddDefect(defect, report.ErrorDetail{ObjectID: id, Message: msg, X: at[0], Y: at[1]}, e.defaults.DetailLimit)
		col.Add(report.ValidationError{
			ErrorCode: "GEO_" + defect,
			Severity:  report.SeverityError,
			TableID:   r.TableID,
			TableName: r.TableName,
			FeatureID: id,
			Message:   msg,
		})
	}

	row := 0
	for it.Next() {
		row++
		if row%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		f := it.Feature()
		item.ProcessedFeatureCount++
		tr.Advance(1)

		if geom.IsEmpty(f.Geometry) {
			// Reported, excluded from further checks, never thrown.
			finding(f.ID, report.DefectBasicValidation, "null or empty geometry", orb.Point{})
			continue
		}

		e.checkFeature(r, f, finding)
		index.Insert(f.ID, f.Geometry)
		entries = append(entries, geom.Entry{ID: f.ID, Geometry: f.Geometry})
	}
	if err := it.Err(); err != nil {
		return err
	}

	if r.Checks.Duplicate {
		e.checkDuplicates(entries, finding)
	}
	if r.Checks.Overlap {
		e.checkOverlaps(entries, index, finding)
	}
	if r.Checks.Undershoot || r.Checks.Overshoot {
		e.checkDangles(r, entries, index, finding)
	}

	col.AddGeometryItem(*item)
	col.AddRulesProcessed(1)
	return nil
}

// checkFeature runs the single-feature checks, recovering a predicate panic
// into a diagnostic so one bad feature never aborts the table scan.
func (e *GeometryEngine) checkFeature(r rules.GeometryRule, f source.Feature, finding func(int64, string, string, orb.Point)) {
	defer func() {
		if rec := recover(); rec != nil {
			finding(f.ID, report.DefectBasicValidation,
				fmt.Sprintf("geometry check failed: %v", rec), anchor(f.Geometry))
		}
	}()

	at := anchor(f.Geometry)

	if r.Checks.MinPoint && r.MinPoints > 0 {
		if n := geom.VertexCount(f.Geometry); n < r.MinPoints {
			finding(f.ID, report.DefectMinPoint,
				fmt.Sprintf("%d vertices, want at least %d", n, r.MinPoints), at)
		}
	}

	switch g := f.Geometry.(type) {
	case orb.LineString:
		e.checkLine(r, f.ID, g, finding)
	case orb.MultiLineString:
		for _, part := range g {
			e.checkLine(r, f.ID, part, finding)
		}
	case orb.Polygon:
		e.checkPolygon(r, f.ID, g, finding)
	case orb.MultiPolygon:
		for _, part := range g {
			e.checkPolygon(r, f.ID, part, finding)
		}
	}
}

func (e *GeometryEngine) checkLine(r rules.GeometryRule, id int64, ls orb.LineString, finding func(int64, string, string, orb.Point)) {
	at := anchor(ls)

	if r.Checks.SelfIntersection && geom.SelfIntersects(ls) {
		finding(id, report.DefectSelfIntersection, "line intersects itself", at)
	}
	if r.Checks.SelfOverlap && geom.SelfOverlaps(ls) {
		finding(id, report.DefectSelfOverlap, "line retraces its own segment", at)
	}
	if r.Checks.ShortObject && r.MinLength > 0 {
		if l := geom.Length(ls); l < r.MinLength {
			finding(id, report.DefectShortObject,
				fmt.Sprintf("length %.3f below minimum %.3f", l, r.MinLength), at)
		}
	}
}

func (e *GeometryEngine) checkPolygon(r rules.GeometryRule, id int64, poly orb.Polygon, finding func(int64, string, string, orb.Point)) {
	at := anchor(poly)

	if r.Checks.SelfIntersection && geom.RingSelfIntersects(poly) {
		finding(id, report.DefectSelfIntersection, "ring intersects itself", at)
	}
	if r.Checks.Sliver && r.SliverRatio > 0 {
		if ratio := geom.SliverRatio(poly); ratio < r.SliverRatio {
			finding(id, report.DefectSliver,
				fmt.Sprintf("area/perimeter² ratio %.6f below %.6f", ratio, r.SliverRatio), at)
		}
	}
	if r.Checks.Spike && r.SpikeAngleDeg > 0 && len(poly) > 0 {
		if angle := geom.MinInteriorAngleDeg(poly[0]); angle < r.SpikeAngleDeg {
			finding(id, report.DefectSpike,
				fmt.Sprintf("interior angle %.2f° below %.2f°", angle, r.SpikeAngleDeg), at)
		}
	}
	if r.Checks.SmallArea && r.MinArea > 0 {
		if a := geom.Area(poly); a < r.MinArea {
			finding(id, report.DefectSmallArea,
				fmt.Sprintf("area %.3f below minimum %.3f", a, r.MinArea), at)
		}
	}
	if r.Checks.PolygonInPolygon && len(poly) > 1 {
		finding(id, report.DefectPolygonInPolygon,
			fmt.Sprintf("polygon has %d interior ring(s)", len(poly)-1), at)
	}
}

// checkDuplicates flags every member of a group sharing an identical
// normalized coordinate sequence; a unique feature is never flagged.
func (e *GeometryEngine) checkDuplicates(entries []geom.Entry, finding func(int64, string, string, orb.Point)) {
	groups := make(map[string][]int, len(entries))
	for i, entry := range entries {
		key := geom.Key(entry.Geometry)
		groups[key] = append(groups[key], i)
	}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		for _, i := range members {
			entry := entries[i]
			finding(entry.ID, report.DefectDuplicate,
				fmt.Sprintf("geometry identical to %d other feature(s)", len(members)-1),
				anchor(entry.Geometry))
		}
	}
}

// checkOverlaps reports interior overlaps between polygon pairs, pruned by
// bbox candidates. Each pair is reported once, on the lower feature id.
func (e *GeometryEngine) checkOverlaps(entries []geom.Entry, index *geom.SpatialIndex, finding func(int64, string, string, orb.Point)) {
	for _, entry := range entries {
		polys := asPolygons(entry.Geometry)
		if len(polys) == 0 {
			continue
		}
		for _, cand := range index.Candidates(entry.Geometry.Bound(), 0) {
			if cand.ID <= entry.ID {
				continue
			}
			for _, a := range polys {
				overlapped := false
				for _, b := range asPolygons(cand.Geometry) {
					if geom.PolygonsOverlap(a, b) {
						finding(entry.ID, report.DefectOverlap,
							fmt.Sprintf("overlaps feature %d", cand.ID), anchor(a))
						overlapped = true
						break
					}
				}
				if overlapped {
					break
				}
			}
		}
	}
}

// checkDangles runs the dangling-endpoint analysis: a line endpoint that is
// not snapped to another line's endpoint but lies within tolerance of
// another line is an overshoot when it crossed that line, an undershoot when
// it stopped short.
func (e *GeometryEngine) checkDangles(r rules.GeometryRule, entries []geom.Entry, index *geom.SpatialIndex, finding func(int64, string, string, orb.Point)) {
	if r.Tolerance <= 0 {
		return
	}

	// Every line endpoint in the table, for the snapped-junction test.
	endpointKeys := make(map[string]int)
	for _, entry := range entries {
		for _, ls := range asLines(entry.Geometry) {
			if len(ls) < 2 {
				continue
			}
			endpointKeys[pointKey(ls[0])]++
			endpointKeys[pointKey(ls[len(ls)-1])]++
		}
	}

	for _, entry := range entries {
		for _, ls := range asLines(entry.Geometry) {
			if len(ls) < 2 {
				continue
			}
			ends := [2]struct {
				p    orb.Point
				prev orb.Point
			}{
				{ls[0], ls[1]},
				{ls[len(ls)-1], ls[len(ls)-2]},
			}
			for _, end := range ends {
				if endpointKeys[pointKey(end.p)] > 1 {
					continue // shared junction, not a dangle
				}
				e.classifyDangle(r, entry.ID, end.p, end.prev, index, finding)
			}
		}
	}
}

func (e *GeometryEngine) classifyDangle(r rules.GeometryRule, id int64, p, prev orb.Point, index *geom.SpatialIndex, finding func(int64, string, string, orb.Point)) {
	for _, cand := range index.Candidates(p.Bound(), r.Tolerance) {
		if cand.ID == id {
			continue
		}
		for _, other := range asLines(cand.Geometry) {
			d := geom.PointLineDistance(p, other)
			if d > r.Tolerance {
				continue
			}
			// Within tolerance of another line: did the final segment cross
			// it (overshoot) or stop short (undershoot)?
			crossed := false
			for i := 0; i+1 < len(other); i++ {
				if geom.SegmentsIntersect(prev, p, other[i], other[i+1]) {
					crossed = true
					break
				}
			}
			if crossed && d > 0 {
				if r.Checks.Overshoot {
					finding(id, report.DefectOvershoot,
						fmt.Sprintf("endpoint extends %.4f past feature %d", d, cand.ID), p)
				}
			} else if d > 0 {
				if r.Checks.Undershoot {
					finding(id, report.DefectUndershoot,
						fmt.Sprintf("endpoint falls %.4f short of feature %d", d, cand.ID), p)
				}
			}
			return
		}
	}
}

func pointKey(p orb.Point) string {
	return fmt.Sprintf("%.9f:%.9f", p[0], p[1])
}

// anchor picks a representative coordinate for a defect location.
func anchor(g orb.Geometry) orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return v
	case orb.LineString:
		if len(v) > 0 {
			return v[0]
		}
	case orb.MultiLineString:
		if len(v) > 0 && len(v[0]) > 0 {
			return v[0][0]
		}
	case orb.Polygon:
		if len(v) > 0 && len(v[0]) > 0 {
			return v[0][0]
		}
	case orb.MultiPolygon:
		if len(v) > 0 && len(v[0]) > 0 && len(v[0][0]) > 0 {
			return v[0][0][0]
		}
	}
	return orb.Point{}
}

func asPolygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	default:
		return nil
	}
}

func asLines(g orb.Geometry) []orb.LineString {
	switch v := g.(type) {
	case orb.LineString:
		return []orb.LineString{v}
	case orb.MultiLineString:
		return v
	default:
		return nil
	}
}

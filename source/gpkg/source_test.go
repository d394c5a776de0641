package gpkg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolab/geovet/errors"
	qt "github.com/cartolab/geovet/internal/testing"
)

func openSeeded(t *testing.T) *Source {
	t.Helper()

	path, db := qt.CreateTestDB(t)
	qt.SeedGeoPackage(t, db, "hydrants", "POINT",
		[]string{"status TEXT", "pressure REAL"},
		EncodeGeometry,
		[]qt.SeedRow{
			{ID: 1, Geometry: orb.Point{1, 2}, Attrs: []any{"active", 4.5}},
			{ID: 2, Geometry: orb.Point{3, 4}, Attrs: []any{"inactive", 2.0}},
			{ID: 3, Geometry: nil, Attrs: []any{nil, nil}},
		})
	require.NoError(t, db.Close())

	src, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.gpkg"))
	require.Error(t, err)
	assert.True(t, errors.IsDataAccess(err))
}

func TestSource_TableMetadata(t *testing.T) {
	src := openSeeded(t)
	ctx := context.Background()

	ok, err := src.TableExists(ctx, "hydrants")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.TableExists(ctx, "no_such_table")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := src.FeatureCount(ctx, "hydrants")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	geomType, err := src.GeometryType(ctx, "hydrants")
	require.NoError(t, err)
	assert.Equal(t, "POINT", geomType)

	_, err = src.FeatureCount(ctx, "no_such_table")
	assert.True(t, errors.Is(err, errors.ErrTableNotFound))
}

func TestSource_Schema(t *testing.T) {
	src := openSeeded(t)

	cols, err := src.Schema(context.Background(), "hydrants")
	require.NoError(t, err)

	byName := map[string]int{}
	for i, c := range cols {
		byName[c.Name] = i
	}
	require.Contains(t, byName, "id")
	require.Contains(t, byName, "status")

	id := cols[byName["id"]]
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.Unique, "primary key implies unique")
	assert.Equal(t, "INTEGER", id.DataType)

	status := cols[byName["status"]]
	assert.Equal(t, "TEXT", status.DataType)
	assert.False(t, status.NotNull)
}

func TestSource_FeatureIteration(t *testing.T) {
	src := openSeeded(t)

	it, err := src.Features(context.Background(), "hydrants")
	require.NoError(t, err)
	defer it.Close()

	var ids []int64
	var geoms []orb.Geometry
	for it.Next() {
		f := it.Feature()
		ids = append(ids, f.ID)
		geoms = append(geoms, f.Geometry)
		assert.NotContains(t, f.Attributes, "geom", "geometry column stays out of attributes")
	}
	require.NoError(t, it.Err())

	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, orb.Point{1, 2}, geoms[0])
	assert.Nil(t, geoms[2], "null geometry stays nil for the engine to flag")
}

func TestSource_AttributeValues(t *testing.T) {
	src := openSeeded(t)

	it, err := src.Features(context.Background(), "hydrants")
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	f := it.Feature()
	assert.Equal(t, "active", f.Attributes["status"])
	assert.Equal(t, 4.5, f.Attributes["pressure"])
}

func TestSplitDeclaredType(t *testing.T) {
	tests := []struct {
		decl   string
		name   string
		length int
		scale  int
	}{
		{"TEXT", "TEXT", 0, 0},
		{"VARCHAR(10)", "VARCHAR", 10, 0},
		{"NUMERIC(8,2)", "NUMERIC", 8, 2},
		{"numeric( 8 , 2 )", "NUMERIC", 8, 2},
		{"", "", 0, 0},
	}
	for _, tt := range tests {
		name, length, scale := splitDeclaredType(tt.decl)
		assert.Equal(t, tt.name, name, tt.decl)
		assert.Equal(t, tt.length, length, tt.decl)
		assert.Equal(t, tt.scale, scale, tt.decl)
	}
}

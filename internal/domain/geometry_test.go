package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square returns a closed square ring with the given southwest corner.
func square(lat, lon, side float64) Ring {
	return Ring{
		{Lat: lat, Lon: lon},
		{Lat: lat, Lon: lon + side},
		{Lat: lat + side, Lon: lon + side},
		{Lat: lat + side, Lon: lon},
		{Lat: lat, Lon: lon},
	}
}

func TestParseGeoJSON(t *testing.T) {
	t.Run("point with lon lat order", func(t *testing.T) {
		g, err := ParseGeoJSON([]byte(`{"type":"Point","coordinates":[2.3522,48.8566]}`))
		require.NoError(t, err)
		require.NotNil(t, g.Point)
		assert.Equal(t, 48.8566, g.Point.Lat)
		assert.Equal(t, 2.3522, g.Point.Lon)
	})

	t.Run("polygon", func(t *testing.T) {
		g, err := ParseGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[2.0,48.0],[2.1,48.0],[2.1,48.1],[2.0,48.1],[2.0,48.0]]]}`))
		require.NoError(t, err)
		require.Len(t, g.Polygons, 1)
		require.Len(t, g.Polygons[0], 1)
		assert.Equal(t, Point{Lat: 48.0, Lon: 2.0}, g.Polygons[0][0][0])
	})

	t.Run("multipolygon", func(t *testing.T) {
		g, err := ParseGeoJSON([]byte(`{"type":"MultiPolygon","coordinates":[[[[2.0,48.0],[2.1,48.0],[2.1,48.1],[2.0,48.0]]],[[[3.0,49.0],[3.1,49.0],[3.1,49.1],[3.0,49.0]]]]}`))
		require.NoError(t, err)
		assert.Len(t, g.Polygons, 2)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := ParseGeoJSON([]byte(`{"type":"LineString","coordinates":[[2.0,48.0],[2.1,48.1]]}`))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseGeoJSON([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestParseWKT(t *testing.T) {
	t.Run("point", func(t *testing.T) {
		g, err := ParseWKT("POINT (2.3522 48.8566)")
		require.NoError(t, err)
		require.NotNil(t, g.Point)
		assert.Equal(t, 48.8566, g.Point.Lat)
		assert.Equal(t, 2.3522, g.Point.Lon)
	})

	t.Run("polygon", func(t *testing.T) {
		g, err := ParseWKT("POLYGON ((2.0 48.0, 2.1 48.0, 2.1 48.1, 2.0 48.1, 2.0 48.0))")
		require.NoError(t, err)
		require.Len(t, g.Polygons, 1)
		require.Len(t, g.Polygons[0], 1)
		assert.Len(t, g.Polygons[0][0], 5)
		assert.Equal(t, Point{Lat: 48.0, Lon: 2.0}, g.Polygons[0][0][0])
	})

	t.Run("polygon with hole keeps both rings", func(t *testing.T) {
		g, err := ParseWKT("POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (4 4, 6 4, 6 6, 4 6, 4 4))")
		require.NoError(t, err)
		require.Len(t, g.Polygons, 1)
		assert.Len(t, g.Polygons[0], 2)
	})

	t.Run("single member multipolygon", func(t *testing.T) {
		g, err := ParseWKT("MULTIPOLYGON (((2.0 48.0, 2.1 48.0, 2.1 48.1, 2.0 48.0)))")
		require.NoError(t, err)
		require.Len(t, g.Polygons, 1)
		require.Len(t, g.Polygons[0], 1)
		assert.Len(t, g.Polygons[0][0], 4)
	})

	t.Run("multipolygon with two members", func(t *testing.T) {
		g, err := ParseWKT("MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))")
		require.NoError(t, err)
		assert.Len(t, g.Polygons, 2)
	})

	t.Run("lowercase keyword", func(t *testing.T) {
		g, err := ParseWKT("point (2.0 48.0)")
		require.NoError(t, err)
		require.NotNil(t, g.Point)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, s := range []string{"", "CIRCLE (1 2)", "POINT 2 48", "POLYGON ((1 1, 2 2)"} {
			_, err := ParseWKT(s)
			assert.Error(t, err, "input %q", s)
		}
	})
}

func TestContainment(t *testing.T) {
	mp := MultiPolygon{Polygon{
		square(48.0, 2.0, 1.0),
		square(48.4, 2.4, 0.2), // hole
	}}

	t.Run("inside exterior", func(t *testing.T) {
		assert.True(t, mp.Contains(Point{Lat: 48.1, Lon: 2.1}))
	})

	t.Run("inside hole", func(t *testing.T) {
		assert.False(t, mp.Contains(Point{Lat: 48.5, Lon: 2.5}))
	})

	t.Run("outside", func(t *testing.T) {
		assert.False(t, mp.Contains(Point{Lat: 50.0, Lon: 2.1}))
	})

	t.Run("degenerate ring", func(t *testing.T) {
		tiny := MultiPolygon{Polygon{Ring{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}}}
		assert.False(t, tiny.Contains(Point{Lat: 1.5, Lon: 1.5}))
	})
}

func TestAreaM2(t *testing.T) {
	t.Run("equatorial square", func(t *testing.T) {
		// 0.001 degrees is about 111.32 m at the equator.
		mp := MultiPolygon{Polygon{square(0, 0, 0.001)}}
		assert.InDelta(t, 111.32*111.32, mp.AreaM2(), 1.0)
	})

	t.Run("hole subtracts", func(t *testing.T) {
		outer := MultiPolygon{Polygon{square(0, 0, 0.001)}}
		holed := MultiPolygon{Polygon{square(0, 0, 0.001), square(0.0002, 0.0002, 0.0005)}}
		assert.Less(t, holed.AreaM2(), outer.AreaM2())
	})

	t.Run("latitude shrinks longitude", func(t *testing.T) {
		atEquator := MultiPolygon{Polygon{square(0, 0, 0.01)}}
		atParis := MultiPolygon{Polygon{square(48.85, 2.35, 0.01)}}
		assert.Less(t, atParis.AreaM2(), atEquator.AreaM2())
	})

	t.Run("empty polygon", func(t *testing.T) {
		assert.Zero(t, Polygon{}.AreaM2())
	})
}

func TestCentroid(t *testing.T) {
	t.Run("square center", func(t *testing.T) {
		mp := MultiPolygon{Polygon{square(48.0, 2.0, 1.0)}}
		c := mp.Centroid()
		assert.InDelta(t, 48.5, c.Lat, 1e-9)
		assert.InDelta(t, 2.5, c.Lon, 1e-9)
	})

	t.Run("degenerate ring falls back to vertex mean", func(t *testing.T) {
		mp := MultiPolygon{Polygon{Ring{{Lat: 1, Lon: 1}, {Lat: 3, Lon: 3}}}}
		c := mp.Centroid()
		assert.InDelta(t, 2.0, c.Lat, 1e-9)
		assert.InDelta(t, 2.0, c.Lon, 1e-9)
	})
}

func TestRepresentativePoint(t *testing.T) {
	t.Run("nil geometry", func(t *testing.T) {
		var g *Geometry
		_, ok := g.RepresentativePoint()
		assert.False(t, ok)
		assert.False(t, g.HasPoint())
	})

	t.Run("point geometry", func(t *testing.T) {
		g := &Geometry{Point: &Point{Lat: 48.8, Lon: 2.3}}
		pt, ok := g.RepresentativePoint()
		require.True(t, ok)
		assert.Equal(t, Point{Lat: 48.8, Lon: 2.3}, pt)
	})

	t.Run("polygon geometry uses centroid", func(t *testing.T) {
		g := &Geometry{Polygons: MultiPolygon{Polygon{square(48.0, 2.0, 1.0)}}}
		pt, ok := g.RepresentativePoint()
		require.True(t, ok)
		assert.InDelta(t, 48.5, pt.Lat, 1e-9)
	})
}

func TestGeometryJSONRoundtrip(t *testing.T) {
	t.Run("point", func(t *testing.T) {
		in := Geometry{Point: &Point{Lat: 48.8566, Lon: 2.3522}}
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out Geometry
		require.NoError(t, json.Unmarshal(data, &out))
		require.NotNil(t, out.Point)
		assert.Equal(t, in.Point.Lat, out.Point.Lat)
		assert.Equal(t, in.Point.Lon, out.Point.Lon)
	})

	t.Run("polygon encodes as multipolygon", func(t *testing.T) {
		in := Geometry{Polygons: MultiPolygon{Polygon{square(48.0, 2.0, 0.5)}}}
		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"MultiPolygon"`)

		var out Geometry
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in.Polygons, out.Polygons)
	})
}

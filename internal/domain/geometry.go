package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a WGS-84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ring is a closed linear ring of points. The first and last point may but
// need not repeat; containment and area treat the ring as implicitly closed.
type Ring []Point

// Polygon is an exterior ring followed by zero or more interior rings (holes).
type Polygon []Ring

// MultiPolygon is a set of polygons treated as one geometry.
type MultiPolygon []Polygon

// Geometry is either a single point or a (multi)polygon. Exactly one of the
// two is set; sources deliver one or the other, never both.
type Geometry struct {
	Point    *Point
	Polygons MultiPolygon
}

// HasPoint reports whether the geometry carries a usable point, either
// directly or as a polygon representative point.
func (g *Geometry) HasPoint() bool {
	return g != nil && (g.Point != nil || len(g.Polygons) > 0)
}

// RepresentativePoint returns the point for point geometries and the
// centroid for polygon geometries.
func (g *Geometry) RepresentativePoint() (Point, bool) {
	if g == nil {
		return Point{}, false
	}
	if g.Point != nil {
		return *g.Point, true
	}
	if len(g.Polygons) > 0 {
		return g.Polygons.Centroid(), true
	}
	return Point{}, false
}

// meters per degree of latitude on the WGS-84 ellipsoid, adequate for
// district-scale area estimates. Longitude shrinks with cos(lat).
const metersPerDegree = 111320.0

// contains reports whether pt is inside the ring by ray casting.
// Points exactly on an edge may land on either side; boundary data at city
// scale makes this irrelevant in practice.
func (r Ring) contains(pt Point) bool {
	n := len(r)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		yi, xi := r[i].Lat, r[i].Lon
		yj, xj := r[j].Lat, r[j].Lon
		if (yi > pt.Lat) != (yj > pt.Lat) {
			xCross := (xj-xi)*(pt.Lat-yi)/(yj-yi) + xi
			if pt.Lon < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Contains reports whether pt is inside the polygon's exterior ring and
// outside all of its holes.
func (p Polygon) Contains(pt Point) bool {
	if len(p) == 0 || !p[0].contains(pt) {
		return false
	}
	for _, hole := range p[1:] {
		if hole.contains(pt) {
			return false
		}
	}
	return true
}

// Contains reports whether pt is inside any member polygon.
func (mp MultiPolygon) Contains(pt Point) bool {
	for _, p := range mp {
		if p.Contains(pt) {
			return true
		}
	}
	return false
}

// signedAreaDeg returns the shoelace area of the ring in squared degrees.
func (r Ring) signedAreaDeg() float64 {
	n := len(r)
	if n < 3 {
		return 0
	}
	var sum float64
	j := n - 1
	for i := 0; i < n; i++ {
		sum += (r[j].Lon + r[i].Lon) * (r[j].Lat - r[i].Lat)
		j = i
	}
	return sum / 2
}

// meanLat returns the average latitude of the ring's vertices.
func (r Ring) meanLat() float64 {
	if len(r) == 0 {
		return 0
	}
	var sum float64
	for _, pt := range r {
		sum += pt.Lat
	}
	return sum / float64(len(r))
}

// areaM2 converts the ring's shoelace area to square meters using an
// equirectangular projection anchored at the ring's mean latitude.
func (r Ring) areaM2() float64 {
	scale := metersPerDegree * metersPerDegree * math.Cos(r.meanLat()*math.Pi/180)
	return math.Abs(r.signedAreaDeg()) * scale
}

// AreaM2 returns the polygon area in square meters: exterior minus holes.
func (p Polygon) AreaM2() float64 {
	if len(p) == 0 {
		return 0
	}
	area := p[0].areaM2()
	for _, hole := range p[1:] {
		area -= hole.areaM2()
	}
	if area < 0 {
		return 0
	}
	return area
}

// AreaM2 returns the summed area of all member polygons in square meters.
func (mp MultiPolygon) AreaM2() float64 {
	var total float64
	for _, p := range mp {
		total += p.AreaM2()
	}
	return total
}

// Centroid returns the area-weighted centroid of the exterior rings.
// Degenerate rings fall back to the vertex mean.
func (mp MultiPolygon) Centroid() Point {
	var cx, cy, weight float64
	for _, p := range mp {
		if len(p) == 0 {
			continue
		}
		c, a := p[0].centroidDeg()
		if a == 0 {
			continue
		}
		cx += c.Lon * a
		cy += c.Lat * a
		weight += a
	}
	if weight != 0 {
		return Point{Lat: cy / weight, Lon: cx / weight}
	}
	// All rings degenerate: average every vertex instead.
	var sx, sy float64
	var n int
	for _, p := range mp {
		for _, r := range p {
			for _, pt := range r {
				sx += pt.Lon
				sy += pt.Lat
				n++
			}
		}
	}
	if n == 0 {
		return Point{}
	}
	return Point{Lat: sy / float64(n), Lon: sx / float64(n)}
}

// centroidDeg returns the shoelace centroid of the ring and the absolute
// shoelace area used as its weight, both in degree space.
func (r Ring) centroidDeg() (Point, float64) {
	n := len(r)
	if n < 3 {
		return Point{}, 0
	}
	var cx, cy, area float64
	j := n - 1
	for i := 0; i < n; i++ {
		cross := r[j].Lon*r[i].Lat - r[i].Lon*r[j].Lat
		cx += (r[j].Lon + r[i].Lon) * cross
		cy += (r[j].Lat + r[i].Lat) * cross
		area += cross
		j = i
	}
	if area == 0 {
		return Point{}, 0
	}
	return Point{Lat: cy / (3 * area), Lon: cx / (3 * area)}, math.Abs(area / 2)
}

// geoJSONGeometry mirrors the GeoJSON geometry object; coordinates are
// decoded per Type.
type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseGeoJSON decodes a GeoJSON geometry object (Point, Polygon or
// MultiPolygon) into a Geometry. GeoJSON orders coordinates [lon, lat].
func ParseGeoJSON(raw []byte) (*Geometry, error) {
	var gj geoJSONGeometry
	if err := json.Unmarshal(raw, &gj); err != nil {
		return nil, fmt.Errorf("parse geojson geometry: %w", err)
	}
	switch gj.Type {
	case "Point":
		var c []float64
		if err := json.Unmarshal(gj.Coordinates, &c); err != nil || len(c) < 2 {
			return nil, fmt.Errorf("parse geojson point coordinates")
		}
		return &Geometry{Point: &Point{Lat: c[1], Lon: c[0]}}, nil
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(gj.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("parse geojson polygon coordinates: %w", err)
		}
		return &Geometry{Polygons: MultiPolygon{polygonFromCoords(rings)}}, nil
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(gj.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("parse geojson multipolygon coordinates: %w", err)
		}
		mp := make(MultiPolygon, 0, len(polys))
		for _, rings := range polys {
			mp = append(mp, polygonFromCoords(rings))
		}
		return &Geometry{Polygons: mp}, nil
	default:
		return nil, fmt.Errorf("unsupported geojson geometry type %q", gj.Type)
	}
}

func polygonFromCoords(rings [][][]float64) Polygon {
	p := make(Polygon, 0, len(rings))
	for _, ring := range rings {
		r := make(Ring, 0, len(ring))
		for _, c := range ring {
			if len(c) >= 2 {
				r = append(r, Point{Lat: c[1], Lon: c[0]})
			}
		}
		p = append(p, r)
	}
	return p
}

// MarshalJSON encodes the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Point != nil {
		return json.Marshal(geoJSONOut{
			Type:        "Point",
			Coordinates: []float64{g.Point.Lon, g.Point.Lat},
		})
	}
	polys := make([][][][]float64, 0, len(g.Polygons))
	for _, p := range g.Polygons {
		rings := make([][][]float64, 0, len(p))
		for _, r := range p {
			ring := make([][]float64, 0, len(r))
			for _, pt := range r {
				ring = append(ring, []float64{pt.Lon, pt.Lat})
			}
			rings = append(rings, ring)
		}
		polys = append(polys, rings)
	}
	return json.Marshal(geoJSONOut{Type: "MultiPolygon", Coordinates: polys})
}

type geoJSONOut struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// UnmarshalJSON decodes a GeoJSON geometry object.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	parsed, err := ParseGeoJSON(data)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

// ParseWKT decodes a WKT POINT, POLYGON or MULTIPOLYGON string. The Paris
// portal exports polygon fields as WKT in some dataset revisions, with
// coordinates ordered lon lat.
func ParseWKT(s string) (*Geometry, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "POINT"):
		body, err := wktBody(s, "POINT")
		if err != nil {
			return nil, err
		}
		pt, err := wktPoint(body)
		if err != nil {
			return nil, err
		}
		return &Geometry{Point: &pt}, nil
	case strings.HasPrefix(upper, "MULTIPOLYGON"):
		body, err := wktBody(s, "MULTIPOLYGON")
		if err != nil {
			return nil, err
		}
		groups, err := wktSplit(body)
		if err != nil {
			return nil, err
		}
		mp := make(MultiPolygon, 0, len(groups))
		for _, g := range groups {
			inner, err := wktUnwrap(g)
			if err != nil {
				return nil, err
			}
			poly, err := wktPolygon(inner)
			if err != nil {
				return nil, err
			}
			mp = append(mp, poly)
		}
		return &Geometry{Polygons: mp}, nil
	case strings.HasPrefix(upper, "POLYGON"):
		body, err := wktBody(s, "POLYGON")
		if err != nil {
			return nil, err
		}
		poly, err := wktPolygon(body)
		if err != nil {
			return nil, err
		}
		return &Geometry{Polygons: MultiPolygon{poly}}, nil
	default:
		return nil, fmt.Errorf("unsupported wkt geometry %q", truncate(s, 32))
	}
}

// wktBody strips the type keyword and one enclosing paren pair, returning
// the inner text.
func wktBody(s, keyword string) (string, error) {
	inner, err := wktUnwrap(s[len(keyword):])
	if err != nil {
		return "", fmt.Errorf("malformed wkt %s", keyword)
	}
	return inner, nil
}

// wktUnwrap removes exactly one enclosing paren pair. Nested parens inside
// are left intact, preserving ring and polygon grouping.
func wktUnwrap(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return "", fmt.Errorf("malformed wkt group %q", truncate(s, 32))
	}
	return s[1 : len(s)-1], nil
}

// wktSplit splits a comma-separated list at paren depth 0.
func wktSplit(s string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced wkt parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced wkt parentheses")
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts, nil
}

// wktPolygon parses "(ring), (ring), ..." where each ring is "x y, x y, ...".
func wktPolygon(s string) (Polygon, error) {
	rings, err := wktSplit(s)
	if err != nil {
		return nil, err
	}
	poly := make(Polygon, 0, len(rings))
	for _, group := range rings {
		ringStr, err := wktUnwrap(group)
		if err != nil {
			return nil, err
		}
		var ring Ring
		for _, pair := range strings.Split(ringStr, ",") {
			pt, err := wktPoint(pair)
			if err != nil {
				return nil, err
			}
			ring = append(ring, pt)
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// wktPoint parses "x y" with lon first.
func wktPoint(s string) (Point, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 {
		return Point{}, fmt.Errorf("malformed wkt coordinate %q", s)
	}
	lon, err1 := strconv.ParseFloat(fields[0], 64)
	lat, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil {
		return Point{}, fmt.Errorf("malformed wkt coordinate %q", s)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DistrictBoundary is the reference polygon for one administrative district.
// Boundaries are loaded once per run and treated as read-only.
type DistrictBoundary struct {
	Code     string
	Name     string
	Number   int
	Geometry MultiPolygon
	AreaM2   float64
}

// Resolution errors returned by name lookup. A conflicting mapping is kept
// distinct from an unknown one so cleaning can report district_conflict
// instead of guessing a resolution order.
var (
	ErrNameUnknown  = errors.New("locality name not in reference mapping")
	ErrNameConflict = errors.New("locality name maps to multiple districts")
)

// BoundarySet holds every district boundary plus a canonical name→code index
// for records that carry only a free-text locality.
type BoundarySet struct {
	boundaries []DistrictBoundary
	byCode     map[string]*DistrictBoundary
	byName     map[string]string // normalized name → code; conflictMark when ambiguous
}

const conflictMark = "\x00conflict"

// stripAccents removes combining marks so "Hôtel-de-Ville" and
// "Hotel de Ville" index identically.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLocality lowercases, strips accents and collapses punctuation and
// whitespace, producing the canonical lookup key for a locality name.
func NormalizeLocality(s string) string {
	folded, _, _ := transform.String(stripAccents, strings.ToLower(s))
	var b strings.Builder
	lastSpace := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// NewBoundarySet builds the lookup structures from loaded boundaries.
func NewBoundarySet(boundaries []DistrictBoundary) *BoundarySet {
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Code < boundaries[j].Code })
	bs := &BoundarySet{
		boundaries: boundaries,
		byCode:     make(map[string]*DistrictBoundary, len(boundaries)),
		byName:     make(map[string]string),
	}
	for i := range bs.boundaries {
		b := &bs.boundaries[i]
		if b.AreaM2 == 0 {
			b.AreaM2 = b.Geometry.AreaM2()
		}
		bs.byCode[b.Code] = b
		for _, alias := range districtAliases(b) {
			bs.index(alias, b.Code)
		}
	}
	return bs
}

// index registers one alias, marking it conflicted when two districts claim
// the same normalized name.
func (bs *BoundarySet) index(alias, code string) {
	key := NormalizeLocality(alias)
	if key == "" {
		return
	}
	if existing, ok := bs.byName[key]; ok && existing != code {
		bs.byName[key] = conflictMark
		return
	}
	bs.byName[key] = code
}

// districtAliases lists the locality spellings that should resolve to the
// district, e.g. "1er Arrondissement", "Paris 1er", "PARIS 1ER ARRDT" and
// the official quarter name ("Louvre").
func districtAliases(b *DistrictBoundary) []string {
	aliases := []string{b.Name}
	if b.Number > 0 {
		ord := ordinalFR(b.Number)
		aliases = append(aliases,
			fmt.Sprintf("%s arrondissement", ord),
			fmt.Sprintf("paris %s", ord),
			fmt.Sprintf("paris %s arrdt", ord),
			fmt.Sprintf("paris %s ardt", ord),
			fmt.Sprintf("%de arrondissement", b.Number),
		)
	}
	return aliases
}

// ordinalFR renders the French ordinal used in arrondissement names:
// 1 → "1er", everything else → "<n>e".
func ordinalFR(n int) string {
	if n == 1 {
		return "1er"
	}
	return strconv.Itoa(n) + "e"
}

// Codes returns every district code in sorted order.
func (bs *BoundarySet) Codes() []string {
	codes := make([]string, 0, len(bs.boundaries))
	for _, b := range bs.boundaries {
		codes = append(codes, b.Code)
	}
	return codes
}

// Get returns the boundary for a canonical code.
func (bs *BoundarySet) Get(code string) (*DistrictBoundary, bool) {
	b, ok := bs.byCode[code]
	return b, ok
}

// Len returns the number of districts.
func (bs *BoundarySet) Len() int { return len(bs.boundaries) }

// ResolvePoint returns the code of the district whose polygon contains the
// point. Boundaries are disjoint, so the first hit wins; iteration order is
// fixed (sorted by code) for determinism.
func (bs *BoundarySet) ResolvePoint(pt Point) (string, bool) {
	for i := range bs.boundaries {
		if bs.boundaries[i].Geometry.Contains(pt) {
			return bs.boundaries[i].Code, true
		}
	}
	return "", false
}

// ResolveGeometry resolves a geometry to a district: points by containment,
// polygons by their centroid, falling back to the first vertex when the
// centroid lands outside every district (thin shapes along the boundary).
func (bs *BoundarySet) ResolveGeometry(g *Geometry) (string, bool) {
	if g == nil {
		return "", false
	}
	if g.Point != nil {
		return bs.ResolvePoint(*g.Point)
	}
	if len(g.Polygons) == 0 {
		return "", false
	}
	if code, ok := bs.ResolvePoint(g.Polygons.Centroid()); ok {
		return code, true
	}
	for _, p := range g.Polygons {
		for _, r := range p {
			for _, pt := range r {
				if code, ok := bs.ResolvePoint(pt); ok {
					return code, true
				}
			}
		}
	}
	return "", false
}

// ResolveName maps a free-text locality name to a district code,
// case- and diacritic-insensitively.
func (bs *BoundarySet) ResolveName(name string) (string, error) {
	code, ok := bs.byName[NormalizeLocality(name)]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrNameUnknown)
	}
	if code == conflictMark {
		return "", fmt.Errorf("%q: %w", name, ErrNameConflict)
	}
	return code, nil
}

// ResolveCode canonicalizes the district identifiers the feeds actually use:
// an arrondissement number (1–20), an INSEE code ("75101"), or a Paris
// postal code ("75001").
func (bs *BoundarySet) ResolveCode(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if _, ok := bs.byCode[value]; ok {
		return value, true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", false
	}
	switch {
	case n >= 1 && n <= 20:
		// arrondissement number
	case n >= 75001 && n <= 75020:
		n -= 75000 // postal code
	default:
		return "", false
	}
	code := fmt.Sprintf("751%02d", n)
	_, ok := bs.byCode[code]
	return code, ok
}

// boundaryFeature mirrors the subset of the arrondissements GeoJSON the
// loader needs: the arrondissement number, display names and the polygon.
type boundaryFeature struct {
	Properties struct {
		CAr       json.Number     `json:"c_ar"`
		CArInsee  json.Number     `json:"c_arinsee"`
		LAr       string          `json:"l_ar"`
		LAroff    string          `json:"l_aroff"`
		SurfaceM2 float64         `json:"surface"`
		Geom      json.RawMessage `json:"geom"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

type boundaryCollection struct {
	Features []boundaryFeature `json:"features"`
}

// LoadBoundaries reads district boundaries from a GeoJSON FeatureCollection
// reference file (the exported arrondissements dataset).
func LoadBoundaries(path string) (*BoundarySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary file: %w", err)
	}
	var fc boundaryCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse boundary file: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("boundary file contains no features")
	}
	boundaries := make([]DistrictBoundary, 0, len(fc.Features))
	for i, f := range fc.Features {
		b, err := boundaryFromFeature(f)
		if err != nil {
			return nil, fmt.Errorf("boundary feature %d: %w", i, err)
		}
		boundaries = append(boundaries, b)
	}
	return NewBoundarySet(boundaries), nil
}

func boundaryFromFeature(f boundaryFeature) (DistrictBoundary, error) {
	geomRaw := f.Geometry
	if len(geomRaw) == 0 {
		geomRaw = f.Properties.Geom
	}
	if len(geomRaw) == 0 {
		return DistrictBoundary{}, errors.New("missing geometry")
	}
	geom, err := ParseGeoJSON(geomRaw)
	if err != nil {
		return DistrictBoundary{}, err
	}
	if len(geom.Polygons) == 0 {
		return DistrictBoundary{}, errors.New("geometry is not a polygon")
	}

	number := 0
	if n, err := f.Properties.CAr.Int64(); err == nil {
		number = int(n)
	}
	code := ""
	if insee, err := f.Properties.CArInsee.Int64(); err == nil && insee > 0 {
		code = strconv.FormatInt(insee, 10)
	} else if number > 0 {
		code = fmt.Sprintf("751%02d", number)
	}
	if code == "" {
		return DistrictBoundary{}, errors.New("missing district code")
	}
	if number == 0 && strings.HasPrefix(code, "751") {
		if n, err := strconv.Atoi(code[3:]); err == nil {
			number = n
		}
	}

	name := f.Properties.LAroff
	if name == "" {
		name = f.Properties.LAr
	}

	return DistrictBoundary{
		Code:     code,
		Name:     name,
		Number:   number,
		Geometry: geom.Polygons,
		AreaM2:   f.Properties.SurfaceM2,
	}, nil
}

// WriteFile saves the set as a GeoJSON FeatureCollection in the shape
// LoadBoundaries reads, so a bootstrapped reference survives to later runs.
func (bs *BoundarySet) WriteFile(path string) error {
	type feature struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Geometry   Geometry       `json:"geometry"`
	}
	fc := struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}{Type: "FeatureCollection"}

	for i := range bs.boundaries {
		b := &bs.boundaries[i]
		props := map[string]any{
			"c_ar":    b.Number,
			"l_aroff": b.Name,
			"surface": b.AreaM2,
		}
		if insee, err := strconv.Atoi(b.Code); err == nil {
			props["c_arinsee"] = insee
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Properties: props,
			Geometry:   Geometry{Polygons: b.Geometry},
		})
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal boundary file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create boundary dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write boundary file: %w", err)
	}
	return nil
}

// BoundariesFromRecords builds the reference set from a fetched
// arrondissements feed batch, so a run can bootstrap its reference data from
// the same portal it ingests feeds from.
func BoundariesFromRecords(records []RawRecord) (*BoundarySet, error) {
	boundaries := make([]DistrictBoundary, 0, len(records))
	for _, rec := range records {
		if rec.Geometry == nil || len(rec.Geometry.Polygons) == 0 {
			continue
		}
		number := intField(rec.Fields, "c_ar")
		if number < 1 || number > 20 {
			continue
		}
		name, _ := rec.Fields["l_aroff"].(string)
		if name == "" {
			name, _ = rec.Fields["l_ar"].(string)
		}
		boundaries = append(boundaries, DistrictBoundary{
			Code:     fmt.Sprintf("751%02d", number),
			Name:     name,
			Number:   number,
			Geometry: rec.Geometry.Polygons,
		})
	}
	if len(boundaries) == 0 {
		return nil, errors.New("arrondissements feed yielded no usable boundaries")
	}
	return NewBoundarySet(boundaries), nil
}

// intField extracts an integer from a loosely typed source field.
func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Cleaner normalizes one feed's raw batch into clean records plus a
// rejection list. Cleaning is a pure transform: given the same raw batch and
// the same boundary reference, the output is identical across runs.
type Cleaner struct {
	boundaries *BoundarySet
	logger     *slog.Logger
}

// NewCleaner creates a Cleaner resolving districts against the given
// boundary reference.
func NewCleaner(boundaries *BoundarySet, logger *slog.Logger) *Cleaner {
	return &Cleaner{boundaries: boundaries, logger: logger}
}

// errUnknownValue marks a value that is present but carries a source
// "no data" sentinel; it cleans to an explicit unknown, not a rejection.
var errUnknownValue = errors.New("unknown value sentinel")

// Clean consumes the full raw batch for one feed. Records that fail the
// feed's field contract or cannot be mapped to a district are rejected with
// a machine-readable reason and logged; the batch continues.
func (c *Cleaner) Clean(feed FeedID, records []RawRecord) ([]CleanRecord, []Rejection) {
	clean := make([]CleanRecord, 0, len(records))
	var rejections []Rejection

	for _, rec := range records {
		cr, rej := c.cleanRecord(feed, rec)
		if rej != nil {
			rejections = append(rejections, *rej)
			c.logger.Warn("record rejected",
				"feed", feed,
				"source_id", rej.SourceID,
				"reason", rej.Reason,
				"detail", rej.Detail,
			)
			continue
		}
		clean = append(clean, cr)
	}
	return clean, rejections
}

func (c *Cleaner) cleanRecord(feed FeedID, rec RawRecord) (CleanRecord, *Rejection) {
	geom := recordGeometry(rec)

	values, rej := normalizeValues(feed, rec)
	if rej != nil {
		return CleanRecord{}, rej
	}

	district, rej := c.resolveDistrict(feed, rec, geom)
	if rej != nil {
		return CleanRecord{}, rej
	}

	// Green-space area falls back to the polygon's own surface when the
	// source omits the explicit field.
	if feed == FeedGreenSpace && !values["area_m2"].Known && geom != nil && len(geom.Polygons) > 0 {
		values["area_m2"] = KnownQuantity(geom.Polygons.AreaM2())
	}

	var lat, lon float64
	if pt, ok := geom.RepresentativePoint(); ok {
		lat, lon = pt.Lat, pt.Lon
	}

	return CleanRecord{
		ID:       recordID(feed, rec.SourceID, lat, lon),
		Feed:     feed,
		District: district,
		Geometry: geom,
		Values:   values,
	}, nil
}

// resolveDistrict maps a record to its canonical district code. Geometry
// wins when present; otherwise explicit code fields, then free-text locality
// names. Conflicting name mappings are surfaced as district_conflict rather
// than resolved by any precedence guess.
func (c *Cleaner) resolveDistrict(feed FeedID, rec RawRecord, geom *Geometry) (string, *Rejection) {
	if geom.HasPoint() {
		if code, ok := c.boundaries.ResolveGeometry(geom); ok {
			return code, nil
		}
		return "", &Rejection{
			SourceID: rec.SourceID,
			Feed:     feed,
			Reason:   ReasonDistrictUnresolved,
			Detail:   "geometry outside every district boundary",
		}
	}

	for _, key := range []string{"c_arinsee", "c_ar", "adresse_codepostal", "code_postal", "arrondissement_code"} {
		if s := stringField(rec.Fields, key); s != "" {
			if code, ok := c.boundaries.ResolveCode(s); ok {
				return code, nil
			}
		}
	}

	var nameErr error
	for _, key := range []string{"arrondissement", "commune", "localisation", "adresse_ville", "station"} {
		s := stringField(rec.Fields, key)
		if s == "" {
			continue
		}
		code, err := c.boundaries.ResolveName(s)
		if err == nil {
			return code, nil
		}
		nameErr = err
	}

	reason := ReasonDistrictUnresolved
	detail := "no geometry, code or known locality name"
	if errors.Is(nameErr, ErrNameConflict) {
		reason = ReasonDistrictConflict
		detail = nameErr.Error()
	}
	return "", &Rejection{SourceID: rec.SourceID, Feed: feed, Reason: reason, Detail: detail}
}

// normalizeValues applies the per-feed field contract: which source fields
// exist, how they coerce, and what unit they normalize to.
func normalizeValues(feed FeedID, rec RawRecord) (map[string]Quantity, *Rejection) {
	values := make(map[string]Quantity)

	switch feed {
	case FeedGreenSpace:
		area, err := areaM2(rec.Fields)
		if err != nil {
			return nil, reject(rec, feed, ReasonBadType, err)
		}
		if area.Known && area.Value < 0 {
			return nil, reject(rec, feed, ReasonOutOfRange, fmt.Errorf("negative area %v", area.Value))
		}
		values["area_m2"] = area

	case FeedTrees:
		height, err := quantityField(rec.Fields, "hauteurenm", "hauteur_en_m", "hauteur")
		if err != nil {
			return nil, reject(rec, feed, ReasonBadType, err)
		}
		values["height_m"] = height

	case FeedAirQuality, FeedAirparif:
		present := 0
		for _, pollutant := range []string{"no2", "pm25", "pm10", "o3"} {
			q, err := quantityField(rec.Fields, pollutant, pollutant+"_moyenne", "valeur_"+pollutant)
			if err != nil {
				return nil, reject(rec, feed, ReasonBadType, err)
			}
			q = normalizeConcentration(q, stringField(rec.Fields, "unite"))
			if q.Known && (q.Value < 0 || q.Value > 1000) {
				return nil, reject(rec, feed, ReasonOutOfRange,
					fmt.Errorf("%s concentration %v out of range", pollutant, q.Value))
			}
			if q.Known {
				present++
			}
			values[pollutant] = q
		}
		if present == 0 {
			return nil, reject(rec, feed, ReasonMissingField, errors.New("no pollutant value present"))
		}

	case FeedCoolingSpace:
		// Count-only feed, no measured values.

	default:
		return nil, reject(rec, feed, ReasonBadType, fmt.Errorf("unknown feed %q", feed))
	}

	return values, nil
}

func reject(rec RawRecord, feed FeedID, reason RejectReason, err error) *Rejection {
	return &Rejection{SourceID: rec.SourceID, Feed: feed, Reason: reason, Detail: err.Error()}
}

// areaM2 extracts a green-space surface and normalizes it to square meters.
// The portal has carried the surface under several names and two units
// across dataset revisions.
func areaM2(fields map[string]any) (Quantity, error) {
	q, err := quantityField(fields, "surface_totale_reelle", "surface_m2", "surface")
	if err != nil {
		return Quantity{}, err
	}
	if q.Known {
		return q, nil
	}
	ha, err := quantityField(fields, "surface_totale_ha", "surface_ha")
	if err != nil {
		return Quantity{}, err
	}
	if ha.Known {
		return KnownQuantity(ha.Value * 10_000), nil
	}
	return UnknownQuantity(), nil
}

// normalizeConcentration converts a pollutant value to µg/m³ when the source
// declares another unit.
func normalizeConcentration(q Quantity, unit string) Quantity {
	if !q.Known {
		return q
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mg/m3", "mg/m³":
		return KnownQuantity(q.Value * 1000)
	default:
		return q
	}
}

// quantityField returns the first of the candidate keys coerced to a
// Quantity. An absent key or a source "no data" sentinel yields the explicit
// unknown state; a present but unparseable value is an error.
func quantityField(fields map[string]any, keys ...string) (Quantity, error) {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		q, err := coerceQuantity(v)
		if errors.Is(err, errUnknownValue) {
			return UnknownQuantity(), nil
		}
		if err != nil {
			return Quantity{}, fmt.Errorf("field %s: %w", key, err)
		}
		return q, nil
	}
	return UnknownQuantity(), nil
}

func coerceQuantity(v any) (Quantity, error) {
	switch val := v.(type) {
	case nil:
		return Quantity{}, errUnknownValue
	case float64:
		return KnownQuantity(val), nil
	case int:
		return KnownQuantity(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Quantity{}, fmt.Errorf("coerce %q to number", val.String())
		}
		return KnownQuantity(f), nil
	case string:
		s := strings.TrimSpace(val)
		switch strings.ToLower(s) {
		case "", "n/a", "na", "nd", "null", "-":
			return Quantity{}, errUnknownValue
		}
		// French CSV exports use a comma decimal separator.
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Quantity{}, fmt.Errorf("coerce %q to number", val)
		}
		return KnownQuantity(f), nil
	default:
		return Quantity{}, fmt.Errorf("coerce %T to number", v)
	}
}

// recordGeometry returns the record's geometry, deriving one from source
// fields when the payload carried none: geo_point_2d points (array, object
// or "lat, lon" string form) and geom/geo_shape polygons (GeoJSON or WKT).
func recordGeometry(rec RawRecord) *Geometry {
	if rec.Geometry != nil {
		return rec.Geometry
	}

	if pt, ok := geoPoint2D(rec.Fields["geo_point_2d"]); ok {
		return &Geometry{Point: &pt}
	}

	lat, latErr := quantityField(rec.Fields, "lat", "latitude")
	lon, lonErr := quantityField(rec.Fields, "lon", "lng", "longitude")
	if latErr == nil && lonErr == nil && lat.Known && lon.Known {
		return &Geometry{Point: &Point{Lat: lat.Value, Lon: lon.Value}}
	}

	for _, key := range []string{"geom", "geo_shape"} {
		switch v := rec.Fields[key].(type) {
		case string:
			if g, err := ParseWKT(v); err == nil {
				return g
			}
			if g, err := ParseGeoJSON([]byte(v)); err == nil {
				return g
			}
		case map[string]any:
			if raw, err := json.Marshal(v); err == nil {
				if g, err := ParseGeoJSON(raw); err == nil {
					return g
				}
			}
		}
	}
	return nil
}

// geoPoint2D decodes the portal's geo_point_2d field, which appears as
// [lat, lon], {"lat":..,"lon":..} or "lat, lon" depending on export path.
func geoPoint2D(v any) (Point, bool) {
	switch val := v.(type) {
	case []any:
		if len(val) == 2 {
			lat, ok1 := val[0].(float64)
			lon, ok2 := val[1].(float64)
			if ok1 && ok2 {
				return Point{Lat: lat, Lon: lon}, true
			}
		}
	case map[string]any:
		lat, ok1 := val["lat"].(float64)
		lon, ok2 := val["lon"].(float64)
		if ok1 && ok2 {
			return Point{Lat: lat, Lon: lon}, true
		}
	case string:
		parts := strings.Split(val, ",")
		if len(parts) == 2 {
			lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err1 == nil && err2 == nil {
				return Point{Lat: lat, Lon: lon}, true
			}
		}
	}
	return Point{}, false
}

// stringField renders a loosely typed source field as a trimmed string.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

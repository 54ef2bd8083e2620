// Package domain models Paris open-data feeds and their per-district
// aggregation.
//
// # Data sources
//
// Feed payloads come from the opendata.paris.fr records API
// (/api/records/1.0/search/), with a CSV export page as scrape fallback, and
// from the Airparif ArcGIS FeatureServer for air-quality indices. Schemas
// differ per dataset and per export path, so cleaning applies a strict
// per-feed field contract before anything is trusted.
//
// # Portal conventions
//
// Coordinates:
//
//	geo_point_2d carries [lat, lon] — the reverse of GeoJSON's [lon, lat].
//	Depending on export path it appears as an array, an object with lat/lon
//	keys, or a "lat, lon" string. Polygon fields (geom, geo_shape) appear as
//	GeoJSON geometry objects or WKT strings.
//
// Districts:
//
//	The unit of aggregation is the arrondissement, canonically identified by
//	its INSEE code: arrondissement n → "751" + zero-padded n, so the 1er is
//	"75101". Sources identify it three ways: the c_ar number (1–20), a Paris
//	postal code (75001–75020), or a free-text locality such as
//	"1er Arrondissement", "PARIS 7E ARRDT" or the official quarter name
//	("Louvre"). Locality lookup is case- and diacritic-insensitive.
//
// Numbers:
//
//	CSV exports use a semicolon separator and a comma decimal separator.
//	"n/a", "nd" and empty strings are no-data sentinels; they clean to an
//	explicit unknown state because zero is a valid measurement.
//
// Units:
//
//	Green-space surfaces normalize to m² (some revisions publish hectares);
//	pollutant concentrations normalize to µg/m³.
//
// # Missing vs. zero
//
// Aggregation preserves a three-way distinction: a defined value (possibly
// zero), a computed-but-empty or undefined value (row with the no-data
// marker and sample count 0), and a district never seen in the input (no
// row). Derived ratios with an absent or zero denominator are no-data,
// never 0 or ±Inf.
//
// # Determinism
//
// Record IDs are deterministic SHA-256 hashes of the identifying fields, and
// aggregation sums in ID order, so the same snapshot always produces
// bit-identical aggregates.
package domain

package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/vbonduro/yardwise/internal/zone"
)

// maxCoordinateDistanceKM bounds how far a coordinate may be from the nearest
// known ZIP centroid and still inherit its zone.
const maxCoordinateDistanceKM = 150

// ZoneStore resolves locations against the zip_zones table.
type ZoneStore struct {
	db *sql.DB
}

func NewZoneStore(db *sql.DB) *ZoneStore {
	return &ZoneStore{db: db}
}

func (s *ZoneStore) Resolve(ctx context.Context, loc zone.Location) (*zone.Resolution, error) {
	if strings.TrimSpace(loc.ZipCode) != "" {
		return s.resolveZip(ctx, loc.ZipCode)
	}
	if loc.Latitude != nil && loc.Longitude != nil {
		return s.resolveCoordinates(ctx, *loc.Latitude, *loc.Longitude)
	}
	return nil, nil
}

// resolveZip tries the exact five-digit ZIP, then its three-digit prefix.
func (s *ZoneStore) resolveZip(ctx context.Context, raw string) (*zone.Resolution, error) {
	zip := normalizeZip(raw)
	if zip == "" {
		return nil, nil
	}
	for _, key := range []string{zip, zip[:3]} {
		res, err := s.lookup(ctx, `SELECT zone_code, description FROM zip_zones WHERE zip = ?`, key)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

func (s *ZoneStore) resolveCoordinates(ctx context.Context, lat, lon float64) (*zone.Resolution, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, nil
	}
	// Equirectangular ordering; the exact distance is checked below.
	scale := math.Cos(lat * math.Pi / 180)
	var (
		res        zone.Resolution
		nLat, nLon float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT zone_code, description, latitude, longitude FROM zip_zones
		ORDER BY (latitude - ?) * (latitude - ?) + ((longitude - ?) * ?) * ((longitude - ?) * ?)
		LIMIT 1
	`, lat, lat, lon, scale, lon, scale).Scan(&res.Code, &res.Description, &nLat, &nLon)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve coordinates: %w", err)
	}
	if haversineKM(lat, lon, nLat, nLon) > maxCoordinateDistanceKM {
		return nil, nil
	}
	return &res, nil
}

func (s *ZoneStore) lookup(ctx context.Context, query string, args ...any) (*zone.Resolution, error) {
	var res zone.Resolution
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&res.Code, &res.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve zip: %w", err)
	}
	return &res, nil
}

// normalizeZip accepts "28202" and "28202-1234"; anything else yields "".
func normalizeZip(raw string) string {
	zip := strings.TrimSpace(raw)
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}
	if len(zip) != 5 {
		return ""
	}
	for _, r := range zip {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return zip
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

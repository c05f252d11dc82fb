package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/yardwise/internal/domain"
	"github.com/vbonduro/yardwise/internal/zone"
)

// CatalogQuery filters the plant catalog. Empty fields do not filter.
type CatalogQuery struct {
	Type  string
	Light string
	Zone  string
	Limit int
}

// CatalogStore gives read-only access to the plant catalog.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// Find returns matching plants, most popular first.
func (s *CatalogStore) Find(ctx context.Context, q CatalogQuery) ([]domain.CatalogPlant, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "plant_type = ?")
		args = append(args, q.Type)
	}
	if q.Light != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(plants.light) WHERE json_each.value = ?)")
		args = append(args, q.Light)
	}
	if q.Zone != "" {
		ord, err := zone.Ordinal(q.Zone)
		if err != nil {
			return nil, err
		}
		where = append(where, "zone_min_ordinal <= ? AND zone_max_ordinal >= ?")
		args = append(args, ord, ord)
	}

	query := `SELECT id, common_name, scientific_name, plant_type, light, water_needs, zone_min, zone_max,
		mature_size, description, image_url, tags, popularity FROM plants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY popularity DESC, common_name ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var plants []domain.CatalogPlant
	for rows.Next() {
		var (
			p           domain.CatalogPlant
			light, tags string
		)
		if err := rows.Scan(&p.ID, &p.CommonName, &p.ScientificName, &p.Type, &light, &p.WaterNeeds,
			&p.ZoneMin, &p.ZoneMax, &p.MatureSize, &p.Description, &p.ImageURL, &tags, &p.Popularity); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		if err := json.Unmarshal([]byte(light), &p.Light); err != nil {
			return nil, fmt.Errorf("failed to decode light for plant %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for plant %s: %w", p.ID, err)
		}
		plants = append(plants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plants: %w", err)
	}
	return plants, nil
}

func (s *CatalogStore) FindByTypeAndLight(ctx context.Context, plantType, light string) ([]domain.CatalogPlant, error) {
	return s.Find(ctx, CatalogQuery{Type: plantType, Light: light})
}

// ListPopular returns the most popular plants hardy in zoneCode.
func (s *CatalogStore) ListPopular(ctx context.Context, zoneCode string, limit int) ([]domain.CatalogPlant, error) {
	return s.Find(ctx, CatalogQuery{Zone: zoneCode, Limit: limit})
}

// Insert adds a plant, deriving the zone ordinal columns from its range. The
// service never writes the catalog; Insert seeds fixtures for tests.
func (s *CatalogStore) Insert(ctx context.Context, p domain.CatalogPlant) error {
	minOrd, err := zone.Ordinal(p.ZoneMin)
	if err != nil {
		return err
	}
	maxOrd, err := zone.Ordinal(p.ZoneMax)
	if err != nil {
		return err
	}
	light, err := json.Marshal(nonNil(p.Light))
	if err != nil {
		return fmt.Errorf("failed to encode light: %w", err)
	}
	tags, err := json.Marshal(nonNil(p.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plants (id, common_name, scientific_name, plant_type, light, water_needs, zone_min, zone_max,
			zone_min_ordinal, zone_max_ordinal, mature_size, description, image_url, tags, popularity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CommonName, p.ScientificName, p.Type, string(light), p.WaterNeeds, p.ZoneMin, p.ZoneMax,
		minOrd, maxOrd, p.MatureSize, p.Description, p.ImageURL, string(tags), p.Popularity)
	if err != nil {
		return fmt.Errorf("failed to insert plant: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

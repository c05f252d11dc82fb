// Package matching turns the model's plant archetypes into concrete catalog
// recommendations for one analysis.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vbonduro/yardwise/internal/domain"
	"github.com/vbonduro/yardwise/internal/vision"
	"github.com/vbonduro/yardwise/internal/zone"
)

const (
	perArchetype  = 2
	fallbackCount = 5
)

const FallbackReason = "A popular, easy-care choice for your hardiness zone."

// Catalog is the read-only plant catalog.
type Catalog interface {
	FindByTypeAndLight(ctx context.Context, plantType, light string) ([]domain.CatalogPlant, error)
	ListPopular(ctx context.Context, zoneCode string, limit int) ([]domain.CatalogPlant, error)
}

type Engine struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewEngine(catalog Catalog, logger *slog.Logger) *Engine {
	return &Engine{catalog: catalog, logger: logger}
}

type candidate struct {
	plant domain.CatalogPlant
	score int
}

// Match resolves archetypes against the catalog. zoneCode may be empty, in
// which case no zone filter applies and no fallback is produced. The result
// never holds more than domain.MaxRecommendations entries and never repeats
// a plant.
func (e *Engine) Match(ctx context.Context, archetypes []vision.Archetype, zoneCode string) ([]domain.PlantRecommendation, error) {
	if zoneCode != "" {
		if _, err := zone.Parse(zoneCode); err != nil {
			return nil, err
		}
	}

	used := make(map[string]bool)
	recs := make([]domain.PlantRecommendation, 0, domain.MaxRecommendations)

	for _, arch := range archetypes {
		plants, err := e.catalog.FindByTypeAndLight(ctx, arch.PlantType, arch.LightRequirement)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog for %s/%s: %w", arch.PlantType, arch.LightRequirement, err)
		}

		var candidates []candidate
		for _, p := range plants {
			if p.Type != arch.PlantType || !slices.Contains(p.Light, arch.LightRequirement) {
				continue
			}
			if !e.inZone(p, zoneCode) {
				continue
			}
			candidates = append(candidates, candidate{plant: p, score: score(arch.SearchTags, p.Tags)})
		}
		slices.SortStableFunc(candidates, func(a, b candidate) int {
			return b.score - a.score
		})

		taken := 0
		for _, c := range candidates {
			if taken == perArchetype {
				break
			}
			if used[c.plant.ID] {
				continue
			}
			used[c.plant.ID] = true
			recs = append(recs, recommend(c.plant, arch.LightRequirement, arch.Reason, arch.Category))
			taken++
		}
	}

	if len(recs) == 0 && zoneCode != "" {
		fallback, err := e.fallback(ctx, zoneCode, used)
		if err != nil {
			return nil, err
		}
		recs = append(recs, fallback...)
	}

	if len(recs) > domain.MaxRecommendations {
		recs = recs[:domain.MaxRecommendations]
	}
	return recs, nil
}

func (e *Engine) fallback(ctx context.Context, zoneCode string, used map[string]bool) ([]domain.PlantRecommendation, error) {
	plants, err := e.catalog.ListPopular(ctx, zoneCode, fallbackCount+len(used))
	if err != nil {
		return nil, fmt.Errorf("failed to list popular plants for zone %s: %w", zoneCode, err)
	}

	var recs []domain.PlantRecommendation
	for _, p := range plants {
		if len(recs) == fallbackCount {
			break
		}
		if used[p.ID] || !e.inZone(p, zoneCode) {
			continue
		}
		used[p.ID] = true
		light := ""
		if len(p.Light) > 0 {
			light = p.Light[0]
		}
		recs = append(recs, recommend(p, light, FallbackReason, domain.CategoryQuickWin))
	}
	e.logger.Info("used popular fallback", "zone", zoneCode, "count", len(recs))
	return recs, nil
}

// inZone treats a catalog entry with an unparsable range as out of zone.
func (e *Engine) inZone(p domain.CatalogPlant, zoneCode string) bool {
	if zoneCode == "" {
		return true
	}
	ok, err := zone.IsInRange(zoneCode, p.ZoneMin, p.ZoneMax)
	if err != nil {
		e.logger.Warn("skipping plant with invalid zone range", "plant", p.ID, "error", err)
		return false
	}
	return ok
}

// score counts search tags found inside any of the plant's tags.
func score(searchTags, plantTags []string) int {
	n := 0
	for _, st := range searchTags {
		needle := strings.ToLower(st)
		if needle == "" {
			continue
		}
		for _, pt := range plantTags {
			if strings.Contains(strings.ToLower(pt), needle) {
				n++
				break
			}
		}
	}
	return n
}

func recommend(p domain.CatalogPlant, light, reason, category string) domain.PlantRecommendation {
	return domain.PlantRecommendation{
		PlantID:        p.ID,
		CommonName:     p.CommonName,
		ScientificName: p.ScientificName,
		PlantType:      p.Type,
		Light:          light,
		WaterNeeds:     p.WaterNeeds,
		MatureSize:     p.MatureSize,
		Description:    p.Description,
		ImageURL:       p.ImageURL,
		Reason:         reason,
		Category:       category,
	}
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/yardwise/internal/domain"
	"github.com/vbonduro/yardwise/internal/zone"
)

func plantIDs(plants []domain.CatalogPlant) []string {
	ids := make([]string, len(plants))
	for i, p := range plants {
		ids[i] = p.ID
	}
	return ids
}

func TestCatalogStoreFindByTypeAndLight(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))

	plants, err := s.Find(context.Background(), CatalogQuery{Type: "perennial", Light: "full_shade"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hosta", "astilbe"}, plantIDs(plants))

	hosta := plants[0]
	assert.Equal(t, "Hosta", hosta.CommonName)
	assert.Equal(t, []string{"partial_shade", "full_shade"}, hosta.Light)
	assert.Contains(t, hosta.Tags, "shade")
	assert.Equal(t, "3a", hosta.ZoneMin)
	assert.Equal(t, "9b", hosta.ZoneMax)
}

func TestCatalogStoreFindByZone(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	plants, err := s.Find(ctx, CatalogQuery{Type: "perennial", Light: "partial_shade", Zone: "7b"})
	require.NoError(t, err)
	assert.Contains(t, plantIDs(plants), "hosta")
	for _, p := range plants {
		ok, err := zone.IsInRange("7b", p.ZoneMin, p.ZoneMax)
		require.NoError(t, err)
		assert.True(t, ok, p.ID)
	}

	plants, err = s.Find(ctx, CatalogQuery{Type: "perennial", Zone: "2a"})
	require.NoError(t, err)
	assert.Empty(t, plants)
}

func TestCatalogStoreFindOrdering(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))

	plants, err := s.Find(context.Background(), CatalogQuery{Zone: "7a"})
	require.NoError(t, err)
	require.NotEmpty(t, plants)
	for i := 1; i < len(plants); i++ {
		assert.GreaterOrEqual(t, plants[i-1].Popularity, plants[i].Popularity)
	}
}

func TestCatalogStoreFindLimit(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))

	plants, err := s.Find(context.Background(), CatalogQuery{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"hosta", "coneflower", "lavender"}, plantIDs(plants))
}

func TestCatalogStoreFindInvalidZone(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))

	_, err := s.Find(context.Background(), CatalogQuery{Zone: "14a"})
	assert.ErrorIs(t, err, zone.ErrInvalidZoneCode)
}

func TestCatalogStoreInsert(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	err := s.Insert(ctx, domain.CatalogPlant{
		ID:         "fern",
		CommonName: "Ostrich Fern",
		Type:       "perennial",
		Light:      []string{"full_shade"},
		ZoneMin:    "2a",
		ZoneMax:    "6b",
		Popularity: 10,
	})
	require.NoError(t, err)

	plants, err := s.Find(ctx, CatalogQuery{Type: "perennial", Light: "full_shade", Zone: "2a"})
	require.NoError(t, err)
	require.Len(t, plants, 1)
	assert.Equal(t, "fern", plants[0].ID)
	assert.Empty(t, plants[0].Tags)
}

func TestCatalogStoreListPopular(t *testing.T) {
	s := NewCatalogStore(openTestDB(t))

	plants, err := s.ListPopular(context.Background(), "10a", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"marigold", "agave"}, plantIDs(plants))
}

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/yardwise/internal/db"
	"github.com/vbonduro/yardwise/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newPending(id string, at time.Time) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		ID:              id,
		Status:          domain.StatusPending,
		PhotoRef:        "uploads/" + id + ".jpg",
		ZoneCode:        "7b",
		ZoneDescription: "Charlotte, NC",
		CreatedAt:       at,
		UpdatedAt:       at,
		ExpiresAt:       at.Add(24 * time.Hour),
	}
}

func TestAnalysisStoreCreateAndGet(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))

	rec, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "uploads/a1.jpg", rec.PhotoRef)
	assert.Equal(t, "7b", rec.ZoneCode)
	assert.Equal(t, "Charlotte, NC", rec.ZoneDescription)
	assert.True(t, baseTime.Equal(rec.CreatedAt))
	assert.True(t, baseTime.Add(24*time.Hour).Equal(rec.ExpiresAt))
	assert.Nil(t, rec.Result)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.Retryable)
}

func TestAnalysisStoreGetMissing(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))

	rec, err := s.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAnalysisStoreHappyPath(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))

	require.NoError(t, s.MarkAnalyzing(ctx, "a1", baseTime.Add(time.Second)))
	require.NoError(t, s.MarkMatching(ctx, "a1", baseTime.Add(2*time.Second)))

	result := &domain.AnalysisResult{
		Summary:            "Shady backyard",
		YardSize:           "medium",
		OverallSunExposure: "partial_shade",
		Features:           []domain.IdentifiedFeature{{ID: "f1", Type: "tree", Label: "Oak"}},
		Recommendations:    []domain.PlantRecommendation{{PlantID: "hosta", CommonName: "Hosta"}},
	}
	require.NoError(t, s.Complete(ctx, "a1", result, "https://photos/a1", baseTime.Add(3*time.Second)))

	rec, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, rec.Status)
	assert.Equal(t, "https://photos/a1", rec.PhotoURL)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "Shady backyard", rec.Result.Summary)
	require.Len(t, rec.Result.Recommendations, 1)
	assert.Equal(t, "hosta", rec.Result.Recommendations[0].PlantID)
	assert.True(t, baseTime.Add(3*time.Second).Equal(rec.UpdatedAt))
}

func TestAnalysisStoreCompleteFromAnalyzing(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))
	require.NoError(t, s.MarkAnalyzing(ctx, "a1", baseTime))

	result := &domain.AnalysisResult{Summary: "not a yard"}
	require.NoError(t, s.Complete(ctx, "a1", result, "", baseTime))

	rec, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, rec.Status)
}

func TestAnalysisStoreFail(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))
	require.NoError(t, s.MarkAnalyzing(ctx, "a1", baseTime))

	require.NoError(t, s.Fail(ctx, "a1", "Service is busy. Please try again in a moment.", "vision_rate_limited", true, baseTime))

	rec, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, "Service is busy. Please try again in a moment.", rec.Error)
	assert.Equal(t, "vision_rate_limited", rec.ErrorKind)
	assert.True(t, rec.Retryable)
	assert.Nil(t, rec.Result)
}

func TestAnalysisStoreForwardOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("pending cannot skip to matching", func(t *testing.T) {
		s := NewAnalysisStore(openTestDB(t))
		require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))
		err := s.MarkMatching(ctx, "a1", baseTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("analyzing twice is rejected", func(t *testing.T) {
		s := NewAnalysisStore(openTestDB(t))
		require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))
		require.NoError(t, s.MarkAnalyzing(ctx, "a1", baseTime))
		err := s.MarkAnalyzing(ctx, "a1", baseTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("terminal records never move", func(t *testing.T) {
		s := NewAnalysisStore(openTestDB(t))
		require.NoError(t, s.Create(ctx, newPending("a1", baseTime)))
		require.NoError(t, s.MarkAnalyzing(ctx, "a1", baseTime))
		require.NoError(t, s.Fail(ctx, "a1", "boom", "unknown", true, baseTime))

		assert.ErrorIs(t, s.Complete(ctx, "a1", &domain.AnalysisResult{}, "", baseTime), ErrInvalidTransition)
		assert.ErrorIs(t, s.Fail(ctx, "a1", "again", "unknown", false, baseTime), ErrInvalidTransition)

		rec, err := s.GetByID(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "boom", rec.Error)
		assert.True(t, rec.Retryable)
	})

	t.Run("missing record", func(t *testing.T) {
		s := NewAnalysisStore(openTestDB(t))
		assert.ErrorIs(t, s.MarkAnalyzing(ctx, "ghost", baseTime), ErrNotFound)
	})
}

func TestAnalysisStoreListByStatus(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newPending("second", baseTime.Add(time.Minute))))
	require.NoError(t, s.Create(ctx, newPending("first", baseTime)))
	require.NoError(t, s.Create(ctx, newPending("running", baseTime)))
	require.NoError(t, s.MarkAnalyzing(ctx, "running", baseTime))

	pending, err := s.ListByStatus(ctx, domain.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].ID)
	assert.Equal(t, "second", pending[1].ID)
}

func TestAnalysisStoreFailStale(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newPending("stale", baseTime)))
	require.NoError(t, s.MarkAnalyzing(ctx, "stale", baseTime))
	require.NoError(t, s.Create(ctx, newPending("fresh", baseTime)))
	require.NoError(t, s.MarkAnalyzing(ctx, "fresh", baseTime.Add(10*time.Minute)))
	require.NoError(t, s.Create(ctx, newPending("queued", baseTime)))

	n, err := s.FailStale(ctx, baseTime.Add(5*time.Minute), baseTime.Add(11*time.Minute), "AI analysis failed. Please try again.", "unknown")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := s.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stale.Status)
	assert.True(t, stale.Retryable)

	fresh, err := s.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzing, fresh.Status)

	queued, err := s.GetByID(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, queued.Status)
}

func TestAnalysisStorePurgeExpired(t *testing.T) {
	s := NewAnalysisStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newPending("old", baseTime)))
	require.NoError(t, s.Create(ctx, newPending("new", baseTime.Add(48*time.Hour))))

	n, err := s.PurgeExpired(ctx, baseTime.Add(30*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	old, err := s.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	kept, err := s.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

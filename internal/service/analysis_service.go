package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/yardwise/internal/clock"
	"github.com/vbonduro/yardwise/internal/dispatch"
	"github.com/vbonduro/yardwise/internal/domain"
	"github.com/vbonduro/yardwise/internal/photo"
	"github.com/vbonduro/yardwise/internal/pipeline"
	"github.com/vbonduro/yardwise/internal/zone"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrZoneNotFound   = errors.New("location could not be resolved to a zone")
	ErrNotFound       = errors.New("analysis not found")
)

// analysisRepository is the subset of store.AnalysisStore that AnalysisService requires.
type analysisRepository interface {
	Create(ctx context.Context, rec *domain.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.AnalysisRecord, error)
	FailStale(ctx context.Context, cutoff, now time.Time, message, kind string) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// photoRepository is the subset of photostore.PhotoStore that AnalysisService requires.
type photoRepository interface {
	Put(ctx context.Context, data []byte, mediaType string) (string, error)
	PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type Settings struct {
	RecordTTL  time.Duration
	PresignTTL time.Duration
	// StaleRunAfter is how long a record may sit in analyzing or matching
	// before recovery fails it.
	StaleRunAfter time.Duration
}

type AnalysisService struct {
	records  analysisRepository
	resolver zone.Resolver
	photos   photoRepository
	queue    dispatch.Queue
	clock    clock.Clock
	settings Settings
	logger   *slog.Logger
}

func NewAnalysisService(
	records analysisRepository,
	resolver zone.Resolver,
	photos photoRepository,
	queue dispatch.Queue,
	clk clock.Clock,
	settings Settings,
	logger *slog.Logger,
) *AnalysisService {
	return &AnalysisService{
		records:  records,
		resolver: resolver,
		photos:   photos,
		queue:    queue,
		clock:    clk,
		settings: settings,
		logger:   logger,
	}
}

type SubmitRequest struct {
	PhotoRef string         `json:"photoRef"`
	Location *zone.Location `json:"location,omitempty"`
}

type SubmitResponse struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

// Submit creates a pending analysis and hands it to the queue without waiting
// for the pipeline.
func (s *AnalysisService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	photoRef := strings.TrimSpace(req.PhotoRef)
	if photoRef == "" {
		return nil, fmt.Errorf("%w: photoRef is required", ErrInvalidRequest)
	}

	var resolved *zone.Resolution
	if req.Location != nil {
		if err := validateLocation(req.Location); err != nil {
			return nil, err
		}
		res, err := s.resolver.Resolve(ctx, *req.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve zone: %w", err)
		}
		if res == nil {
			return nil, ErrZoneNotFound
		}
		resolved = res
	}

	now := s.clock.Now()
	rec := &domain.AnalysisRecord{
		ID:        uuid.NewString(),
		Status:    domain.StatusPending,
		PhotoRef:  photoRef,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.settings.RecordTTL),
	}
	if resolved != nil {
		rec.ZoneCode = resolved.Code
		rec.ZoneDescription = resolved.Description
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	// A lost dispatch leaves the record pending; recovery re-enqueues it.
	if err := s.queue.Enqueue(ctx, rec.ID); err != nil {
		s.logger.Error("failed to dispatch analysis", "analysis_id", rec.ID, "error", err)
	}

	s.logger.Info("analysis submitted", "analysis_id", rec.ID, "zone", rec.ZoneCode)
	return &SubmitResponse{ID: rec.ID, Status: rec.Status}, nil
}

// validateLocation accepts either a ZIP code or a complete coordinate set
// (latitude, longitude and name), never a mix of the two.
func validateLocation(loc *zone.Location) error {
	zip := strings.TrimSpace(loc.ZipCode)
	hasLat, hasLon, hasName := loc.Latitude != nil, loc.Longitude != nil, strings.TrimSpace(loc.Name) != ""
	hasCoords := hasLat || hasLon || hasName

	switch {
	case zip != "" && hasCoords:
		return fmt.Errorf("%w: give a zipCode or coordinates, not both", ErrInvalidRequest)
	case zip != "":
		if !zone.ValidZipCode(zip) {
			return fmt.Errorf("%w: zipCode must be 5 digits", ErrInvalidRequest)
		}
		return nil
	case !hasCoords:
		return fmt.Errorf("%w: location needs a zipCode or coordinates", ErrInvalidRequest)
	case !hasLat || !hasLon || !hasName:
		return fmt.Errorf("%w: latitude, longitude and name must be given together", ErrInvalidRequest)
	}
	if *loc.Latitude < -90 || *loc.Latitude > 90 || *loc.Longitude < -180 || *loc.Longitude > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidRequest)
	}
	return nil
}

// StatusView is what clients poll. In-progress records expose only id,
// status and createdAt.
type StatusView struct {
	ID              string                 `json:"id"`
	Status          domain.Status          `json:"status"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       *time.Time             `json:"updatedAt,omitempty"`
	ExpiresAt       *time.Time             `json:"expiresAt,omitempty"`
	ZoneCode        string                 `json:"zoneCode,omitempty"`
	ZoneDescription string                 `json:"zoneDescription,omitempty"`
	PhotoURL        string                 `json:"photoUrl,omitempty"`
	Result          *domain.AnalysisResult `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Retryable       *bool                  `json:"retryable,omitempty"`
}

func (s *AnalysisService) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(s.clock.Now()) {
		return nil, ErrNotFound
	}

	view := &StatusView{ID: rec.ID, Status: rec.Status, CreatedAt: rec.CreatedAt}
	switch rec.Status {
	case domain.StatusComplete:
		updated, expires := rec.UpdatedAt, rec.ExpiresAt
		view.UpdatedAt = &updated
		view.ExpiresAt = &expires
		view.ZoneCode = rec.ZoneCode
		view.ZoneDescription = rec.ZoneDescription
		view.PhotoURL = s.photoURL(ctx, rec)
		view.Result = rec.Result
		if view.Result != nil && len(view.Result.Recommendations) > domain.MaxRecommendations {
			view.Result.Recommendations = view.Result.Recommendations[:domain.MaxRecommendations]
		}
	case domain.StatusFailed:
		updated := rec.UpdatedAt
		retryable := rec.Retryable
		view.UpdatedAt = &updated
		view.Error = rec.Error
		view.Retryable = &retryable
	}
	return view, nil
}

// photoURL issues a fresh URL, falling back to the one stored at completion.
func (s *AnalysisService) photoURL(ctx context.Context, rec *domain.AnalysisRecord) string {
	u, err := s.photos.PresignURL(ctx, rec.PhotoRef, s.settings.PresignTTL)
	if err != nil {
		s.logger.Warn("failed to refresh photo url, using stored url", "analysis_id", rec.ID, "error", err)
		return rec.PhotoURL
	}
	return u
}

// UploadPhoto checks the payload by content and stores it, returning the ref
// to submit.
func (s *AnalysisService) UploadPhoto(ctx context.Context, data []byte) (string, error) {
	info, err := photo.Validate(data)
	if err != nil {
		return "", err
	}
	ref, err := s.photos.Put(ctx, data, info.MediaType)
	if err != nil {
		return "", err
	}
	s.logger.Info("photo uploaded", "photo_ref", ref, "format", info.Format, "bytes", len(data))
	return ref, nil
}

// FailStaleRuns fails records stuck in analyzing or matching for longer than
// StaleRunAfter. Their run died with a previous process or timed out without
// writing a terminal status.
func (s *AnalysisService) FailStaleRuns(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	n, err := s.records.FailStale(ctx, now.Add(-s.settings.StaleRunAfter), now,
		pipeline.Unknown.Message(), string(pipeline.Unknown))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("failed stale analyses", "count", n)
	}
	return n, nil
}

// requeueBatch bounds how many pending records one RequeuePending call
// considers, oldest first. The rest wait for the next call.
const requeueBatch = 100

// RequeuePending re-enqueues up to requeueBatch unexpired pending records
// created at least olderThan ago. A run that already picked one up makes the
// duplicate a no-op. A full queue ends the pass early without error.
func (s *AnalysisService) RequeuePending(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now()
	pending, err := s.records.ListByStatus(ctx, domain.StatusPending, requeueBatch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, rec := range pending {
		if rec.Expired(now) || rec.CreatedAt.After(now.Add(-olderThan)) {
			continue
		}
		if err := s.queue.Enqueue(ctx, rec.ID); err != nil {
			if errors.Is(err, dispatch.ErrQueueFull) {
				s.logger.Warn("dispatch queue full, deferring requeue", "requeued", requeued)
				break
			}
			return requeued, fmt.Errorf("failed to re-enqueue analysis %s: %w", rec.ID, err)
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Info("re-enqueued pending analyses", "count", requeued)
	}
	return requeued, nil
}

// Purge deletes records past their expiry.
func (s *AnalysisService) Purge(ctx context.Context) (int64, error) {
	n, err := s.records.PurgeExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired analyses", "count", n)
	}
	return n, nil
}

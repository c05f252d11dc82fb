// Package pipeline runs one analysis from pending to a terminal status.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/yardwise/internal/clock"
	"github.com/vbonduro/yardwise/internal/domain"
	"github.com/vbonduro/yardwise/internal/photo"
	"github.com/vbonduro/yardwise/internal/store"
	"github.com/vbonduro/yardwise/internal/vision"
)

// failWriteTimeout bounds the final status write once the run context is gone.
const failWriteTimeout = 10 * time.Second

// recordRepository is the subset of store.AnalysisStore that Worker requires.
type recordRepository interface {
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	MarkAnalyzing(ctx context.Context, id string, now time.Time) error
	MarkMatching(ctx context.Context, id string, now time.Time) error
	Complete(ctx context.Context, id string, result *domain.AnalysisResult, photoURL string, now time.Time) error
	Fail(ctx context.Context, id, message, kind string, retryable bool, now time.Time) error
}

// photoSource is the subset of photostore.PhotoStore that Worker requires.
type photoSource interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type matcher interface {
	Match(ctx context.Context, archetypes []vision.Archetype, zoneCode string) ([]domain.PlantRecommendation, error)
}

type Worker struct {
	records    recordRepository
	photos     photoSource
	analyzer   vision.Analyzer
	matcher    matcher
	normalizer photo.Normalizer
	clock      clock.Clock
	presignTTL time.Duration
	logger     *slog.Logger

	// coldStart is true until the first run of this process reads it.
	coldStart atomic.Bool
}

func NewWorker(
	records recordRepository,
	photos photoSource,
	analyzer vision.Analyzer,
	matcher matcher,
	clk clock.Clock,
	presignTTL time.Duration,
	logger *slog.Logger,
) *Worker {
	w := &Worker{
		records:    records,
		photos:     photos,
		analyzer:   analyzer,
		matcher:    matcher,
		normalizer: photo.DefaultNormalizer(),
		clock:      clk,
		presignTTL: presignTTL,
		logger:     logger,
	}
	w.coldStart.Store(true)
	return w
}

// Run drives record id through the pipeline. Failures of the analysis itself
// are written to the record and not returned; the returned error reports only
// that the run could not start.
func (w *Worker) Run(ctx context.Context, id string) (err error) {
	logger := w.logger.With("analysis_id", id, "cold_start", w.coldStart.Swap(false))
	start := w.clock.Now()

	rec, err := w.records.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load analysis: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("analysis %s: %w", id, store.ErrNotFound)
	}
	switch {
	case rec.Status.IsTerminal():
		logger.Info("skipping finished analysis", "status", rec.Status)
		return nil
	case rec.Status != domain.StatusPending:
		logger.Info("skipping analysis already picked up", "status", rec.Status)
		return nil
	}
	if err := w.records.MarkAnalyzing(ctx, id, w.clock.Now()); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Info("skipping analysis claimed by another run")
			return nil
		}
		return fmt.Errorf("failed to mark analysis analyzing: %w", err)
	}
	logger.Info("pipeline run started", "zone", rec.ZoneCode)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline run panicked", "panic", r, "stack", string(debug.Stack()))
			w.fail(ctx, logger, id, fail(Unknown, fmt.Errorf("panic: %v", r)))
			err = nil
		}
	}()

	if perr := w.process(ctx, logger, rec); perr != nil {
		var f *Failure
		if !errors.As(perr, &f) {
			f = fail(Unknown, perr)
		}
		w.fail(ctx, logger, id, f)
		return nil
	}

	logger.Info("pipeline run complete", "duration", w.clock.Now().Sub(start))
	return nil
}

func (w *Worker) process(ctx context.Context, logger *slog.Logger, rec *domain.AnalysisRecord) error {
	data, err := w.photos.Get(ctx, rec.PhotoRef)
	if err != nil {
		return fail(DownloadFailed, err)
	}

	info, err := photo.Validate(data)
	if err != nil {
		return fail(UnsupportedFormat, err)
	}

	norm, err := w.normalizer.Normalize(data, info.MediaType)
	if err != nil {
		return fail(UnsupportedFormat, err)
	}
	logger.Debug("photo normalized", "format", info.Format, "bytes_in", len(data), "bytes_out", len(norm.Data), "resized", norm.Resized)

	out, err := w.analyzer.Analyze(ctx, vision.Request{
		ImageBase64:     base64.StdEncoding.EncodeToString(norm.Data),
		MediaType:       norm.MediaType,
		ZoneCode:        rec.ZoneCode,
		ZoneDescription: rec.ZoneDescription,
	})
	if err != nil {
		return fail(visionFailure(vision.KindOf(err)), err)
	}

	if !out.IsValidSubjectPhoto {
		logger.Info("photo is not a yard", "reason", out.InvalidReason)
		result := &domain.AnalysisResult{
			Summary:         out.InvalidReason,
			Features:        []domain.IdentifiedFeature{},
			Recommendations: []domain.PlantRecommendation{},
		}
		return w.complete(ctx, logger, rec, result)
	}

	if err := w.records.MarkMatching(ctx, rec.ID, w.clock.Now()); err != nil {
		return fail(SaveFailed, err)
	}

	recs, err := w.matcher.Match(ctx, out.Archetypes, rec.ZoneCode)
	if err != nil {
		return fail(MatchingFailed, err)
	}
	logger.Info("plants matched", "archetypes", len(out.Archetypes), "recommendations", len(recs))

	features := make([]domain.IdentifiedFeature, 0, len(out.Features))
	for _, f := range out.Features {
		features = append(features, domain.IdentifiedFeature{
			ID:          uuid.NewString(),
			Type:        f.Type,
			Label:       f.Label,
			Species:     f.Species,
			Confidence:  f.Confidence,
			SunExposure: f.SunExposure,
			Notes:       f.Notes,
		})
	}
	if recs == nil {
		recs = []domain.PlantRecommendation{}
	}

	return w.complete(ctx, logger, rec, &domain.AnalysisResult{
		Summary:            out.Summary,
		YardSize:           out.YardSize,
		OverallSunExposure: out.OverallSunExposure,
		EstimatedSoilType:  out.EstimatedSoilType,
		Features:           features,
		Recommendations:    recs,
	})
}

// complete stores result. A presign failure leaves the URL empty; status
// reads issue a fresh one anyway.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, rec *domain.AnalysisRecord, result *domain.AnalysisResult) error {
	photoURL, err := w.photos.PresignURL(ctx, rec.PhotoRef, w.presignTTL)
	if err != nil {
		logger.Warn("failed to presign photo url", "error", err)
		photoURL = ""
	}
	if err := w.records.Complete(ctx, rec.ID, result, photoURL, w.clock.Now()); err != nil {
		return fail(SaveFailed, err)
	}
	return nil
}

// fail writes the terminal failed status. If that write fails too the error is
// logged and dropped, leaving the record where the crash left it.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, id string, f *Failure) {
	logger.Error("pipeline run failed", "kind", f.Kind, "error", f.Err)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := w.records.Fail(writeCtx, id, f.Kind.Message(), string(f.Kind), f.Kind.Retryable(), w.clock.Now()); err != nil {
		logger.Error("failed to record pipeline failure", "kind", f.Kind, "error", err)
	}
}

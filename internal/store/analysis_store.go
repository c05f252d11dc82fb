package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/yardwise/internal/domain"
)

var (
	ErrNotFound          = errors.New("analysis not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type AnalysisStore struct {
	db *sql.DB
}

func NewAnalysisStore(db *sql.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

const analysisColumns = `id, status, photo_ref, photo_url, zone_code, zone_description,
	result_json, error_message, error_kind, retryable, created_at, updated_at, expires_at`

func (s *AnalysisStore) Create(ctx context.Context, rec *domain.AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, status, photo_ref, zone_code, zone_description, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Status), rec.PhotoRef, rec.ZoneCode, rec.ZoneDescription,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

// GetByID returns nil when no record exists. Expiry is not checked here.
func (s *AnalysisStore) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return rec, nil
}

func (s *AnalysisStore) MarkAnalyzing(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, domain.StatusAnalyzing, now, "")
}

func (s *AnalysisStore) MarkMatching(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, domain.StatusMatching, now, "")
}

// Complete attaches the result and the photo URL issued at completion time.
func (s *AnalysisStore) Complete(ctx context.Context, id string, result *domain.AnalysisResult, photoURL string, now time.Time) error {
	if result == nil {
		return fmt.Errorf("failed to complete analysis: nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return s.transition(ctx, id, domain.StatusComplete, now,
		", result_json = ?, photo_url = ?, error_message = NULL, error_kind = NULL, retryable = 0",
		string(payload), photoURL)
}

func (s *AnalysisStore) Fail(ctx context.Context, id, message, kind string, retryable bool, now time.Time) error {
	return s.transition(ctx, id, domain.StatusFailed, now,
		", result_json = NULL, error_message = ?, error_kind = ?, retryable = ?",
		message, kind, boolToInt(retryable))
}

// transition moves id to the target status only from one of its
// predecessors, so concurrent or repeated writers cannot move a record
// backwards or out of a terminal status.
func (s *AnalysisStore) transition(ctx context.Context, id string, to domain.Status, now time.Time, set string, setArgs ...any) error {
	from := to.Predecessors()
	args := make([]any, 0, len(setArgs)+len(from)+3)
	args = append(args, string(to), formatTime(now))
	args = append(args, setArgs...)
	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}

	query := `UPDATE analyses SET status = ?, updated_at = ?` + set +
		` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark analysis %s: %w", to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

func (s *AnalysisStore) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var out []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}
	return out, nil
}

// FailStale fails in-flight records whose last update is older than cutoff.
// A run that died with its process never writes a terminal status itself.
func (s *AnalysisStore) FailStale(ctx context.Context, cutoff, now time.Time, message, kind string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE analyses
		SET status = ?, updated_at = ?, result_json = NULL, error_message = ?, error_kind = ?, retryable = 1
		WHERE status IN (?, ?) AND updated_at < ?
	`, string(domain.StatusFailed), formatTime(now), message, kind,
		string(domain.StatusAnalyzing), string(domain.StatusMatching), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale analyses: %w", err)
	}
	return result.RowsAffected()
}

// PurgeExpired physically removes records already logically deleted by expiry.
func (s *AnalysisStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM analyses WHERE expires_at <= ?
	`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired analyses: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		rec                            domain.AnalysisRecord
		resultJSON, errMsg, errKind    sql.NullString
		createdAt, updatedAt, expireAt string
	)
	if err := row.Scan(&rec.ID, &rec.Status, &rec.PhotoRef, &rec.PhotoURL, &rec.ZoneCode, &rec.ZoneDescription,
		&resultJSON, &errMsg, &errKind, &rec.Retryable, &createdAt, &updatedAt, &expireAt); err != nil {
		return nil, err
	}

	if resultJSON.Valid && resultJSON.String != "" {
		var result domain.AnalysisResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		rec.Result = &result
	}
	rec.Error = errMsg.String
	rec.ErrorKind = errKind.String

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTime(expireAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/yardwise/internal/photostore"
)

var (
	ErrBadSignature = errors.New("invalid photo url signature")
	ErrURLExpired   = errors.New("photo url expired")
)

// LocalPhotoStore keeps photos on disk and signs read URLs with HMAC-SHA256.
// The URLs point at baseURL + "/photos/{ref}" and are checked by Verify.
type LocalPhotoStore struct {
	basePath string
	baseURL  string
	secret   []byte
	now      func() time.Time
}

func NewLocalPhotoStore(basePath, baseURL string, secret []byte) (*LocalPhotoStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("photo url secret is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalPhotoStore{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		secret:   secret,
		now:      time.Now,
	}, nil
}

func (s *LocalPhotoStore) Put(ctx context.Context, data []byte, mediaType string) (string, error) {
	ref := photostore.NewRef(mediaType)
	filePath, err := s.safeJoin(ref)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return ref, nil
}

func (s *LocalPhotoStore) Get(ctx context.Context, ref string) ([]byte, error) {
	filePath, err := s.safeJoin(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, photostore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *LocalPhotoStore) PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	filePath, err := s.safeJoin(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", photostore.ErrNotFound
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", s.sign(ref, expires))
	return s.baseURL + "/photos/" + url.PathEscape(ref) + "?" + q.Encode(), nil
}

// Verify checks a URL produced by PresignURL.
func (s *LocalPhotoStore) Verify(ref, expires, sig string) error {
	if !hmac.Equal([]byte(sig), []byte(s.sign(ref, expires))) {
		return ErrBadSignature
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if !s.now().Before(time.Unix(exp, 0)) {
		return ErrURLExpired
	}
	return nil
}

func (s *LocalPhotoStore) sign(ref, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ref))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// safeJoin resolves ref relative to basePath and rejects directory traversal.
func (s *LocalPhotoStore) safeJoin(ref string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, ref))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal attempt", photostore.ErrInvalidRef)
	}
	return absPath, nil
}

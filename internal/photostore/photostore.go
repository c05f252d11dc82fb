package photostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("photo not found")
	ErrInvalidRef = errors.New("invalid photo reference")
)

// PhotoStore holds uploaded photos. Photos are written once and read many
// times; callers identify them by the opaque ref returned from Put.
type PhotoStore interface {
	Put(ctx context.Context, data []byte, mediaType string) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// PresignURL returns a URL that grants read access to ref until ttl elapses.
	PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// NewRef returns a fresh object name with an extension matching mediaType.
func NewRef(mediaType string) string {
	return uuid.NewString() + ExtFor(mediaType)
}

func ExtFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	default:
		return ".jpg"
	}
}

func MediaTypeFor(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".png"):
		return "image/png"
	case strings.HasSuffix(ref, ".heic"):
		return "image/heic"
	default:
		return "image/jpeg"
	}
}

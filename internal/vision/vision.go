package vision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Request is one photo to analyze. ImageBase64 is already normalized to a
// media type the backends accept.
type Request struct {
	ImageBase64     string
	MediaType       string
	ZoneCode        string
	ZoneDescription string
}

type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Output, error)
}

type timeoutAnalyzer struct {
	next    Analyzer
	timeout time.Duration
}

// WithTimeout bounds every Analyze call on next. A non-positive timeout
// returns next unchanged.
func WithTimeout(next Analyzer, timeout time.Duration) Analyzer {
	if timeout <= 0 {
		return next
	}
	return &timeoutAnalyzer{next: next, timeout: timeout}
}

func (a *timeoutAnalyzer) Analyze(ctx context.Context, req Request) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	out, err := a.next.Analyze(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && KindOf(err) != KindTimeout {
		return nil, NewError(KindTimeout, err)
	}
	return out, err
}

// Output is the validated model answer. When IsValidSubjectPhoto is false
// only InvalidReason is meaningful.
type Output struct {
	IsValidSubjectPhoto bool
	InvalidReason       string
	Summary             string
	YardSize            string
	OverallSunExposure  string
	EstimatedSoilType   string
	Features            []RawFeature
	Archetypes          []Archetype
}

// RawFeature is a feature as reported by the model, before it is given an id.
type RawFeature struct {
	Type        string
	Label       string
	Species     string
	Confidence  *float64
	SunExposure string
	Notes       string
}

// Archetype is an abstract plant suggestion not yet tied to a catalog entry.
type Archetype struct {
	PlantType        string
	LightRequirement string
	SearchTags       []string
	Category         string
	Reason           string
}

type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindRateLimited     ErrorKind = "rateLimited"
	KindInvalidResponse ErrorKind = "invalidResponse"
	KindAPIError        ErrorKind = "apiError"
)

// Error is the only error type backends return from Analyze.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vision %s", e.Kind)
	}
	return fmt.Sprintf("vision %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from err, defaulting to KindAPIError.
func KindOf(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindAPIError
}

// KindForStatus classifies a non-2xx HTTP status.
func KindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusTooManyRequests, 529:
		return KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindAPIError
	}
}

// IsTimeout reports whether err came from an expired deadline or a network
// timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

package pipeline

import (
	"fmt"

	"github.com/vbonduro/yardwise/internal/vision"
)

// FailureKind classifies why a run ended in the failed status.
type FailureKind string

const (
	DownloadFailed        FailureKind = "download_failed"
	UnsupportedFormat     FailureKind = "unsupported_format"
	VisionTimeout         FailureKind = "vision_timeout"
	VisionRateLimited     FailureKind = "vision_rate_limited"
	VisionInvalidResponse FailureKind = "vision_invalid_response"
	VisionAPIError        FailureKind = "vision_api_error"
	MatchingFailed        FailureKind = "matching_failed"
	SaveFailed            FailureKind = "save_failed"
	Unknown               FailureKind = "unknown"
)

const genericMessage = "AI analysis failed. Please try again."

// Message is the text shown to the client.
func (k FailureKind) Message() string {
	switch k {
	case DownloadFailed:
		return "Unable to retrieve photo. Please try again."
	case UnsupportedFormat:
		return "Unable to process this image format. Please try JPEG or PNG."
	case VisionTimeout:
		return "Analysis timed out. Please try again."
	case VisionRateLimited:
		return "Service is busy. Please try again in a moment."
	default:
		return genericMessage
	}
}

// Retryable is advisory: it tells the client whether resubmitting may help.
func (k FailureKind) Retryable() bool {
	return k != UnsupportedFormat
}

func visionFailure(kind vision.ErrorKind) FailureKind {
	switch kind {
	case vision.KindTimeout:
		return VisionTimeout
	case vision.KindRateLimited:
		return VisionRateLimited
	case vision.KindInvalidResponse:
		return VisionInvalidResponse
	case vision.KindAPIError:
		return VisionAPIError
	}
	return Unknown
}

// Failure ends a run with a classified failure.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// Package photo inspects uploaded yard photos by content and prepares them for
// the vision backend's payload limits.
package photo

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	MaxSize = 20 * 1024 * 1024 // 20 MB
	// MinSize rejects payloads too small to hold a real image.
	MinSize = 100
)

const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypeHEIC = "image/heic"
)

var (
	ErrValidation        = errors.New("photo validation failed")
	ErrTooLarge          = fmt.Errorf("%w: file too large", ErrValidation)
	ErrTooSmall          = fmt.Errorf("%w: file too small", ErrValidation)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrValidation)
)

type Info struct {
	Format    string
	MediaType string
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
)

// heicBrands are the ISO-BMFF major brands used by HEIC/HEIF stills.
var heicBrands = map[string]bool{
	"heic": true, "heix": true, "hevc": true, "hevx": true,
	"heim": true, "heis": true, "mif1": true, "msf1": true,
}

// Validate determines the image type from its leading bytes. Filenames and
// declared content types are never consulted.
func Validate(data []byte) (Info, error) {
	if len(data) > MaxSize {
		return Info{}, fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(data))
	}
	if len(data) < MinSize {
		return Info{}, fmt.Errorf("%w (%d bytes)", ErrTooSmall, len(data))
	}
	if info, ok := Detect(data); ok {
		return info, nil
	}
	return Info{}, ErrUnsupportedFormat
}

// Detect sniffs the format without applying size limits.
func Detect(data []byte) (Info, bool) {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return Info{Format: "jpeg", MediaType: MediaTypeJPEG}, true
	case bytes.HasPrefix(data, pngMagic):
		return Info{Format: "png", MediaType: MediaTypePNG}, true
	case isHEIC(data):
		return Info{Format: "heic", MediaType: MediaTypeHEIC}, true
	}
	return Info{}, false
}

// isHEIC checks for an ftyp box at offset 4 followed by a HEIF brand.
func isHEIC(data []byte) bool {
	return len(data) >= 12 &&
		string(data[4:8]) == "ftyp" &&
		heicBrands[string(data[8:12])]
}

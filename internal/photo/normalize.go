package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/jdeng/goheif"
	"golang.org/x/image/draw"
)

const (
	// visionPayloadCeiling is the largest base64 image the vision backends
	// accept. Raw bytes expand by 4/3 when encoded.
	visionPayloadCeiling = 5 * 1024 * 1024
	DefaultBudget        = visionPayloadCeiling * 3 / 4

	DefaultQuality         = 85
	DefaultFallbackQuality = 60
)

var DefaultWidths = []int{2048, 1600, 1280, 1024, 800}

// Normalizer shrinks images until they fit Budget bytes.
type Normalizer struct {
	Budget          int
	Widths          []int
	Quality         int
	FallbackQuality int

	// heicDecoder replaces goheif when set.
	heicDecoder func([]byte) (image.Image, error)
}

func DefaultNormalizer() Normalizer {
	return Normalizer{
		Budget:          DefaultBudget,
		Widths:          DefaultWidths,
		Quality:         DefaultQuality,
		FallbackQuality: DefaultFallbackQuality,
	}
}

type Output struct {
	Data      []byte
	MediaType string
	// Width is zero when the input was passed through untouched.
	Width   int
	Resized bool
}

// Normalize transcodes HEIC to JPEG and, when the result is over budget,
// re-encodes at descending widths. If no width fits, the smallest attempt is
// re-encoded at FallbackQuality and returned regardless of size. The only
// error is a payload that cannot be decoded at all.
func (n Normalizer) Normalize(data []byte, mediaType string) (Output, error) {
	var img image.Image

	if mediaType == MediaTypeHEIC {
		decode := n.heicDecoder
		if decode == nil {
			decode = decodeHEIC
		}
		decoded, err := decode(data)
		if err != nil {
			return Output{}, fmt.Errorf("failed to decode heic: %w", err)
		}
		img = decoded
		encoded, err := encodeJPEG(img, n.Quality)
		if err != nil {
			return Output{}, fmt.Errorf("failed to transcode heic: %w", err)
		}
		data = encoded
		mediaType = MediaTypeJPEG
	}

	if len(data) <= n.Budget {
		out := Output{Data: data, MediaType: mediaType}
		if img != nil {
			out.Width = img.Bounds().Dx()
		}
		return out, nil
	}

	if img == nil {
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Output{}, fmt.Errorf("failed to decode image: %w", err)
		}
		img = decoded
	}

	last := img
	for _, w := range n.Widths {
		last = resize(img, w)
		encoded, err := encodeJPEG(last, n.Quality)
		if err != nil {
			continue
		}
		if len(encoded) <= n.Budget {
			return Output{Data: encoded, MediaType: MediaTypeJPEG, Width: last.Bounds().Dx(), Resized: true}, nil
		}
	}

	encoded, err := encodeJPEG(last, n.FallbackQuality)
	if err != nil {
		return Output{}, fmt.Errorf("failed to re-encode image: %w", err)
	}
	return Output{Data: encoded, MediaType: MediaTypeJPEG, Width: last.Bounds().Dx(), Resized: true}, nil
}

// decodeHEIC converts decoder panics on malformed containers into errors.
func decodeHEIC(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heic decoder panic: %v", r)
		}
	}()
	return goheif.Decode(bytes.NewReader(data))
}

// resize scales src down to width, keeping the aspect ratio. Images already
// narrower than width are flattened but not upscaled.
func resize(src image.Image, width int) image.Image {
	b := src.Bounds()
	if width <= 0 || b.Dx() <= width {
		width = b.Dx()
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	// JPEG has no alpha channel; composite onto white.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

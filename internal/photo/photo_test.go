package photo

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyImage is incompressible enough that encoded size tracks pixel count.
func noisyImage(w, h int) image.Image {
	rng := rand.New(rand.NewPCG(1, 2))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeTestJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func padded(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), make([]byte, 256)...)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantMedia string
		wantErr   error
	}{
		{name: "JPEG", data: padded([]byte{0xFF, 0xD8, 0xFF, 0xE0}), wantMedia: MediaTypeJPEG},
		{name: "PNG", data: padded([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}), wantMedia: MediaTypePNG},
		{name: "HEIC", data: padded([]byte("\x00\x00\x00\x18ftypheic")), wantMedia: MediaTypeHEIC},
		{name: "HEIF mif1", data: padded([]byte("\x00\x00\x00\x1cftypmif1")), wantMedia: MediaTypeHEIC},
		{name: "MP4 is not HEIC", data: padded([]byte("\x00\x00\x00\x18ftypisom")), wantErr: ErrUnsupportedFormat},
		{name: "GIF", data: padded([]byte("GIF89a")), wantErr: ErrUnsupportedFormat},
		{name: "PDF disguised as image", data: padded([]byte("%PDF-1.4")), wantErr: ErrUnsupportedFormat},
		{name: "too small", data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, wantErr: ErrTooSmall},
		{name: "empty", data: nil, wantErr: ErrTooSmall},
		{name: "too large", data: padded(append([]byte{0xFF, 0xD8, 0xFF}, make([]byte, MaxSize)...)), wantErr: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Validate(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMedia, info.MediaType)
		})
	}
}

func TestNormalizePassesThroughUnderBudget(t *testing.T) {
	data := encodeTestJPEG(t, noisyImage(64, 48))

	out, err := DefaultNormalizer().Normalize(data, MediaTypeJPEG)
	require.NoError(t, err)
	assert.Equal(t, data, out.Data)
	assert.Equal(t, MediaTypeJPEG, out.MediaType)
	assert.False(t, out.Resized)
}

func TestNormalizeResizesOverBudget(t *testing.T) {
	data := encodePNG(t, noisyImage(400, 300))
	n := Normalizer{Budget: 20_000, Widths: []int{300, 200, 100}, Quality: 85, FallbackQuality: 40}
	require.Greater(t, len(data), n.Budget)

	out, err := n.Normalize(data, MediaTypePNG)
	require.NoError(t, err)
	assert.True(t, out.Resized)
	assert.Equal(t, MediaTypeJPEG, out.MediaType)
	assert.LessOrEqual(t, len(out.Data), n.Budget)
	assert.Contains(t, n.Widths, out.Width)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, out.Width, decoded.Bounds().Dx())
}

func TestNormalizeFallsBackToLowerQuality(t *testing.T) {
	img := noisyImage(400, 300)
	data := encodePNG(t, img)
	n := Normalizer{Budget: 10, Widths: []int{300, 100}, Quality: 85, FallbackQuality: 40}

	out, err := n.Normalize(data, MediaTypePNG)
	require.NoError(t, err, "normalization degrades instead of failing")
	assert.True(t, out.Resized)
	assert.Equal(t, 100, out.Width)

	atQuality, err := encodeJPEG(resize(img, 100), 85)
	require.NoError(t, err)
	assert.Less(t, len(out.Data), len(atQuality))
}

func TestNormalizeDoesNotUpscale(t *testing.T) {
	data := encodePNG(t, noisyImage(120, 90))
	n := Normalizer{Budget: 1, Widths: []int{2048}, Quality: 85, FallbackQuality: 40}

	out, err := n.Normalize(data, MediaTypePNG)
	require.NoError(t, err)
	assert.Equal(t, 120, out.Width)
}

func TestNormalizeUndecodable(t *testing.T) {
	data := padded(append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 2048)...))
	n := Normalizer{Budget: 100, Widths: []int{100}, Quality: 85, FallbackQuality: 40}

	_, err := n.Normalize(data, MediaTypePNG)
	assert.Error(t, err)

	_, err = n.Normalize(data, MediaTypeHEIC)
	assert.Error(t, err)
}

func TestNormalizeTranscodesHEIC(t *testing.T) {
	heicHeader := padded([]byte{0, 0, 0, 24, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c'})
	decodeTo := func(img image.Image) func([]byte) (image.Image, error) {
		return func([]byte) (image.Image, error) { return img, nil }
	}

	t.Run("under budget", func(t *testing.T) {
		n := DefaultNormalizer()
		n.heicDecoder = decodeTo(noisyImage(64, 48))

		out, err := n.Normalize(heicHeader, MediaTypeHEIC)
		require.NoError(t, err)
		assert.Equal(t, MediaTypeJPEG, out.MediaType)
		assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, out.Data[:3])
		assert.Equal(t, 64, out.Width)
		assert.False(t, out.Resized)
	})

	t.Run("over budget", func(t *testing.T) {
		n := Normalizer{Budget: 20_000, Widths: []int{300, 200, 100}, Quality: 85, FallbackQuality: 40}
		n.heicDecoder = decodeTo(noisyImage(400, 300))

		out, err := n.Normalize(heicHeader, MediaTypeHEIC)
		require.NoError(t, err)
		assert.Equal(t, MediaTypeJPEG, out.MediaType)
		assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, out.Data[:3])
		assert.True(t, out.Resized)
		assert.LessOrEqual(t, len(out.Data), n.Budget)

		_, err = jpeg.Decode(bytes.NewReader(out.Data))
		assert.NoError(t, err)
	})
}

package scan

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) image.Point {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Size()
}

func TestPrepare_Downsizes(t *testing.T) {
	out, mime, err := Prepare(pngImage(t, 400, 200), "image/png", 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, image.Pt(100, 50), decodedSize(t, out))
}

func TestPrepare_KeepsSmallImages(t *testing.T) {
	out, _, err := Prepare(pngImage(t, 64, 48), "image/png; charset=binary", 0)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 48), decodedSize(t, out))
}

func TestPrepare_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, "image/png"},
		{"unsupported type", []byte("x"), "application/pdf"},
		{"garbage", []byte("not an image"), "image/jpeg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Prepare(tc.data, tc.mime, 100)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("IMAGE/PNG"))
	assert.True(t, Supported("image/jpg"))
	assert.False(t, Supported("image/webp"))
}

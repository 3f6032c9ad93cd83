// Package scan prepares uploaded scan images for vision models.
package scan

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
)

const (
	// DefaultMaxDimension bounds the longest edge sent to a provider.
	DefaultMaxDimension = 1536
	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes = 10 << 20

	jpegQuality = 85
	outputMIME  = "image/jpeg"
)

var supportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
}

// Supported reports whether mimeType can be prepared.
func Supported(mimeType string) bool {
	return supportedMIMETypes[normalizeMIME(mimeType)]
}

func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Prepare decodes data, applies EXIF orientation, shrinks it so the longest
// edge is at most maxDim, and re-encodes it as JPEG.
func Prepare(data []byte, mimeType string, maxDim int) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", apperrors.Validation("scan image is empty")
	}
	if len(data) > MaxUploadBytes {
		return nil, "", apperrors.Validation(fmt.Sprintf("scan image exceeds %d bytes", MaxUploadBytes))
	}
	if !Supported(mimeType) {
		return nil, "", apperrors.Validation(fmt.Sprintf("unsupported image type %q", mimeType))
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeValidation, "scan image could not be decoded", err)
	}

	img = fit(img, maxDim)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode scan image: %w", err)
	}
	return buf.Bytes(), outputMIME, nil
}

func fit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

//go:build !gocv
// +build !gocv

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// LoadPNG returns the file at path as PNG bytes. PNG files pass through
// untouched; JPEG files are transcoded. Other formats need the gocv build.
func LoadPNG(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".png" {
		return raw, nil
	}
	if ext != ".jpg" && ext != ".jpeg" {
		return nil, fmt.Errorf("unsupported image format %q (build with the gocv tag for full format support)", ext)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return EncodePNG(img)
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

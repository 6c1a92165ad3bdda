//go:build gocv
// +build gocv

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// LoadPNG returns the file at path as PNG bytes, decoding any format
// OpenCV understands. PNG files pass through untouched.
func LoadPNG(path string) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) == ".png" {
		return os.ReadFile(path)
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("decode %s: unreadable image", path)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

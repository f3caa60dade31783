package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/okian/ewaste/pkg/metrics"
)

// ErrDecode reports an unreadable or corrupt source image.
var ErrDecode = errors.New("cannot decode image")

// Decode reads a PNG, JPEG, GIF, BMP or TIFF image.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		metrics.RecordRenderError()
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// DecodeBytes is Decode over an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// FormatFor picks the output encoding from a file name, defaulting to PNG.
func FormatFor(name string) imaging.Format {
	f, err := imaging.FormatFromFilename(name)
	if err != nil {
		return imaging.PNG
	}
	return f
}

// Encode writes img in the given format.
func Encode(w io.Writer, img image.Image, format imaging.Format) error {
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(90)); err != nil {
		metrics.RecordRenderError()
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// EncodeBytes encodes img using the format implied by name.
func EncodeBytes(img image.Image, name string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, FormatFor(name)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

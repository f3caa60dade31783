// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidDetection marks detector output that violates the detection contract.
var ErrInvalidDetection = errors.New("invalid detection")

// BoundingBox is a pixel rectangle in the source image, (X1,Y1) top-left and
// (X2,Y2) bottom-right. On the wire it is the array [x1, y1, x2, y2].
type BoundingBox struct {
	X1, Y1, X2, Y2 int
}

// MarshalJSON encodes the box as [x1, y1, x2, y2].
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON decodes [x1, y1, x2, y2]. Fractional coordinates are truncated.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox: want 4 coordinates, got %d", len(raw))
	}
	b.X1, b.Y1, b.X2, b.Y2 = int(raw[0]), int(raw[1]), int(raw[2]), int(raw[3])
	return nil
}

// Width returns X2-X1.
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Detection is one object reported by the detector. Label casing and spacing
// are whatever the loaded model emits.
type Detection struct {
	Label      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// Validate checks the detector contract: a non-empty label, finite
// confidence in [0,1] and a non-inverted box.
func (d Detection) Validate() error {
	switch {
	case strings.TrimSpace(d.Label) == "":
		return fmt.Errorf("%w: empty class label", ErrInvalidDetection)
	case math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0):
		return fmt.Errorf("%w: %q confidence is not a number", ErrInvalidDetection, d.Label)
	case d.Confidence < 0 || d.Confidence > 1:
		return fmt.Errorf("%w: %q confidence %v outside [0,1]", ErrInvalidDetection, d.Label, d.Confidence)
	case d.Box.X1 > d.Box.X2 || d.Box.Y1 > d.Box.Y2:
		return fmt.Errorf("%w: %q box %v is inverted", ErrInvalidDetection, d.Label, [4]int{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2})
	}
	return nil
}

// ValidateBatch rejects the whole batch on the first malformed detection.
func ValidateBatch(batch []Detection) error {
	for i, d := range batch {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("detection %d: %w", i, err)
		}
	}
	return nil
}

// WireDetection is a detection as decoded from untrusted JSON. Absent or
// null fields stay nil so they can be told apart from zero values.
type WireDetection struct {
	Label      *string      `json:"class"`
	Confidence *float64     `json:"confidence"`
	Box        *BoundingBox `json:"bbox"`
}

// Detection converts w, failing when a required field is missing.
func (w WireDetection) Detection() (Detection, error) {
	var missing []string
	if w.Label == nil {
		missing = append(missing, "class")
	}
	if w.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if w.Box == nil {
		missing = append(missing, "bbox")
	}
	if len(missing) > 0 {
		return Detection{}, fmt.Errorf("%w: missing %s", ErrInvalidDetection, strings.Join(missing, ", "))
	}
	return Detection{Label: *w.Label, Confidence: *w.Confidence, Box: *w.Box}, nil
}

// FromWire converts a decoded batch. Like ValidateBatch it fails on the first
// bad entry.
func FromWire(batch []WireDetection) ([]Detection, error) {
	out := make([]Detection, 0, len(batch))
	for i, w := range batch {
		d, err := w.Detection()
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// EnrichedDetection is a detection plus the advice matched for its label.
// Both advice lists are non-nil so they encode as [] rather than null.
type EnrichedDetection struct {
	Detection
	RecyclingSuggestions []string `json:"recycling_suggestions"`
	ReuseIdeas           []string `json:"reuse_ideas"`
	Color                string   `json:"color,omitempty"`
}

// Upload is an image submitted for detection.
type Upload struct {
	Filename  string
	Data      []byte
	Threshold float64
}

// Report is the outcome of processing one upload.
type Report struct {
	OriginalImage  string              `json:"original_image"`
	AnnotatedImage string              `json:"annotated_image"`
	Detections     []EnrichedDetection `json:"detections"`
	Timestamp      int64               `json:"timestamp"`
}

// Package render burns detection boxes and labels into a copy of an image.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/anthonynsimon/bild/clone"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/pkg/metrics"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	defaultStrokeWidth = 2
	defaultMargin      = 5
)

// Renderer draws annotations. It holds no per-call state and is safe for
// concurrent use as long as the configured face is.
type Renderer struct {
	strokeWidth int
	margin      int
	face        font.Face
	textColor   color.Color
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStrokeWidth sets the box outline width in pixels.
func WithStrokeWidth(w int) Option {
	return func(r *Renderer) {
		if w > 0 {
			r.strokeWidth = w
		}
	}
}

// WithMargin sets the padding between the label and its background edge.
func WithMargin(m int) Option {
	return func(r *Renderer) {
		if m >= 0 {
			r.margin = m
		}
	}
}

// WithFace sets the label font.
func WithFace(f font.Face) Option {
	return func(r *Renderer) {
		if f != nil {
			r.face = f
		}
	}
}

// New returns a Renderer with a 2px stroke, 5px margin and a 7x13 bitmap font.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		strokeWidth: defaultStrokeWidth,
		margin:      defaultMargin,
		face:        basicfont.Face7x13,
		textColor:   color.White,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns a new image with every detection drawn on it in input
// order. src is never modified. Overlapping labels are not deconflicted.
func (r *Renderer) Render(src image.Image, detections []model.Detection) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("render: nil source image")
	}
	start := time.Now()
	canvas := clone.AsRGBA(src)
	for _, d := range detections {
		r.annotate(canvas, d)
	}
	metrics.RecordRenderLatency(time.Since(start))
	return canvas, nil
}

func (r *Renderer) annotate(canvas *image.RGBA, d model.Detection) {
	col := ColorFor(d.Label)
	box := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2).Add(canvas.Bounds().Min)
	r.strokeRect(canvas, box, col)

	text := Caption(d)
	bg := r.LabelRect(canvas.Bounds(), box, text)
	if bg.Empty() {
		return
	}
	draw.Draw(canvas, bg, image.NewUniform(col), image.Point{}, draw.Src)

	fm := r.face.Metrics()
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(r.textColor),
		Face: r.face,
		Dot:  fixed.P(bg.Min.X+r.margin/2, bg.Min.Y+r.margin/2+fm.Ascent.Ceil()),
	}
	drawer.DrawString(text)
}

// Caption is the label text drawn for a detection.
func Caption(d model.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// LabelRect places the label background for a box. The label sits on the
// box's top edge; when that edge is closer to the top border than the label
// height plus margin, the anchor moves down. The result always lies inside
// bounds.
func (r *Renderer) LabelRect(bounds, box image.Rectangle, text string) image.Rectangle {
	w, h := r.textExtent(text)
	w += r.margin
	h += r.margin

	bottom := box.Min.Y
	if bottom < bounds.Min.Y+h {
		bottom = bounds.Min.Y + h
	}
	if bottom > bounds.Max.Y {
		bottom = bounds.Max.Y
	}
	left := box.Min.X
	if left+w > bounds.Max.X {
		left = bounds.Max.X - w
	}
	if left < bounds.Min.X {
		left = bounds.Min.X
	}
	return image.Rect(left, bottom-h, left+w, bottom).Intersect(bounds)
}

func (r *Renderer) textExtent(text string) (int, int) {
	m := r.face.Metrics()
	return font.MeasureString(r.face, text).Ceil(), (m.Ascent + m.Descent).Ceil()
}

// strokeRect draws the outline of box inward from its edges, clipped to the
// canvas.
func (r *Renderer) strokeRect(canvas *image.RGBA, box image.Rectangle, col color.RGBA) {
	if box.Empty() {
		return
	}
	fill := image.NewUniform(col)
	sw := r.strokeWidth
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+sw),
		image.Rect(box.Min.X, box.Max.Y-sw, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+sw, box.Max.Y),
		image.Rect(box.Max.X-sw, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(canvas, e.Intersect(box).Intersect(canvas.Bounds()), fill, image.Point{}, draw.Src)
	}
}

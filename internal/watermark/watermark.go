// Package watermark models image and text overlays and rasterizes them onto
// canvas-sized layers.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidWatermark = errors.New("watermark: invalid watermark")

type TilingMode string

const (
	TilingDirect TilingMode = "direct"
	TilingFill   TilingMode = "fill"
	TilingRepeat TilingMode = "repeat"
)

// Target selects the inputs a watermark applies to.
type Target struct {
	All bool
	IDs []string
}

// AllInputs targets the whole merged canvas.
func AllInputs() Target {
	return Target{All: true}
}

// Inputs targets a subset of animations by ID.
func Inputs(ids ...string) Target {
	return Target{IDs: ids}
}

// Includes reports whether the animation with the given ID is selected.
func (t Target) Includes(id string) bool {
	if t.All {
		return true
	}
	for _, v := range t.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Payload is either *ImagePayload or *TextPayload.
type Payload interface {
	payload()
}

// ImagePayload is a decoded bitmap with its intrinsic and current size.
type ImagePayload struct {
	Bitmap          *image.RGBA
	IntrinsicWidth  int
	IntrinsicHeight int
	Width, Height   int
}

// TextPayload is a single-line glyph run.
type TextPayload struct {
	Text       string
	FontFamily string // "sans" (default) or "mono"
	FontSize   float64
	Bold       bool
	Italic     bool
	Color      color.RGBA
}

func (*ImagePayload) payload() {}
func (*TextPayload) payload()  {}

// Watermark is one overlay of the session's active set.
type Watermark struct {
	ID              string
	Position        image.Point // top-left in canvas pixels
	RotationDegrees float64     // clockwise, about the mark's center
	Opacity         float64
	LayerOrder      int // <0 below the sources, 0 interleaved, >0 above
	Tiling          TilingMode
	Target          Target
	Payload         Payload
}

func newWatermark(id string, p Payload) *Watermark {
	return &Watermark{
		ID:      id,
		Opacity: 1,
		Tiling:  TilingDirect,
		Target:  AllInputs(),
		Payload: p,
	}
}

// NewImage decodes PNG bytes into an image watermark at its intrinsic size.
func NewImage(id string, data []byte) (*Watermark, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode png: %v", ErrInvalidWatermark, err)
	}
	return NewImageFromBitmap(id, img), nil
}

// NewImageFromBitmap wraps an already decoded image.
func NewImageFromBitmap(id string, img image.Image) *Watermark {
	rgba := toRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	return newWatermark(id, &ImagePayload{
		Bitmap:          rgba,
		IntrinsicWidth:  w,
		IntrinsicHeight: h,
		Width:           w,
		Height:          h,
	})
}

// NewQRCode renders content as a size x size QR code image watermark.
func NewQRCode(id, content string, size int) (*Watermark, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("%w: qr code: %v", ErrInvalidWatermark, err)
	}
	return NewImageFromBitmap(id, q.Image(size)), nil
}

// NewText creates a text watermark.
func NewText(id, text string, size float64, c color.RGBA) *Watermark {
	return newWatermark(id, &TextPayload{
		Text:       text,
		FontFamily: "sans",
		FontSize:   size,
		Color:      c,
	})
}

// Resize changes the current size of an image watermark.
func (w *Watermark) Resize(width, height int) error {
	p, ok := w.Payload.(*ImagePayload)
	if !ok {
		return fmt.Errorf("%w: %s is not an image watermark", ErrInvalidWatermark, w.ID)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidWatermark, width, height)
	}
	p.Width, p.Height = width, height
	return nil
}

func (w *Watermark) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidWatermark)
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return fmt.Errorf("%w: %s opacity %.2f outside [0,1]", ErrInvalidWatermark, w.ID, w.Opacity)
	}
	switch w.Tiling {
	case TilingDirect, TilingFill, TilingRepeat:
	default:
		return fmt.Errorf("%w: %s unknown tiling %q", ErrInvalidWatermark, w.ID, w.Tiling)
	}
	switch p := w.Payload.(type) {
	case *ImagePayload:
		if p.Bitmap == nil || p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("%w: %s has an empty bitmap", ErrInvalidWatermark, w.ID)
		}
	case *TextPayload:
		if p.FontSize <= 0 {
			return fmt.Errorf("%w: %s font size %.1f", ErrInvalidWatermark, w.ID, p.FontSize)
		}
	default:
		return fmt.Errorf("%w: %s has no payload", ErrInvalidWatermark, w.ID)
	}
	return nil
}

// ValidateAll checks every watermark of a job and that their ids are unique.
func ValidateAll(wms []*Watermark) error {
	seen := make(map[string]bool, len(wms))
	for _, w := range wms {
		if w == nil {
			continue
		}
		if err := w.Validate(); err != nil {
			return err
		}
		if seen[w.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidWatermark, w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

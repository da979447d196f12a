// Package decoder parses GIF animations into fully accumulated RGBA frames.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/ivlev/gifmerge/internal/anim"
)

var (
	// ErrMalformedContainer is returned when the header or logical screen is invalid.
	ErrMalformedContainer = errors.New("decoder: malformed container")
	// ErrEmptyAnimation is returned when no frame could be decoded.
	ErrEmptyAnimation = errors.New("decoder: empty animation")
)

// GIF disposal methods.
const (
	DisposalUnspecified = 0
	DisposalNone        = 1
	DisposalBackground  = 2
	DisposalPrevious    = 3
)

// DecodeConfig reads the header and logical screen descriptor only.
func DecodeConfig(data []byte) (image.Config, error) {
	r := newReader(data)
	if err := r.readHeader(); err != nil {
		return image.Config{}, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}
	cfg := image.Config{Width: r.hdr.width, Height: r.hdr.height}
	if r.hdr.globalPalette != nil {
		cfg.ColorModel = r.hdr.globalPalette
	}
	return cfg, nil
}

// Decode parses data and reconstructs every frame on a logical-screen canvas.
// Cancellation is checked between frames.
func Decode(ctx context.Context, data []byte) (*anim.Animation, error) {
	r := newReader(data)
	if err := r.readHeader(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}

	a := &anim.Animation{
		Width:  r.hdr.width,
		Height: r.hdr.height,
	}
	if p := r.hdr.globalPalette; p != nil && int(r.hdr.bgIndex) < len(p) {
		a.Background = p[r.hdr.bgIndex].(color.RGBA)
		a.HasBackground = true
	}

	canvas := image.NewRGBA(a.Bounds())
	// snapshots[i] holds the canvas as it was right before frame i was drawn.
	// Only frames with DisposalPrevious keep one, and it is dropped once used.
	var snapshots []*image.RGBA
	var prev *rawFrame

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := r.nextFrame()
		if err == io.EOF {
			break
		}
		var pix []byte
		if err == nil {
			pix, err = f.indices()
		}
		if err != nil {
			if len(a.Frames) == 0 {
				if errors.Is(err, errUnknownBlock) {
					return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
				}
				return nil, fmt.Errorf("%w: %v", ErrEmptyAnimation, err)
			}
			if errors.Is(err, errMissingTrailer) {
				a.Warnings = append(a.Warnings, "missing trailer after last frame")
			} else {
				a.Warnings = append(a.Warnings, fmt.Sprintf("frame %d dropped: %v", i, err))
			}
			break
		}

		if prev != nil {
			dispose(canvas, prev, snapshots[i-1])
			snapshots[i-1] = nil
		}
		snapshots = append(snapshots, nil)
		if f.disposal == DisposalPrevious {
			snapshots[i] = anim.CloneRGBA(canvas)
		}

		drawPatch(canvas, f, pix)

		frame := anim.Frame{
			Pixels:   anim.CloneRGBA(canvas),
			DelayMs:  delayMs(f.delayCS),
			Disposal: f.disposal,
		}
		if !a.HasTransparency && anim.HasTransparentPixel(frame.Pixels) {
			a.HasTransparency = true
		}
		a.Frames = append(a.Frames, frame)
		prev = f
	}

	if len(a.Frames) == 0 {
		return nil, ErrEmptyAnimation
	}
	a.LoopCount = r.loopCount
	return a, nil
}

func delayMs(cs int) int {
	ms := cs * 10
	if ms == 0 {
		ms = anim.DefaultDelayMs
	}
	if ms < anim.MinDelayMs {
		ms = anim.MinDelayMs
	}
	return ms
}

// dispose applies the disposal method of the previous frame before the next one is drawn.
func dispose(canvas *image.RGBA, prev *rawFrame, snapshot *image.RGBA) {
	switch prev.disposal {
	case DisposalBackground:
		clearRect(canvas, prev.rect.Intersect(canvas.Rect))
	case DisposalPrevious:
		if snapshot != nil {
			copy(canvas.Pix, snapshot.Pix)
		} else {
			clearRect(canvas, canvas.Rect)
		}
	}
}

func clearRect(img *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		row := img.Pix[off : off+4*r.Dx()]
		for i := range row {
			row[i] = 0
		}
	}
}

// drawPatch composites the patch over the canvas. GIF pixels are either fully
// transparent or opaque, so "over" reduces to skipping the transparent index.
func drawPatch(canvas *image.RGBA, f *rawFrame, pix []byte) {
	w := f.rect.Dx()
	clip := f.rect.Intersect(canvas.Rect)
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		src := pix[(y-f.rect.Min.Y)*w:]
		for x := clip.Min.X; x < clip.Max.X; x++ {
			idx := src[x-f.rect.Min.X]
			if int(idx) == f.transparent {
				continue
			}
			c := f.palette[idx].(color.RGBA)
			off := canvas.PixOffset(x, y)
			canvas.Pix[off+0] = c.R
			canvas.Pix[off+1] = c.G
			canvas.Pix[off+2] = c.B
			canvas.Pix[off+3] = 0xff
		}
	}
}

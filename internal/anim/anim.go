package anim

import (
	"image"
	"image/color"
)

// MinDelayMs is the floor applied to every decoded frame delay.
const MinDelayMs = 50

// DefaultDelayMs replaces a zero delay before the floor is applied.
const DefaultDelayMs = 100

// Frame is one fully reconstructed canvas state of an animation.
type Frame struct {
	Pixels   *image.RGBA // Full canvas, accumulation already applied
	DelayMs  int         // Display duration, never below MinDelayMs
	Disposal byte        // Originating disposal code (0-3), informational only
}

// Animation is one parsed GIF input.
type Animation struct {
	ID              string
	Width, Height   int
	Frames          []Frame
	HasTransparency bool
	LoopCount       int // -1: play once, 0: forever

	// Background is the logical screen background color; valid only when HasBackground is set.
	Background    color.RGBA
	HasBackground bool

	// Warnings collected while decoding (dropped trailing frames and similar).
	Warnings []string
}

// FrameCount returns the number of decoded frames.
func (a *Animation) FrameCount() int {
	return len(a.Frames)
}

// TotalDuration is the sum of all frame delays in milliseconds.
func (a *Animation) TotalDuration() int {
	total := 0
	for _, f := range a.Frames {
		total += f.DelayMs
	}
	return total
}

// Bounds returns the canvas rectangle anchored at the origin.
func (a *Animation) Bounds() image.Rectangle {
	return image.Rect(0, 0, a.Width, a.Height)
}

// Release drops the frame buffers so they can be collected.
func (a *Animation) Release() {
	for i := range a.Frames {
		a.Frames[i].Pixels = nil
	}
	a.Frames = nil
}

// Sequence is the merged RGBA output of the compositor.
type Sequence struct {
	Width, Height int
	Frames        []*image.RGBA

	// Transparent asks the encoder for a transparent index even when every
	// pixel is opaque (transparent background policy).
	Transparent bool
}

// HasTransparency reports whether any merged pixel has alpha below 255.
func (s *Sequence) HasTransparency() bool {
	for _, f := range s.Frames {
		if HasTransparentPixel(f) {
			return true
		}
	}
	return false
}

// HasTransparentPixel scans the alpha channel and stops at the first non-opaque pixel.
func HasTransparentPixel(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 0xff {
			return true
		}
	}
	return false
}

// CloneRGBA returns an independent copy of img with the same bounds.
func CloneRGBA(img *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]uint8, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

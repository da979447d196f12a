package decoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"
)

var (
	red   = color.RGBA{0xff, 0, 0, 0xff}
	blue  = color.RGBA{0, 0, 0xff, 0xff}
	green = color.RGBA{0, 0xff, 0, 0xff}
	none  = color.RGBA{}
)

var testPalette = color.Palette{none, red, blue, green}

func solid(r image.Rectangle, idx uint8) *image.Paletted {
	img := image.NewPaletted(r, testPalette)
	for i := range img.Pix {
		img.Pix[i] = idx
	}
	return img
}

func encode(t *testing.T, g *gif.GIF) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}
	return buf.Bytes()
}

// threeFrames builds a 4x4 animation: full red, a 2x2 blue patch with the given
// disposal, then a single green pixel in the corner.
func threeFrames(t *testing.T, disposal byte) []byte {
	return encode(t, &gif.GIF{
		Image: []*image.Paletted{
			solid(image.Rect(0, 0, 4, 4), 1),
			solid(image.Rect(0, 0, 2, 2), 2),
			solid(image.Rect(3, 3, 4, 4), 3),
		},
		Delay:    []int{10, 10, 10},
		Disposal: []byte{gif.DisposalNone, disposal, gif.DisposalNone},
		Config:   image.Config{Width: 4, Height: 4},
	})
}

func at(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestDecodeDisposalBackground(t *testing.T) {
	a, err := Decode(context.Background(), threeFrames(t, gif.DisposalBackground))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(a.Frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(a.Frames))
	}

	if c := at(a.Frames[1].Pixels, 1, 1); c != blue {
		t.Errorf("Frame 2 patch: expected blue, got %v", c)
	}

	last := a.Frames[2].Pixels
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if c := at(last, x, y); c != none {
				t.Errorf("Frame 3 at (%d,%d): expected cleared region, got %v", x, y, c)
			}
		}
	}
	if c := at(last, 2, 2); c != red {
		t.Errorf("Frame 3 outside cleared region: expected red, got %v", c)
	}
	if c := at(last, 3, 3); c != green {
		t.Errorf("Frame 3 patch: expected green, got %v", c)
	}
	if !a.HasTransparency {
		t.Error("Expected HasTransparency after a background disposal")
	}
}

func TestDecodeDisposalPrevious(t *testing.T) {
	a, err := Decode(context.Background(), threeFrames(t, gif.DisposalPrevious))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	last := a.Frames[2].Pixels
	if c := at(last, 0, 0); c != red {
		t.Errorf("Expected restored red at (0,0), got %v", c)
	}
	if c := at(last, 3, 3); c != green {
		t.Errorf("Expected green at (3,3), got %v", c)
	}
	if a.HasTransparency {
		t.Error("Fully opaque animation reported transparency")
	}
}

func TestDecodeAccumulates(t *testing.T) {
	a, err := Decode(context.Background(), threeFrames(t, gif.DisposalNone))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	last := a.Frames[2].Pixels
	if c := at(last, 0, 0); c != blue {
		t.Errorf("Expected accumulated blue at (0,0), got %v", c)
	}
	if a.Frames[1].Disposal != gif.DisposalNone {
		t.Errorf("Expected disposal code to be kept, got %d", a.Frames[1].Disposal)
	}
}

func TestDecodeFramesAreIndependentCopies(t *testing.T) {
	a, err := Decode(context.Background(), threeFrames(t, gif.DisposalNone))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	before := append([]uint8(nil), a.Frames[1].Pixels.Pix...)
	for i := range a.Frames[0].Pixels.Pix {
		a.Frames[0].Pixels.Pix[i] = 0x7f
	}
	if !bytes.Equal(before, a.Frames[1].Pixels.Pix) {
		t.Error("Mutating frame 0 changed frame 1")
	}
	if &a.Frames[1].Pixels.Pix[0] == &a.Frames[2].Pixels.Pix[0] {
		t.Error("Frames share a backing buffer")
	}
}

func TestDecodeDelays(t *testing.T) {
	data := encode(t, &gif.GIF{
		Image: []*image.Paletted{
			solid(image.Rect(0, 0, 2, 2), 1),
			solid(image.Rect(0, 0, 2, 2), 2),
			solid(image.Rect(0, 0, 2, 2), 3),
		},
		Delay:     []int{0, 2, 25},
		LoopCount: 3,
	})
	a, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	tests := []struct {
		frame int
		want  int
	}{
		{0, 100}, // zero delay falls back to the default
		{1, 50},  // floor
		{2, 250},
	}
	for _, tt := range tests {
		if got := a.Frames[tt.frame].DelayMs; got != tt.want {
			t.Errorf("Frame %d: expected %dms, got %dms", tt.frame, tt.want, got)
		}
	}
	if a.TotalDuration() != 400 {
		t.Errorf("Expected total duration 400ms, got %d", a.TotalDuration())
	}
	if a.LoopCount != 3 {
		t.Errorf("Expected loop count 3, got %d", a.LoopCount)
	}
}

func TestDecodeDropsCorruptTrailingFrame(t *testing.T) {
	data := threeFrames(t, gif.DisposalNone)
	// Cut the trailer, the block terminator and one byte of the last frame's data.
	data = data[:len(data)-3]

	a, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(a.Frames) != 2 {
		t.Fatalf("Expected 2 frames after dropping the corrupt one, got %d", len(a.Frames))
	}
	if len(a.Warnings) == 0 {
		t.Error("Expected a warning for the dropped frame")
	}
	t.Logf("Warnings: %v", a.Warnings)
}

func TestDecodeErrors(t *testing.T) {
	headerOnly := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00\x3b")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not a gif", []byte("PNG not a gif at all"), ErrMalformedContainer},
		{"truncated header", []byte("GIF89a\x01"), ErrMalformedContainer},
		{"zero screen", []byte("GIF89a\x00\x00\x00\x00\x00\x00\x00\x3b"), ErrMalformedContainer},
		{"unknown block", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00\x99"), ErrMalformedContainer},
		{"no frames", headerOnly, ErrEmptyAnimation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(context.Background(), tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Decode(ctx, threeFrames(t, gif.DisposalNone)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(threeFrames(t, gif.DisposalNone))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 4 {
		t.Errorf("Expected 4x4, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDeinterlace(t *testing.T) {
	// One byte per row, stored in interlaced order for 8 rows: 0,4,2,6,1,3,5,7.
	src := []byte{0, 4, 2, 6, 1, 3, 5, 7}
	got := deinterlace(src, 1, 8)
	for y, v := range got {
		if int(v) != y {
			t.Fatalf("Row %d holds %d, want %d (%v)", y, v, y, got)
		}
	}
}

package compositor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ivlev/gifmerge/internal/anim"
	"github.com/ivlev/gifmerge/internal/config"
	"github.com/ivlev/gifmerge/internal/watermark"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// shade gives every frame index its own opaque color.
func shade(i int) color.RGBA {
	return color.RGBA{uint8(10 + i*20), uint8(200 - i*10), 50, 0xff}
}

func animation(id string, w, h, frames int) *anim.Animation {
	a := &anim.Animation{ID: id, Width: w, Height: h}
	for i := 0; i < frames; i++ {
		a.Frames = append(a.Frames, anim.Frame{Pixels: solid(w, h, shade(i)), DelayMs: 100})
	}
	return a
}

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) bool { return x-y <= 1 || y-x <= 1 }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}

func composite(t *testing.T, anims []*anim.Animation, wms []*watermark.Watermark, opts config.MergeOptions) *anim.Sequence {
	t.Helper()
	seq, err := (&Default{}).Composite(context.Background(), anims, wms, opts, nil)
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	return seq
}

func TestGridFreezesShortInputOnFirstFrame(t *testing.T) {
	long, short := animation("long", 2, 2, 10), animation("short", 2, 2, 3)
	seq := composite(t, []*anim.Animation{long, short}, nil, config.DefaultMergeOptions())

	if seq.Width != 4 || seq.Height != 2 {
		t.Fatalf("Expected 4x2 canvas, got %dx%d", seq.Width, seq.Height)
	}
	if len(seq.Frames) != 10 {
		t.Fatalf("Expected 10 frames, got %d", len(seq.Frames))
	}
	for f := 0; f < 10; f++ {
		if got := seq.Frames[f].RGBAAt(0, 0); got != shade(f) {
			t.Errorf("Frame %d: long input expected %v, got %v", f, shade(f), got)
		}
		want := shade(0)
		if f < 3 {
			want = shade(f)
		}
		if got := seq.Frames[f].RGBAAt(3, 1); got != want {
			t.Errorf("Frame %d: short input expected %v, got %v", f, want, got)
		}
	}
}

func TestSequenceConcatenates(t *testing.T) {
	first, second := animation("a", 3, 3, 5), animation("b", 3, 3, 7)
	second.Frames[0].Pixels = solid(3, 3, color.RGBA{1, 2, 3, 0xff})

	opts := config.DefaultMergeOptions()
	opts.Mode = config.ModeSequence
	seq := composite(t, []*anim.Animation{first, second}, nil, opts)

	if len(seq.Frames) != 12 {
		t.Fatalf("Expected 12 frames, got %d", len(seq.Frames))
	}
	if got := seq.Frames[5].RGBAAt(1, 1); got != (color.RGBA{1, 2, 3, 0xff}) {
		t.Errorf("Frame 5 must be the second input's frame 0, got %v", got)
	}
	if got := seq.Frames[4].RGBAAt(1, 1); got != shade(4) {
		t.Errorf("Frame 4 must be the first input's last frame, got %v", got)
	}
	if got := seq.Frames[11].RGBAAt(1, 1); got != shade(6) {
		t.Errorf("Frame 11 must be the second input's last frame, got %v", got)
	}
}

func TestWatermarkLayering(t *testing.T) {
	blue := color.RGBA{0, 0, 0xff, 0xff}
	tests := []struct {
		layer int
		want  color.RGBA
	}{
		{-1, shade(0)},
		{0, blue},
		{1, blue},
	}
	for _, tt := range tests {
		wm := watermark.NewImageFromBitmap("mark", solid(4, 4, blue))
		wm.LayerOrder = tt.layer
		seq := composite(t, []*anim.Animation{animation("a", 4, 4, 1)}, []*watermark.Watermark{wm}, config.DefaultMergeOptions())
		for _, p := range []image.Point{{0, 0}, {3, 3}} {
			if got := seq.Frames[0].RGBAAt(p.X, p.Y); got != tt.want {
				t.Errorf("Layer %d at %v: expected %v, got %v", tt.layer, p, tt.want, got)
			}
		}
	}
}

func TestSubsetWatermarkSitsBehindItsInput(t *testing.T) {
	clearAnim := func(id string) *anim.Animation {
		return &anim.Animation{ID: id, Width: 2, Height: 2, Frames: []anim.Frame{{Pixels: image.NewRGBA(image.Rect(0, 0, 2, 2))}}}
	}
	a, b := clearAnim("a"), clearAnim("b")
	b.Frames[0].Pixels.SetRGBA(0, 0, color.RGBA{0xff, 0, 0, 0xff})

	green := color.RGBA{0, 0xff, 0, 0xff}
	wm := watermark.NewImageFromBitmap("behind-b", solid(2, 2, green))
	wm.LayerOrder = -1
	wm.Target = watermark.Inputs("b")

	seq := composite(t, []*anim.Animation{a, b}, []*watermark.Watermark{wm}, config.DefaultMergeOptions())
	f := seq.Frames[0]
	if got := f.RGBAAt(0, 0); got.A != 0 {
		t.Errorf("Input a must stay untouched, got %v", got)
	}
	if got := f.RGBAAt(2, 0); got != (color.RGBA{0xff, 0, 0, 0xff}) {
		t.Errorf("Opaque pixel of b must cover the mark, got %v", got)
	}
	if got := f.RGBAAt(3, 1); got != green {
		t.Errorf("Mark must show through b's transparent pixels, got %v", got)
	}
}

func TestSequenceSkipsSubsetWatermarks(t *testing.T) {
	wm := watermark.NewImageFromBitmap("only-a", solid(2, 2, color.RGBA{0, 0, 0xff, 0xff}))
	wm.LayerOrder = 1
	wm.Target = watermark.Inputs("a")

	opts := config.DefaultMergeOptions()
	opts.Mode = config.ModeSequence
	seq := composite(t, []*anim.Animation{animation("a", 2, 2, 2)}, []*watermark.Watermark{wm}, opts)
	if got := seq.Frames[0].RGBAAt(0, 0); got != shade(0) {
		t.Errorf("Subset mark must not render in sequence mode, got %v", got)
	}
}

func TestGridCentersSmallerInputs(t *testing.T) {
	big, small := animation("big", 4, 4, 1), animation("small", 2, 2, 1)
	small.Frames[0].Pixels = solid(2, 2, color.RGBA{9, 9, 9, 0xff})

	seq := composite(t, []*anim.Animation{big, small}, nil, config.DefaultMergeOptions())
	if seq.Width != 8 || seq.Height != 4 {
		t.Fatalf("Expected 8x4, got %dx%d", seq.Width, seq.Height)
	}
	f := seq.Frames[0]
	if got := f.RGBAAt(5, 1); got != (color.RGBA{9, 9, 9, 0xff}) {
		t.Errorf("Small input must be centered in its cell, got %v", got)
	}
	if got := f.RGBAAt(4, 0); got.A != 0 {
		t.Errorf("Cell margin must stay background, got %v", got)
	}
}

func TestExplicitColumns(t *testing.T) {
	anims := []*anim.Animation{animation("a", 2, 2, 1), animation("b", 2, 2, 1), animation("c", 2, 2, 1)}
	opts := config.DefaultMergeOptions()
	opts.Columns = 1
	seq := composite(t, anims, nil, opts)
	if seq.Width != 2 || seq.Height != 6 {
		t.Errorf("Expected a 2x6 column, got %dx%d", seq.Width, seq.Height)
	}
}

func TestBackgroundPolicies(t *testing.T) {
	a := &anim.Animation{
		ID: "a", Width: 2, Height: 2,
		Frames:        []anim.Frame{{Pixels: image.NewRGBA(image.Rect(0, 0, 2, 2))}},
		Background:    color.RGBA{7, 8, 9, 0xff},
		HasBackground: true,
	}
	tests := []struct {
		policy config.BackgroundPolicy
		want   color.RGBA
	}{
		{config.BackgroundTransparent, color.RGBA{}},
		{config.BackgroundWhite, color.RGBA{0xff, 0xff, 0xff, 0xff}},
		{config.BackgroundBlack, color.RGBA{0, 0, 0, 0xff}},
		{config.BackgroundMatchSource, color.RGBA{7, 8, 9, 0xff}},
	}
	for _, tt := range tests {
		opts := config.DefaultMergeOptions()
		opts.Background = tt.policy
		seq := composite(t, []*anim.Animation{a}, nil, opts)
		if got := seq.Frames[0].RGBAAt(1, 1); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.policy, tt.want, got)
		}
		if seq.Transparent != (tt.want.A == 0) {
			t.Errorf("%s: transparent flag %v", tt.policy, seq.Transparent)
		}
	}
}

func TestResampleToTarget(t *testing.T) {
	a := animation("a", 4, 2, 1)
	opts := config.DefaultMergeOptions()
	opts.TargetWidth = 8
	opts.Background = config.BackgroundWhite

	seq := composite(t, []*anim.Animation{a}, nil, opts)
	if seq.Width != 8 || seq.Height != 4 {
		t.Fatalf("Expected 8x4 with a locked aspect ratio, got %dx%d", seq.Width, seq.Height)
	}
	f := seq.Frames[0]
	if f.Rect.Dx() != 8 || f.Rect.Dy() != 4 {
		t.Fatalf("Frame buffer has wrong size %v", f.Rect)
	}
	if got := f.RGBAAt(7, 3); got != shade(0) {
		t.Errorf("Nearest resample must keep the color, got %v", got)
	}

	opts.Interpolation = config.InterpolationBilinear
	seq = composite(t, []*anim.Animation{a}, nil, opts)
	if got := seq.Frames[0].RGBAAt(3, 2); !near(got, shade(0)) {
		t.Errorf("Bilinear over a flat frame must keep the color, got %v", got)
	}
}

func TestCompositeErrors(t *testing.T) {
	c := &Default{}
	opts := config.DefaultMergeOptions()

	if _, err := c.Composite(context.Background(), nil, nil, opts, nil); !errors.Is(err, ErrNoInputs) {
		t.Errorf("Expected ErrNoInputs, got %v", err)
	}
	empty := &anim.Animation{ID: "e", Width: 2, Height: 2}
	if _, err := c.Composite(context.Background(), []*anim.Animation{empty}, nil, opts, nil); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
	dup := []*watermark.Watermark{
		watermark.NewText("logo", "a", 10, color.RGBA{0xff, 0, 0, 0xff}),
		watermark.NewText("logo", "b", 10, color.RGBA{0, 0, 0xff, 0xff}),
	}
	if _, err := c.Composite(context.Background(), []*anim.Animation{animation("a", 4, 4, 1)}, dup, opts, nil); !errors.Is(err, watermark.ErrInvalidWatermark) {
		t.Errorf("Expected ErrInvalidWatermark for duplicate ids, got %v", err)
	}
	opts.FrameIntervalMs = 0
	if _, err := c.Composite(context.Background(), []*anim.Animation{animation("a", 1, 1, 1)}, nil, opts, nil); !errors.Is(err, config.ErrInvalidOption) {
		t.Errorf("Expected ErrInvalidOption, got %v", err)
	}
}

func TestCompositeStopsBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	onFrame := func(done, total int, _ string) {
		calls++
		if done == 2 {
			cancel()
		}
	}
	_, err := (&Default{}).Composite(ctx, []*anim.Animation{animation("a", 2, 2, 6)}, nil, config.DefaultMergeOptions(), onFrame)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected to stop after 2 frames, got %d", calls)
	}
}

func TestSequenceFrameMapping(t *testing.T) {
	l, err := Plan([]*anim.Animation{animation("a", 1, 1, 5), animation("b", 1, 1, 7), animation("c", 1, 1, 1)}, config.ModeSequence, 0)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct{ f, k, i int }{{0, 0, 0}, {4, 0, 4}, {5, 1, 0}, {11, 1, 6}, {12, 2, 0}}
	for _, tt := range tests {
		if k, i := l.SequenceFrame(tt.f); k != tt.k || i != tt.i {
			t.Errorf("Frame %d: expected (%d,%d), got (%d,%d)", tt.f, tt.k, tt.i, k, i)
		}
	}
}

func TestGridColumns(t *testing.T) {
	tests := []struct{ n, columns, want int }{
		{1, 0, 1}, {2, 0, 2}, {4, 0, 2}, {5, 0, 3}, {10, 0, 4}, {3, 1, 1}, {2, 5, 5},
	}
	for _, tt := range tests {
		if got := GridColumns(tt.n, tt.columns); got != tt.want {
			t.Errorf("GridColumns(%d, %d): expected %d, got %d", tt.n, tt.columns, tt.want, got)
		}
	}
}

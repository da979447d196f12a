// Package encoder writes a merged RGBA sequence as an animated GIF with one
// global color table.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math"
	"runtime"
	"sync"

	"github.com/ivlev/gifmerge/internal/anim"
	"github.com/ivlev/gifmerge/internal/progress"
	"golang.org/x/sync/errgroup"
)

var ErrPaletteOverflow = errors.New("encoder: palette overflow")

// GIFEncoder turns a merged sequence into GIF bytes.
type GIFEncoder interface {
	Encode(ctx context.Context, seq *anim.Sequence, frameIntervalMs int, onProgress progress.Phase) ([]byte, error)
}

// Encoder quantizes once for the whole sequence and maps frames in parallel.
type Encoder struct {
	Workers int           // 0: runtime.NumCPU()
	Palette color.Palette // optional caller-supplied table
}

// DelayCS converts a frame interval to GIF centiseconds.
func DelayCS(ms int) int {
	return max(1, int(math.Round(float64(ms)/10)))
}

func (e *Encoder) Encode(ctx context.Context, seq *anim.Sequence, frameIntervalMs int, onProgress progress.Phase) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seq == nil || len(seq.Frames) == 0 {
		return nil, fmt.Errorf("encode: empty sequence")
	}
	report := func(done, total int, label string) {
		if onProgress != nil {
			onProgress(done, total, label)
		}
	}
	n := len(seq.Frames)
	steps := n + 2 // palette, frames, write

	transparent := seq.Transparent || seq.HasTransparency()
	pal, err := e.palette(seq, transparent)
	if err != nil {
		return nil, err
	}
	report(1, steps, "palette")

	out := &gif.GIF{
		Image:     make([]*image.Paletted, n),
		Delay:     make([]int, n),
		Disposal:  make([]byte, n),
		LoopCount: 0,
		Config: image.Config{
			ColorModel: pal,
			Width:      seq.Width,
			Height:     seq.Height,
		},
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var (
		mu       sync.Mutex
		finished int
	)
	for i, frame := range seq.Frames {
		i, frame := i, frame
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out.Image[i] = newMapper(pal).paletted(frame)
			out.Delay[i] = DelayCS(frameIntervalMs)
			out.Disposal[i] = gif.DisposalNone

			mu.Lock()
			finished++
			report(1+finished, steps, fmt.Sprintf("frame %d/%d", finished, n))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, fmt.Errorf("write gif: %w", err)
	}
	report(steps, steps, "write")
	return buf.Bytes(), nil
}

func (e *Encoder) palette(seq *anim.Sequence, transparent bool) (color.Palette, error) {
	if len(e.Palette) == 0 {
		return BuildPalette(seq.Frames, transparent)
	}
	pal := e.Palette
	if transparent && newMapper(pal).transparent < 0 {
		pal = append(color.Palette{color.RGBA{}}, pal...)
	}
	if len(pal) > MaxColors {
		return nil, fmt.Errorf("%w: %d colors", ErrPaletteOverflow, len(pal))
	}
	return pal, nil
}

// Validate decodes gifBytes and checks frame count, size and uniform delay.
func Validate(gifBytes []byte, frames, frameIntervalMs int) error {
	g, err := gif.DecodeAll(bytes.NewReader(gifBytes))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if len(g.Image) != frames {
		return fmt.Errorf("validate: expected %d frames, got %d", frames, len(g.Image))
	}
	want := DelayCS(frameIntervalMs)
	for i, d := range g.Delay {
		if d != want {
			return fmt.Errorf("validate: frame %d delay %dcs, expected %dcs", i, d, want)
		}
	}
	return nil
}

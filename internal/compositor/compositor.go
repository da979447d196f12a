// Package compositor lays decoded animations out on one canvas and renders
// the merged frame sequence with watermarks.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/ivlev/gifmerge/internal/anim"
	"github.com/ivlev/gifmerge/internal/config"
	"github.com/ivlev/gifmerge/internal/progress"
	"github.com/ivlev/gifmerge/internal/system"
	"github.com/ivlev/gifmerge/internal/watermark"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrNoInputs          = errors.New("compositor: no inputs")
	ErrInvalidDimensions = errors.New("compositor: invalid dimensions")
)

// Compositor renders a merged sequence.
type Compositor interface {
	Composite(ctx context.Context, anims []*anim.Animation, wms []*watermark.Watermark, opts config.MergeOptions, onFrame progress.Phase) (*anim.Sequence, error)
}

// Default is the in-memory compositor. Pool supplies intermediate canvases;
// nil uses the process-wide pool.
type Default struct {
	Pool *system.ImagePool
}

// mark is a watermark rasterized for one job.
type mark struct {
	wm     *watermark.Watermark
	global bool
	full   *watermark.RasterLayer         // global: natural canvas sized
	inputs map[int]*watermark.RasterLayer // subset: per selected input
}

type renderer struct {
	anims  []*anim.Animation
	layout *Layout
	below  []*mark // LayerOrder < 0
	above  []*mark // LayerOrder >= 0
	bg     color.RGBA
}

// Composite renders every output frame. The context is checked between frames.
func (c *Default) Composite(ctx context.Context, anims []*anim.Animation, wms []*watermark.Watermark, opts config.MergeOptions, onFrame progress.Phase) (*anim.Sequence, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := watermark.ValidateAll(wms); err != nil {
		return nil, err
	}
	layout, err := Plan(anims, opts.Mode, opts.Columns)
	if err != nil {
		return nil, err
	}
	outW, outH := opts.OutputSize(layout.Width, layout.Height)
	if outW <= 0 || outH <= 0 || outW > config.MaxDimension || outH > config.MaxDimension {
		return nil, fmt.Errorf("%w: output %dx%d", ErrInvalidDimensions, outW, outH)
	}

	r := &renderer{anims: anims, layout: layout, bg: background(opts.Background, anims)}
	if err := r.rasterize(wms); err != nil {
		return nil, err
	}

	get, put := system.GetImage, system.PutImage
	if c.Pool != nil {
		get, put = c.Pool.Get, c.Pool.Put
	}
	resize := outW != layout.Width || outH != layout.Height
	var kernel xdraw.Scaler = xdraw.NearestNeighbor
	if opts.Interpolation == config.InterpolationBilinear {
		kernel = xdraw.BiLinear
	}

	seq := &anim.Sequence{
		Width:       outW,
		Height:      outH,
		Frames:      make([]*image.RGBA, 0, layout.TotalFrames),
		Transparent: r.bg.A == 0,
	}
	for f := 0; f < layout.TotalFrames; f++ {
		if err := ctx.Err(); err != nil {
			seq.Frames = nil
			return nil, fmt.Errorf("composite frame %d: %w", f, err)
		}

		var canvas *image.RGBA
		if resize {
			canvas = get(layout.Width, layout.Height)
		} else {
			canvas = image.NewRGBA(image.Rect(0, 0, layout.Width, layout.Height))
		}
		fill(canvas, r.bg)
		if layout.Mode == config.ModeSequence {
			r.renderSequence(canvas, f)
		} else {
			r.renderGrid(canvas, f)
		}

		out := canvas
		if resize {
			out = image.NewRGBA(image.Rect(0, 0, outW, outH))
			fill(out, r.bg)
			kernel.Scale(out, out.Rect, canvas, canvas.Rect, xdraw.Over, nil)
			put(canvas)
		}
		seq.Frames = append(seq.Frames, out)

		if onFrame != nil {
			onFrame(f+1, layout.TotalFrames, fmt.Sprintf("frame %d/%d", f+1, layout.TotalFrames))
		}
	}
	return seq, nil
}

// rasterize prepares every watermark once per job, sorted by layer order with
// global marks ahead of subset marks of the same order.
func (r *renderer) rasterize(wms []*watermark.Watermark) error {
	var marks []*mark
	for _, wm := range wms {
		if wm == nil {
			continue
		}
		m := &mark{wm: wm, global: wm.Target.All}
		if m.global {
			layer, err := watermark.Rasterize(wm, r.layout.Width, r.layout.Height)
			if err != nil {
				return err
			}
			m.full = layer
		} else {
			if r.layout.Mode == config.ModeSequence {
				continue
			}
			m.inputs = make(map[int]*watermark.RasterLayer)
			for k, a := range r.anims {
				if !wm.Target.Includes(a.ID) {
					continue
				}
				layer, err := watermark.Rasterize(wm, a.Width, a.Height)
				if err != nil {
					return err
				}
				layer.Offset = r.layout.Placements[k].Min
				m.inputs[k] = layer
			}
			if len(m.inputs) == 0 {
				continue
			}
		}
		marks = append(marks, m)
	}

	sort.SliceStable(marks, func(i, j int) bool {
		if marks[i].wm.LayerOrder != marks[j].wm.LayerOrder {
			return marks[i].wm.LayerOrder < marks[j].wm.LayerOrder
		}
		return marks[i].global && !marks[j].global
	})
	for _, m := range marks {
		if m.wm.LayerOrder < 0 {
			r.below = append(r.below, m)
		} else {
			r.above = append(r.above, m)
		}
	}
	return nil
}

func (r *renderer) renderGrid(canvas *image.RGBA, f int) {
	for _, m := range r.below {
		if m.global {
			drawLayer(canvas, m.full)
		}
	}
	for k, a := range r.anims {
		for _, m := range r.below {
			if layer, ok := m.inputs[k]; ok {
				drawLayer(canvas, layer)
			}
		}
		frame := a.Frames[GridFrame(a.FrameCount(), f)].Pixels
		xdraw.Draw(canvas, r.layout.Placements[k], frame, frame.Rect.Min, xdraw.Over)
	}
	r.drawAbove(canvas)
}

func (r *renderer) renderSequence(canvas *image.RGBA, f int) {
	for _, m := range r.below {
		drawLayer(canvas, m.full)
	}
	k, i := r.layout.SequenceFrame(f)
	frame := r.anims[k].Frames[i].Pixels
	xdraw.Draw(canvas, r.layout.Placements[k], frame, frame.Rect.Min, xdraw.Over)
	r.drawAbove(canvas)
}

func (r *renderer) drawAbove(canvas *image.RGBA) {
	for _, m := range r.above {
		if m.global {
			drawLayer(canvas, m.full)
			continue
		}
		for k := range r.anims {
			if layer, ok := m.inputs[k]; ok {
				drawLayer(canvas, layer)
			}
		}
	}
}

func drawLayer(dst *image.RGBA, l *watermark.RasterLayer) {
	xdraw.Draw(dst, l.Image.Rect.Add(l.Offset), l.Image, l.Image.Rect.Min, xdraw.Over)
}

// background resolves the clear color; the zero value means transparent.
func background(p config.BackgroundPolicy, anims []*anim.Animation) color.RGBA {
	switch p {
	case config.BackgroundWhite:
		return color.RGBA{0xff, 0xff, 0xff, 0xff}
	case config.BackgroundBlack:
		return color.RGBA{0, 0, 0, 0xff}
	case config.BackgroundMatchSource:
		if len(anims) > 0 && anims[0].HasBackground {
			return anims[0].Background
		}
	}
	return color.RGBA{}
}

func fill(img *image.RGBA, c color.RGBA) {
	if c.A == 0 {
		clear(img.Pix)
		return
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

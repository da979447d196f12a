package compositor

import (
	"fmt"
	"image"

	"github.com/ivlev/gifmerge/internal/anim"
	"github.com/ivlev/gifmerge/internal/config"
)

// Layout is where every input lands on the natural (unscaled) canvas.
type Layout struct {
	Mode          config.MergeMode
	Width, Height int // natural canvas
	Columns, Rows int // grid only
	Cell          image.Point

	// Placements[k] is the rectangle input k's frames are drawn into.
	Placements []image.Rectangle

	TotalFrames int
	offsets     []int // sequence mode: first output frame of each input
}

// Plan computes the natural canvas and frame count for anims.
func Plan(anims []*anim.Animation, mode config.MergeMode, columns int) (*Layout, error) {
	if len(anims) == 0 {
		return nil, ErrNoInputs
	}
	l := &Layout{Mode: mode}
	for k, a := range anims {
		if a == nil || a.Width <= 0 || a.Height <= 0 || a.FrameCount() == 0 {
			return nil, fmt.Errorf("%w: input %d is empty", ErrInvalidDimensions, k)
		}
		l.Cell.X, l.Cell.Y = max(l.Cell.X, a.Width), max(l.Cell.Y, a.Height)
	}

	switch mode {
	case config.ModeSequence:
		l.Width, l.Height = l.Cell.X, l.Cell.Y
		for _, a := range anims {
			l.offsets = append(l.offsets, l.TotalFrames)
			l.TotalFrames += a.FrameCount()
			l.Placements = append(l.Placements, centered(image.Rect(0, 0, l.Width, l.Height), a.Width, a.Height))
		}
	default:
		l.Columns = GridColumns(len(anims), columns)
		l.Rows = (len(anims) + l.Columns - 1) / l.Columns
		l.Width, l.Height = l.Columns*l.Cell.X, l.Rows*l.Cell.Y
		for k, a := range anims {
			col, row := k%l.Columns, k/l.Columns
			cell := image.Rect(col*l.Cell.X, row*l.Cell.Y, (col+1)*l.Cell.X, (row+1)*l.Cell.Y)
			l.Placements = append(l.Placements, centered(cell, a.Width, a.Height))
			l.TotalFrames = max(l.TotalFrames, a.FrameCount())
		}
	}

	if l.Width > config.MaxDimension || l.Height > config.MaxDimension {
		return nil, fmt.Errorf("%w: natural canvas %dx%d", ErrInvalidDimensions, l.Width, l.Height)
	}
	return l, nil
}

// GridColumns resolves the column count: explicit, else ceil(sqrt(n)).
func GridColumns(n, columns int) int {
	if columns > 0 {
		return columns
	}
	c := 1
	for c*c < n {
		c++
	}
	return c
}

// GridFrame picks the frame of an input for output frame f: short inputs
// freeze on their first frame.
func GridFrame(count, f int) int {
	if f < count {
		return f
	}
	return 0
}

// SequenceFrame maps output frame f to (input, frame) by cumulative offset.
func (l *Layout) SequenceFrame(f int) (int, int) {
	k := len(l.offsets) - 1
	for k > 0 && l.offsets[k] > f {
		k--
	}
	return k, f - l.offsets[k]
}

func centered(cell image.Rectangle, w, h int) image.Rectangle {
	x := cell.Min.X + (cell.Dx()-w)/2
	y := cell.Min.Y + (cell.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

package watermark

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// RasterLayer is a watermark drawn onto a transparent canvas-sized buffer.
// Offset is where the layer's origin lands on the merged canvas; Mark is the
// area the watermark covers inside the layer (before clipping).
type RasterLayer struct {
	Image  *image.RGBA
	Offset image.Point
	Mark   image.Rectangle
}

// Rasterize draws w onto a transparent canvasW x canvasH layer according to its
// tiling mode, rotation and opacity.
func Rasterize(w *Watermark, canvasW, canvasH int) (*RasterLayer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	layer := &RasterLayer{Image: image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))}

	src, err := bitmap(w)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", w.ID, err)
	}
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	if sw == 0 || sh == 0 || canvasW <= 0 || canvasH <= 0 {
		return layer, nil
	}

	switch w.Tiling {
	case TilingDirect:
		cx := float64(w.Position.X) + float64(sw)/2
		cy := float64(w.Position.Y) + float64(sh)/2
		layer.Mark = drawRotated(layer.Image, src, cx, cy, 1, w.RotationDegrees)
	case TilingFill:
		scale := math.Max(float64(canvasW)/float64(sw), float64(canvasH)/float64(sh))
		layer.Mark = drawRotated(layer.Image, src, float64(canvasW)/2, float64(canvasH)/2, scale, w.RotationDegrees)
	case TilingRepeat:
		tile := rotatedTile(src, w.RotationDegrees)
		tileRepeat(layer.Image, tile)
		layer.Mark = layer.Image.Rect
	}

	applyOpacity(layer.Image, w.Opacity)
	return layer, nil
}

// bitmap returns the watermark at its current size and full opacity.
func bitmap(w *Watermark) (*image.RGBA, error) {
	switch p := w.Payload.(type) {
	case *ImagePayload:
		if p.Width == p.Bitmap.Rect.Dx() && p.Height == p.Bitmap.Rect.Dy() {
			return p.Bitmap, nil
		}
		dst := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
		xdraw.BiLinear.Scale(dst, dst.Rect, p.Bitmap, p.Bitmap.Rect, xdraw.Src, nil)
		return dst, nil
	case *TextPayload:
		return renderText(p)
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidWatermark, p)
	}
}

// affine maps src pixel space onto dst so that the source center lands on
// (cx, cy), scaled by s and rotated clockwise by deg.
func affine(sw, sh int, cx, cy, s, deg float64) f64.Aff3 {
	rad := deg * math.Pi / 180
	cos, sin := s*math.Cos(rad), s*math.Sin(rad)
	hw, hh := float64(sw)/2, float64(sh)/2
	return f64.Aff3{
		cos, -sin, cx - cos*hw + sin*hh,
		sin, cos, cy - sin*hw - cos*hh,
	}
}

// bounds of the transformed source rectangle.
func transformedBounds(m f64.Aff3, sw, sh int) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [4][2]float64{{0, 0}, {float64(sw), 0}, {0, float64(sh)}, {float64(sw), float64(sh)}} {
		// snap away float noise from sin/cos at right angles
		x := math.Round((m[0]*p[0]+m[1]*p[1]+m[2])*1e6) / 1e6
		y := math.Round((m[3]*p[0]+m[4]*p[1]+m[5])*1e6) / 1e6
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

func drawRotated(dst *image.RGBA, src *image.RGBA, cx, cy, scale, deg float64) image.Rectangle {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	m := affine(sw, sh, cx, cy, scale, deg)
	mark := transformedBounds(m, sw, sh)

	if math.Mod(deg, 360) == 0 && scale == 1 && m[2] == math.Trunc(m[2]) && m[5] == math.Trunc(m[5]) {
		at := image.Pt(int(m[2]), int(m[5]))
		xdraw.Draw(dst, src.Rect.Add(at), src, image.Point{}, xdraw.Over)
		return mark
	}
	xdraw.BiLinear.Transform(dst, m, src, src.Rect, xdraw.Over, nil)
	return mark
}

// rotatedTile rotates src about its center into a buffer sized to the rotated
// bounding box.
func rotatedTile(src *image.RGBA, deg float64) *image.RGBA {
	if math.Mod(deg, 360) == 0 {
		return src
	}
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	b := transformedBounds(affine(sw, sh, 0, 0, 1, deg), sw, sh)
	tile := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	drawRotated(tile, src, float64(b.Dx())/2, float64(b.Dy())/2, 1, deg)
	return tile
}

// tileRepeat covers dst with copies of tile starting at the origin, no gaps.
func tileRepeat(dst *image.RGBA, tile *image.RGBA) {
	tw, th := tile.Rect.Dx(), tile.Rect.Dy()
	if tw == 0 || th == 0 {
		return
	}
	for y := 0; y < dst.Rect.Dy(); y += th {
		for x := 0; x < dst.Rect.Dx(); x += tw {
			xdraw.Draw(dst, image.Rect(x, y, x+tw, y+th), tile, tile.Rect.Min, xdraw.Over)
		}
	}
}

// applyOpacity scales premultiplied pixels by opacity.
func applyOpacity(img *image.RGBA, opacity float64) {
	if opacity >= 1 {
		return
	}
	k := uint32(math.Round(opacity * 255))
	for i := range img.Pix {
		img.Pix[i] = uint8((uint32(img.Pix[i])*k + 127) / 255)
	}
}

package encoder

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/ericpauley/go-quantize/quantize"
)

// MaxColors is the GIF color table limit.
const MaxColors = 256

// alphaCutoff: pixels below it become the transparency index.
const alphaCutoff = 128

// maxSamples bounds the pixels handed to the quantizer.
const maxSamples = 1 << 18

// opaqueRGB returns the straight (non-premultiplied) color of a pixel and
// whether it counts as opaque.
func opaqueRGB(pix []uint8) (uint32, bool) {
	a := uint32(pix[3])
	if a < alphaCutoff {
		return 0, false
	}
	r, g, b := uint32(pix[0]), uint32(pix[1]), uint32(pix[2])
	if a < 0xff {
		r, g, b = min(r*0xff/a, 0xff), min(g*0xff/a, 0xff), min(b*0xff/a, 0xff)
	}
	return r<<16 | g<<8 | b, true
}

func unpack(v uint32) color.RGBA {
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}
}

// BuildPalette returns a deterministic global color table for frames. With
// transparent set, index 0 is reserved for the fully transparent color.
func BuildPalette(frames []*image.RGBA, transparent bool) (color.Palette, error) {
	limit := MaxColors
	if transparent {
		limit--
	}

	colors, exact := uniqueColors(frames, limit)
	var opaque color.Palette
	if exact {
		sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })
		for _, c := range colors {
			opaque = append(opaque, unpack(c))
		}
	} else {
		opaque = quantizeSample(frames, limit)
	}
	if len(opaque) == 0 {
		opaque = color.Palette{color.RGBA{0, 0, 0, 0xff}}
	}

	var pal color.Palette
	if transparent {
		pal = append(pal, color.RGBA{})
	}
	pal = append(pal, opaque...)
	if len(pal) > MaxColors {
		return nil, fmt.Errorf("%w: %d colors", ErrPaletteOverflow, len(pal))
	}
	return pal, nil
}

// uniqueColors collects the distinct opaque colors; exact is false once more
// than limit colors were seen.
func uniqueColors(frames []*image.RGBA, limit int) ([]uint32, bool) {
	seen := make(map[uint32]struct{}, limit+1)
	var out []uint32
	for _, f := range frames {
		for i := 0; i < len(f.Pix); i += 4 {
			c, ok := opaqueRGB(f.Pix[i : i+4])
			if !ok {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			if len(out) == limit {
				return nil, false
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, true
}

// quantizeSample runs median cut over an evenly strided sample of the opaque
// pixels, so the result only depends on the frames.
func quantizeSample(frames []*image.RGBA, limit int) color.Palette {
	total := 0
	for _, f := range frames {
		total += len(f.Pix) / 4
	}
	step := max(total/maxSamples, 1)

	var sample []uint32
	n := 0
	for _, f := range frames {
		for i := 0; i < len(f.Pix); i += 4 {
			n++
			if n%step != 0 {
				continue
			}
			if c, ok := opaqueRGB(f.Pix[i : i+4]); ok {
				sample = append(sample, c)
			}
		}
	}
	if len(sample) == 0 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, len(sample), 1))
	for i, c := range sample {
		img.SetRGBA(i, 0, unpack(c))
	}
	raw := quantize.MedianCutQuantizer{}.Quantize(make(color.Palette, 0, limit), img)

	seen := make(map[color.RGBA]struct{}, len(raw))
	pal := make(color.Palette, 0, len(raw))
	for _, c := range raw {
		rgba := color.RGBAModel.Convert(c).(color.RGBA)
		rgba.A = 0xff
		if _, dup := seen[rgba]; dup {
			continue
		}
		seen[rgba] = struct{}{}
		pal = append(pal, rgba)
	}
	sort.Slice(pal, func(i, j int) bool {
		a, b := pal[i].(color.RGBA), pal[j].(color.RGBA)
		return uint32(a.R)<<16|uint32(a.G)<<8|uint32(a.B) < uint32(b.R)<<16|uint32(b.G)<<8|uint32(b.B)
	})
	if len(pal) > limit {
		pal = pal[:limit]
	}
	return pal
}

// mapper converts pixels to palette indices with a per-frame cache.
type mapper struct {
	pal         color.Palette
	rgb         []color.RGBA // straight colors of pal
	transparent int          // -1 if none
	cache       map[uint32]uint8
}

func newMapper(pal color.Palette) *mapper {
	m := &mapper{pal: pal, transparent: -1, cache: make(map[uint32]uint8)}
	for i, c := range pal {
		rgba := color.NRGBAModel.Convert(c).(color.NRGBA)
		m.rgb = append(m.rgb, color.RGBA{rgba.R, rgba.G, rgba.B, rgba.A})
		if rgba.A == 0 && m.transparent < 0 {
			m.transparent = i
		}
	}
	return m
}

func (m *mapper) index(pix []uint8) uint8 {
	c, ok := opaqueRGB(pix)
	if !ok && m.transparent >= 0 {
		return uint8(m.transparent)
	}
	if idx, hit := m.cache[c]; hit {
		return idx
	}
	r, g, b := int(c>>16&0xff), int(c>>8&0xff), int(c&0xff)
	best, bestDist := 0, -1
	for i, p := range m.rgb {
		if i == m.transparent {
			continue
		}
		dr, dg, db := r-int(p.R), g-int(p.G), b-int(p.B)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	m.cache[c] = uint8(best)
	return uint8(best)
}

func (m *mapper) paletted(src *image.RGBA) *image.Paletted {
	dst := image.NewPaletted(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()), m.pal)
	for y := 0; y < src.Rect.Dy(); y++ {
		sOff := y * src.Stride
		dOff := y * dst.Stride
		for x := 0; x < src.Rect.Dx(); x++ {
			dst.Pix[dOff+x] = m.index(src.Pix[sOff : sOff+4])
			sOff += 4
		}
	}
	return dst
}

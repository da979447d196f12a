package watermark

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TransparencyKey is the color the encoder treats as see-through in the
// exporter this tool replaces; text drawn in it is nudged to NudgedKey.
var (
	TransparencyKey = color.RGBA{0, 0, 0, 0xff}
	NudgedKey       = color.RGBA{2, 2, 2, 0xff}
)

type fontKey struct {
	mono, bold, italic bool
}

var fontFiles = map[fontKey][]byte{
	{false, false, false}: goregular.TTF,
	{false, true, false}:  gobold.TTF,
	{false, false, true}:  goitalic.TTF,
	{false, true, true}:   gobolditalic.TTF,
	{true, false, false}:  gomono.TTF,
	{true, true, false}:   gomonobold.TTF,
	{true, false, true}:   gomonoitalic.TTF,
	{true, true, true}:    gomonobolditalic.TTF,
}

var (
	fontsMu sync.Mutex
	fonts   = map[fontKey]*opentype.Font{}
)

func isMono(family string) bool {
	switch strings.ToLower(strings.TrimSpace(family)) {
	case "mono", "monospace", "courier", "courier new", "consolas":
		return true
	}
	return false
}

func loadFont(k fontKey) (*opentype.Font, error) {
	fontsMu.Lock()
	defer fontsMu.Unlock()
	if f, ok := fonts[k]; ok {
		return f, nil
	}
	f, err := opentype.Parse(fontFiles[k])
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	fonts[k] = f
	return f, nil
}

// textColor applies the transparency-key nudge.
func textColor(c color.RGBA) color.RGBA {
	if c == TransparencyKey {
		return NudgedKey
	}
	return c
}

func newFace(p *TextPayload) (font.Face, error) {
	f, err := loadFont(fontKey{mono: isMono(p.FontFamily), bold: p.Bold, italic: p.Italic})
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    p.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new face: %w", err)
	}
	return face, nil
}

func textSize(face font.Face, s string) image.Point {
	m := face.Metrics()
	return image.Pt(font.MeasureString(face, s).Ceil(), (m.Ascent + m.Descent).Ceil())
}

// MeasureText returns the bitmap size a text payload rasterizes to.
func MeasureText(p *TextPayload) (image.Point, error) {
	face, err := newFace(p)
	if err != nil {
		return image.Point{}, err
	}
	defer face.Close()
	return textSize(face, p.Text), nil
}

// renderText draws the glyph run into a tight bitmap: measured advance wide,
// ascent+descent tall.
func renderText(p *TextPayload) (*image.RGBA, error) {
	face, err := newFace(p)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	img := image.NewRGBA(image.Rectangle{Max: textSize(face, p.Text)})
	if img.Rect.Empty() {
		return img, nil
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor(p.Color)),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(p.Text)
	return img, nil
}

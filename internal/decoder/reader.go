package decoder

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Block introducers and extension labels.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2C
	sTrailer         = 0x3B

	eGraphicControl = 0xF9
	eApplication    = 0xFF
)

// Masks for the packed fields.
const (
	fColorTable         = 1 << 7
	fInterlace          = 1 << 6
	fColorTableBitsMask = 7

	gcTransparentColorSet = 1 << 0
	gcDisposalMethodMask  = 7 << 2
)

var (
	errNoColorTable   = errors.New("no color table")
	errUnknownBlock   = errors.New("unknown block type")
	errMissingTrailer = errors.New("missing trailer")
)

// header is the parsed signature + logical screen descriptor.
type header struct {
	version       string
	width, height int
	globalPalette color.Palette
	bgIndex       byte
}

// rawFrame is one image block with the graphic control state that precedes it.
type rawFrame struct {
	rect        image.Rectangle
	palette     color.Palette
	transparent int // -1 when unset
	delayCS     int
	disposal    byte
	interlaced  bool
	litWidth    int
	data        []byte
}

// reader walks the GIF block structure. It never touches pixels.
type reader struct {
	r   *bytes.Reader
	hdr header

	loopCount int

	// Graphic control state carried to the next image descriptor.
	gcSet       bool
	transparent int
	delayCS     int
	disposal    byte
}

func newReader(data []byte) *reader {
	return &reader{r: bytes.NewReader(data), loopCount: -1, transparent: -1}
}

func (d *reader) readFull(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (d *reader) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err == io.EOF {
		return 0, io.ErrUnexpectedEOF
	}
	return b, err
}

func (d *reader) readHeader() error {
	var buf [13]byte
	if err := d.readFull(buf[:]); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	sig := string(buf[:6])
	if sig != "GIF87a" && sig != "GIF89a" {
		return fmt.Errorf("bad signature %q", sig)
	}
	d.hdr.version = sig[3:]
	d.hdr.width = int(binary.LittleEndian.Uint16(buf[6:8]))
	d.hdr.height = int(binary.LittleEndian.Uint16(buf[8:10]))
	if d.hdr.width == 0 || d.hdr.height == 0 {
		return fmt.Errorf("empty logical screen %dx%d", d.hdr.width, d.hdr.height)
	}
	packed := buf[10]
	d.hdr.bgIndex = buf[11]
	if packed&fColorTable != 0 {
		p, err := d.readColorTable(packed)
		if err != nil {
			return fmt.Errorf("reading global color table: %w", err)
		}
		d.hdr.globalPalette = p
	}
	return nil
}

func (d *reader) readColorTable(packed byte) (color.Palette, error) {
	n := 1 << (1 + uint(packed&fColorTableBitsMask))
	buf := make([]byte, 3*n)
	if err := d.readFull(buf); err != nil {
		return nil, err
	}
	p := make(color.Palette, n)
	for i := range p {
		p[i] = color.RGBA{buf[3*i], buf[3*i+1], buf[3*i+2], 0xff}
	}
	return p, nil
}

// nextFrame returns the next image block, or io.EOF after the trailer.
func (d *reader) nextFrame() (*rawFrame, error) {
	for {
		b, err := d.r.ReadByte()
		if err == io.EOF {
			return nil, errMissingTrailer
		}
		switch b {
		case sExtension:
			if err := d.readExtension(); err != nil {
				return nil, err
			}
		case sImageDescriptor:
			return d.readImage()
		case sTrailer:
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("%w 0x%02x", errUnknownBlock, b)
		}
	}
}

func (d *reader) readExtension() error {
	label, err := d.readByte()
	if err != nil {
		return err
	}
	switch label {
	case eGraphicControl:
		return d.readGraphicControl()
	case eApplication:
		return d.readApplication()
	default:
		_, err := d.readSubBlocks(nil)
		return err
	}
}

func (d *reader) readGraphicControl() error {
	var buf [6]byte
	if err := d.readFull(buf[:]); err != nil {
		return fmt.Errorf("reading graphic control: %w", err)
	}
	if buf[0] != 4 {
		return fmt.Errorf("invalid graphic control block size %d", buf[0])
	}
	packed := buf[1]
	d.gcSet = true
	d.disposal = (packed & gcDisposalMethodMask) >> 2
	d.delayCS = int(binary.LittleEndian.Uint16(buf[2:4]))
	d.transparent = -1
	if packed&gcTransparentColorSet != 0 {
		d.transparent = int(buf[4])
	}
	if buf[5] != 0 {
		return fmt.Errorf("missing graphic control terminator")
	}
	return nil
}

func (d *reader) readApplication() error {
	size, err := d.readByte()
	if err != nil {
		return err
	}
	id := make([]byte, size)
	if err := d.readFull(id); err != nil {
		return err
	}
	blocks, err := d.readSubBlocks(nil)
	if err != nil {
		return err
	}
	if string(id) == "NETSCAPE2.0" && len(blocks) >= 3 && blocks[0] == 1 {
		d.loopCount = int(binary.LittleEndian.Uint16(blocks[1:3]))
	}
	return nil
}

// readSubBlocks appends the payload of a sub-block chain to dst.
func (d *reader) readSubBlocks(dst []byte) ([]byte, error) {
	for {
		n, err := d.readByte()
		if err != nil {
			return dst, err
		}
		if n == 0 {
			return dst, nil
		}
		start := len(dst)
		dst = append(dst, make([]byte, n)...)
		if err := d.readFull(dst[start:]); err != nil {
			return dst, err
		}
	}
}

func (d *reader) readImage() (*rawFrame, error) {
	var buf [9]byte
	if err := d.readFull(buf[:]); err != nil {
		return nil, fmt.Errorf("reading image descriptor: %w", err)
	}
	left := int(binary.LittleEndian.Uint16(buf[0:2]))
	top := int(binary.LittleEndian.Uint16(buf[2:4]))
	w := int(binary.LittleEndian.Uint16(buf[4:6]))
	h := int(binary.LittleEndian.Uint16(buf[6:8]))
	packed := buf[8]

	f := &rawFrame{
		rect:        image.Rect(left, top, left+w, top+h),
		palette:     d.hdr.globalPalette,
		transparent: -1,
		interlaced:  packed&fInterlace != 0,
	}
	if d.gcSet {
		f.transparent = d.transparent
		f.delayCS = d.delayCS
		f.disposal = d.disposal
	}
	d.gcSet, d.transparent, d.delayCS, d.disposal = false, -1, 0, 0

	if packed&fColorTable != 0 {
		p, err := d.readColorTable(packed)
		if err != nil {
			return nil, fmt.Errorf("reading local color table: %w", err)
		}
		f.palette = p
	}
	if f.palette == nil {
		return nil, errNoColorTable
	}

	lw, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if lw < 2 || lw > 8 {
		return nil, fmt.Errorf("pixel size in decode out of range: %d", lw)
	}
	f.litWidth = int(lw)
	if f.data, err = d.readSubBlocks(nil); err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	return f, nil
}

// indices decompresses the LZW patch into one palette index per pixel, rows in display order.
func (f *rawFrame) indices() ([]byte, error) {
	w, h := f.rect.Dx(), f.rect.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}
	lr := lzw.NewReader(bytes.NewReader(f.data), lzw.LSB, f.litWidth)
	defer lr.Close()

	pix := make([]byte, w*h)
	if _, err := io.ReadFull(lr, pix); err != nil {
		return nil, fmt.Errorf("lzw: %w", err)
	}
	for _, idx := range pix {
		if int(idx) >= len(f.palette) && int(idx) != f.transparent {
			return nil, fmt.Errorf("color index %d out of range (palette %d)", idx, len(f.palette))
		}
	}
	if f.interlaced {
		pix = deinterlace(pix, w, h)
	}
	return pix, nil
}

// interlacing passes: start row and step.
var interlacing = [4][2]int{{0, 8}, {4, 8}, {2, 4}, {1, 2}}

func deinterlace(src []byte, w, h int) []byte {
	dst := make([]byte, len(src))
	row := 0
	for _, pass := range interlacing {
		for y := pass[0]; y < h; y += pass[1] {
			copy(dst[y*w:(y+1)*w], src[row*w:(row+1)*w])
			row++
		}
	}
	return dst
}

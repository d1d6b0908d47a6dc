package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"sort"

	"pdfsuite/doc"
	"pdfsuite/security"
)

// Simple is a deterministic, self-contained codec over the document model.
// It exists so the engine can be exercised end to end without an external
// PDF library: identical documents always serialize to identical bytes.
// Protection metadata (mode and permissions) is persisted; key material is
// not.
type Simple struct{}

var magic = []byte("PSDOC1")

const formatVersion = 1

// NewSimple returns the reference codec.
func NewSimple() *Simple { return &Simple{} }

func (c *Simple) Write(ctx context.Context, d *doc.Document, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := &encoder{w: w}
	e.raw(magic)
	e.u8(formatVersion)
	e.str(d.ID)

	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.u32(uint32(len(keys)))
	for _, k := range keys {
		e.str(k)
		e.str(d.Metadata[k])
	}

	e.u32(uint32(len(d.Pages)))
	for _, p := range d.Pages {
		e.f64(p.Width)
		e.f64(p.Height)
		e.i32(int32(p.Rotation))
		e.str(p.ContentRef)
		e.u32(uint32(len(p.Text)))
		for _, s := range p.Text {
			e.str(s.Text)
			e.rect(s.Bounds)
		}
		e.u32(uint32(len(p.Layers)))
		for _, l := range p.Layers {
			e.u8(uint8(l.Kind))
			e.rect(l.Bounds)
			e.i32(int32(l.Z))
			e.str(l.Text)
			e.blob(l.Data)
			e.f64(l.Opacity)
			e.f64(l.Angle)
		}
		if p.OCR == nil {
			e.u8(0)
		} else {
			e.u8(1)
			e.str(p.OCR.Language)
			e.u32(uint32(len(p.OCR.Runs)))
			for _, r := range p.OCR.Runs {
				e.str(r.Text)
				e.rect(r.Bounds)
				e.f64(r.Confidence)
			}
		}
	}

	e.bookmarks(d.Bookmarks)
	e.u8(uint8(d.Encryption.Mode()))
	e.u16(uint16(d.Encryption.Permissions()))
	return e.err
}

func (c *Simple) Parse(ctx context.Context, data []byte) (*doc.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dec := &decoder{r: bytes.NewReader(data)}
	head := dec.rawN(len(magic))
	if dec.err != nil || !bytes.Equal(head, magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrParse)
	}
	if v := dec.u8(); dec.err == nil && v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrParse, v)
	}
	d := &doc.Document{
		ID:       dec.str(),
		Metadata: make(map[string]string),
	}
	for i, n := 0, int(dec.u32()); i < n && dec.err == nil; i++ {
		k := dec.str()
		d.Metadata[k] = dec.str()
	}
	for i, n := 0, int(dec.u32()); i < n && dec.err == nil; i++ {
		p := &doc.Page{
			Width:      dec.f64(),
			Height:     dec.f64(),
			Rotation:   int(dec.i32()),
			ContentRef: dec.str(),
		}
		for j, m := 0, int(dec.u32()); j < m && dec.err == nil; j++ {
			p.Text = append(p.Text, doc.TextSpan{Text: dec.str(), Bounds: dec.rect()})
		}
		for j, m := 0, int(dec.u32()); j < m && dec.err == nil; j++ {
			p.Layers = append(p.Layers, doc.Layer{
				Kind:    doc.LayerKind(dec.u8()),
				Bounds:  dec.rect(),
				Z:       int(dec.i32()),
				Text:    dec.str(),
				Data:    dec.blob(),
				Opacity: dec.f64(),
				Angle:   dec.f64(),
			})
		}
		if dec.u8() == 1 {
			ocr := &doc.OCRLayer{Language: dec.str()}
			for j, m := 0, int(dec.u32()); j < m && dec.err == nil; j++ {
				ocr.Runs = append(ocr.Runs, doc.TextRun{
					Text:       dec.str(),
					Bounds:     dec.rect(),
					Confidence: dec.f64(),
				})
			}
			p.OCR = ocr
		}
		d.Pages = append(d.Pages, p)
	}
	d.Bookmarks = dec.bookmarks()
	mode := security.Mode(dec.u8())
	perms := security.Permissions(dec.u16())
	if dec.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, dec.err)
	}
	d.Encryption = security.RestoreState(mode, perms)
	d.Renumber()
	return d, nil
}

// Render rasterizes a page as a white canvas with gray boxes where text
// spans and layers sit. Rotation of 90 or 270 degrees swaps the canvas
// dimensions.
func (c *Simple) Render(ctx context.Context, d *doc.Document, pageIndex int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.Page(pageIndex)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = 1
	}
	w, h := p.Width, p.Height
	if p.Rotation == 90 || p.Rotation == 270 {
		w, h = h, w
	}
	img := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(w*scale)), int(math.Ceil(h*scale))))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	ink := image.NewUniform(color.Gray{Y: 0x60})
	for _, s := range p.Text {
		draw.Draw(img, scaleRect(s.Bounds, p.Height, scale), ink, image.Point{}, draw.Src)
	}
	for _, l := range p.Layers {
		draw.Draw(img, scaleRect(l.Bounds, p.Height, scale), ink, image.Point{}, draw.Src)
	}
	return img, nil
}

// scaleRect flips page coordinates (origin lower-left) into image
// coordinates (origin upper-left).
func scaleRect(r doc.Rect, pageHeight, scale float64) image.Rectangle {
	x0 := int(r.X * scale)
	y0 := int((pageHeight - r.Y - r.Height) * scale)
	x1 := int((r.X + r.Width) * scale)
	y1 := int((pageHeight - r.Y) * scale)
	return image.Rect(x0, y0, x1, y1)
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) raw(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(v uint8)   { e.raw([]byte{v}) }
func (e *encoder) u16(v uint16) { e.raw(binary.BigEndian.AppendUint16(nil, v)) }
func (e *encoder) u32(v uint32) { e.raw(binary.BigEndian.AppendUint32(nil, v)) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) f64(v float64) {
	e.raw(binary.BigEndian.AppendUint64(nil, math.Float64bits(v)))
}

func (e *encoder) str(s string) { e.blob([]byte(s)) }

func (e *encoder) blob(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

func (e *encoder) rect(r doc.Rect) {
	e.f64(r.X)
	e.f64(r.Y)
	e.f64(r.Width)
	e.f64(r.Height)
}

func (e *encoder) bookmarks(nodes []*doc.Bookmark) {
	e.u32(uint32(len(nodes)))
	for _, n := range nodes {
		e.str(n.Title)
		e.i32(int32(n.PageIndex))
		e.bookmarks(n.Children)
	}
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) rawN(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || int64(n) > int64(d.r.Len()) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return b
}

func (d *decoder) u8() uint8 {
	b := d.rawN(1)
	if d.err != nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.rawN(2)
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.rawN(4)
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) f64() float64 {
	b := d.rawN(8)
	if d.err != nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d *decoder) str() string { return string(d.blob()) }

func (d *decoder) blob() []byte {
	n := int(d.u32())
	b := d.rawN(n)
	if len(b) == 0 {
		return nil
	}
	return b
}

func (d *decoder) rect() doc.Rect {
	return doc.Rect{X: d.f64(), Y: d.f64(), Width: d.f64(), Height: d.f64()}
}

func (d *decoder) bookmarks() []*doc.Bookmark {
	n := int(d.u32())
	if d.err != nil || n == 0 {
		return nil
	}
	// Every node takes at least 12 bytes (title length, page index,
	// child count), so a count beyond that bound is malformed. Checking
	// before the prealloc keeps a tiny input from forcing a huge one.
	const minNodeSize = 12
	if n > d.r.Len()/minNodeSize {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	out := make([]*doc.Bookmark, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		b := &doc.Bookmark{Title: d.str(), PageIndex: int(d.i32())}
		b.Children = d.bookmarks()
		out = append(out, b)
	}
	return out
}

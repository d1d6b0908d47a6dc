// Package doc holds the in-memory document model that all pipeline
// operations read and mutate. The model owns pages, overlay layers,
// bookmarks, metadata and encryption state once loaded; parsing raw bytes
// into the model and serializing it back is the codec collaborator's job.
package doc

import (
	"errors"
	"fmt"
	"strings"

	"pdfsuite/security"
)

// ErrPageIndex is returned when a page index is out of range.
var ErrPageIndex = errors.New("doc: page index out of range")

// Well-known metadata keys. Custom keys are allowed alongside these.
const (
	MetaTitle    = "Title"
	MetaAuthor   = "Author"
	MetaSubject  = "Subject"
	MetaKeywords = "Keywords"
	MetaProducer = "Producer"
)

// Rect is an axis-aligned rectangle in page coordinates with the origin in
// the lower-left corner of the page.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the rectangle has non-positive dimensions.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Intersects reports whether r and other overlap.
func (r Rect) Intersects(other Rect) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return r.X < other.X+other.Width && other.X < r.X+r.Width &&
		r.Y < other.Y+other.Height && other.Y < r.Y+r.Height
}

// LayerKind identifies the type of an overlay layer.
type LayerKind int

const (
	LayerHighlight LayerKind = iota
	LayerUnderline
	LayerStrikethrough
	LayerShape
	LayerWatermark
	LayerText
	LayerImage
)

func (k LayerKind) String() string {
	switch k {
	case LayerHighlight:
		return "highlight"
	case LayerUnderline:
		return "underline"
	case LayerStrikethrough:
		return "strikethrough"
	case LayerShape:
		return "shape"
	case LayerWatermark:
		return "watermark"
	case LayerText:
		return "text"
	case LayerImage:
		return "image"
	default:
		return fmt.Sprintf("LayerKind(%d)", int(k))
	}
}

// Layer is one overlay on a page: an annotation, watermark, inserted text
// or image. Layers render above the base content in ascending Z order.
type Layer struct {
	Kind    LayerKind
	Bounds  Rect
	Z       int
	Text    string  // text, watermark and markup layers
	Data    []byte  // image layers: encoded image bytes
	Opacity float64 // 0 treated as fully opaque
	Angle   float64 // rotation of the layer content, degrees
}

// TextSpan is a positioned run of searchable base text on a page.
type TextSpan struct {
	Text   string
	Bounds Rect
}

// TextRun is one positioned OCR result with recognition confidence.
type TextRun struct {
	Text       string
	Bounds     Rect
	Confidence float64
}

// OCRLayer carries recognized text for a page. Present only when OCR was
// applied to that page.
type OCRLayer struct {
	Language string
	Runs     []TextRun
}

// Page models a single page of a document.
type Page struct {
	Index      int // position in Document.Pages; maintained by Renumber
	Width      float64
	Height     float64
	Rotation   int    // degrees, always one of 0/90/180/270
	ContentRef string // opaque reference to the base content stream
	Text       []TextSpan
	Layers     []Layer
	OCR        *OCRLayer
}

// NewPage returns an empty page of the given size.
func NewPage(width, height float64) *Page {
	return &Page{Width: width, Height: height}
}

// NormalizeRotation reduces an angle to the canonical 0/90/180/270 range.
// Angles that are not multiples of 90 are rejected.
func NormalizeRotation(angle int) (int, error) {
	if angle%90 != 0 {
		return 0, fmt.Errorf("doc: rotation %d is not a multiple of 90", angle)
	}
	a := angle % 360
	if a < 0 {
		a += 360
	}
	return a, nil
}

// Rotate adds angle to the page rotation, keeping the 0/90/180/270
// invariant.
func (p *Page) Rotate(angle int) error {
	a, err := NormalizeRotation(p.Rotation + angle)
	if err != nil {
		return err
	}
	p.Rotation = a
	return nil
}

// AddLayer appends a layer above all existing ones.
func (p *Page) AddLayer(l Layer) {
	l.Z = len(p.Layers)
	p.Layers = append(p.Layers, l)
}

// PlainText returns the page's base text joined in span order.
func (p *Page) PlainText() string {
	var b strings.Builder
	for i, s := range p.Text {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// FindText returns the base text spans containing the query string.
func (p *Page) FindText(query string) []TextSpan {
	if query == "" {
		return nil
	}
	var hits []TextSpan
	for _, s := range p.Text {
		if strings.Contains(s.Text, query) {
			hits = append(hits, s)
		}
	}
	return hits
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	cp := *p
	cp.Text = append([]TextSpan(nil), p.Text...)
	cp.Layers = make([]Layer, len(p.Layers))
	for i, l := range p.Layers {
		cl := l
		cl.Data = append([]byte(nil), l.Data...)
		cp.Layers[i] = cl
	}
	if p.OCR != nil {
		ocr := *p.OCR
		ocr.Runs = append([]TextRun(nil), p.OCR.Runs...)
		cp.OCR = &ocr
	}
	return &cp
}

// Document is the mutable in-memory representation of one PDF. It is owned
// exclusively by one pipeline run during an apply and read-shared between
// edits; concurrent mutation requires an explicit Clone.
type Document struct {
	ID         string
	Pages      []*Page
	Metadata   map[string]string
	Bookmarks  []*Bookmark
	Encryption *security.State
	Dirty      bool
}

// New builds a document over the given pages and assigns their indices.
func New(id string, pages ...*Page) *Document {
	d := &Document{
		ID:       id,
		Pages:    pages,
		Metadata: make(map[string]string),
	}
	d.Renumber()
	return d
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Page returns the page at the given zero-based index.
func (d *Document) Page(index int) (*Page, error) {
	if index < 0 || index >= len(d.Pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageIndex, index, len(d.Pages))
	}
	return d.Pages[index], nil
}

// Renumber reassigns contiguous zero-based indices to all pages. Structural
// operations call this after every page mutation.
func (d *Document) Renumber() {
	for i, p := range d.Pages {
		p.Index = i
	}
}

// Encrypted reports whether the document carries password protection.
func (d *Document) Encrypted() bool {
	return d.Encryption.Mode() != security.ModeNone
}

// ClearEncryption removes protection. Permissions are meaningless without
// an encryption state and are dropped with it.
func (d *Document) ClearEncryption() {
	d.Encryption = nil
}

// Clone returns a deep copy sharing no mutable state with the original.
func (d *Document) Clone() *Document {
	cp := &Document{
		ID:         d.ID,
		Metadata:   make(map[string]string, len(d.Metadata)),
		Encryption: d.Encryption.Clone(),
		Dirty:      d.Dirty,
	}
	for k, v := range d.Metadata {
		cp.Metadata[k] = v
	}
	cp.Pages = make([]*Page, len(d.Pages))
	for i, p := range d.Pages {
		cp.Pages[i] = p.Clone()
	}
	cp.Bookmarks = cloneBookmarks(d.Bookmarks)
	return cp
}

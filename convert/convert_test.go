package convert

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"

	"pdfsuite/codec"
	"pdfsuite/doc"
)

func textDoc() *doc.Document {
	p0 := doc.NewPage(595, 842)
	p0.Text = []doc.TextSpan{
		{Text: "first page body", Bounds: doc.Rect{X: 50, Y: 700, Width: 200, Height: 12}},
	}
	p1 := doc.NewPage(595, 842)
	p1.Text = []doc.TextSpan{
		{Text: "second page body", Bounds: doc.Rect{X: 50, Y: 700, Width: 200, Height: 12}},
	}
	p1.OCR = &doc.OCRLayer{Runs: []doc.TextRun{{Text: "scanned words"}}}
	return doc.New("export", p0, p1)
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterExporter(TextExporter{}); err != nil {
		t.Fatalf("RegisterExporter() error = %v", err)
	}
	if err := r.RegisterExporter(TextExporter{}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.RegisterImporter(MarkdownImporter{}); err != nil {
		t.Fatalf("RegisterImporter() error = %v", err)
	}
	r.Freeze()
	if err := r.RegisterExporter(ImageExporter{Renderer: codec.NewSimple()}); err == nil {
		t.Fatal("registration after Freeze accepted")
	}
	if _, err := r.Exporter("text"); err != nil {
		t.Fatalf("Exporter(text) error = %v", err)
	}
	if _, err := r.Exporter("docx"); err == nil {
		t.Fatal("unknown format lookup succeeded")
	}
	if got := r.ExportFormats(); len(got) != 1 || got[0] != "text" {
		t.Fatalf("ExportFormats() = %v", got)
	}
}

func TestTextExport(t *testing.T) {
	var buf bytes.Buffer
	if err := (TextExporter{}).Export(context.Background(), textDoc(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"first page body", "second page body", "scanned words", "\f"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTextExportReportsUnsupportedContent(t *testing.T) {
	d := textDoc()
	d.Pages[0].AddLayer(doc.Layer{Kind: doc.LayerImage, Bounds: doc.Rect{X: 1, Y: 1, Width: 5, Height: 5}, Data: []byte{1}})
	var buf bytes.Buffer
	err := (TextExporter{}).Export(context.Background(), d, &buf)
	var unsupported *UnsupportedFeatureError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want UnsupportedFeatureError", err)
	}
	// Degraded output is still produced.
	if !strings.Contains(buf.String(), "first page body") {
		t.Fatal("degraded output missing text content")
	}
}

func TestImageExportComposesPages(t *testing.T) {
	var buf bytes.Buffer
	e := ImageExporter{Renderer: codec.NewSimple(), DPI: 72}
	if err := e.Export(context.Background(), textDoc(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Two A4 pages stacked vertically at 72 DPI.
	if got := img.Bounds().Max; got.X != 595 || got.Y != 1684 {
		t.Fatalf("sheet bounds = %v, want 595x1684", got)
	}
}

func TestImageExportUnknownEncoding(t *testing.T) {
	e := ImageExporter{Renderer: codec.NewSimple(), Encoding: "webp"}
	if err := e.Export(context.Background(), textDoc(), &bytes.Buffer{}); err == nil {
		t.Fatal("unknown encoding accepted")
	}
}

func TestThumbnailScalesDown(t *testing.T) {
	img, err := Thumbnail(context.Background(), codec.NewSimple(), textDoc(), 0, 128)
	if err != nil {
		t.Fatalf("Thumbnail() error = %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 128 || b.Dy() > 128 {
		t.Fatalf("thumbnail %dx%d exceeds max edge", b.Dx(), b.Dy())
	}
}

func TestMarkdownImport(t *testing.T) {
	source := `# Report

Intro paragraph with some words.

- item one
- item two

## Details

More text here.
`
	d, err := (MarkdownImporter{}).Import(context.Background(), []byte(source))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if d.PageCount() == 0 {
		t.Fatal("no pages produced")
	}
	text := d.Pages[0].PlainText()
	for _, want := range []string{"Report", "Intro paragraph", "item one", "Details"} {
		if !strings.Contains(text, want) {
			t.Fatalf("page text missing %q:\n%s", want, text)
		}
	}
	if len(d.Bookmarks) != 1 || d.Bookmarks[0].Title != "Report" {
		t.Fatalf("bookmarks = %+v", d.Bookmarks)
	}
	// Spans carry descending positions down the page.
	spans := d.Pages[0].Text
	for i := 1; i < len(spans); i++ {
		if spans[i].Bounds.Y >= spans[i-1].Bounds.Y {
			t.Fatalf("span %d not below span %d", i, i-1)
		}
	}
}

func TestMarkdownImportPaginates(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("A paragraph of filler content that occupies one line.\n\n")
	}
	d, err := (MarkdownImporter{}).Import(context.Background(), []byte(b.String()))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if d.PageCount() < 2 {
		t.Fatalf("PageCount() = %d, want pagination", d.PageCount())
	}
	for i, p := range d.Pages {
		if p.Index != i {
			t.Fatalf("page %d has Index %d", i, p.Index)
		}
	}
}

func TestHTMLImport(t *testing.T) {
	source := `<html><head><title>Doc Title</title></head><body>
<h1>Heading</h1>
<p>Paragraph text.</p>
<ul><li>first</li><li>second</li></ul>
<script>ignored()</script>
</body></html>`
	d, err := (HTMLImporter{}).Import(context.Background(), []byte(source))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if d.Metadata[doc.MetaTitle] != "Doc Title" {
		t.Fatalf("title = %q", d.Metadata[doc.MetaTitle])
	}
	text := d.Pages[0].PlainText()
	for _, want := range []string{"Heading", "Paragraph text.", "- first", "- second"} {
		if !strings.Contains(text, want) {
			t.Fatalf("page text missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "ignored") {
		t.Fatal("script content leaked into page text")
	}
	if len(d.Bookmarks) != 1 || d.Bookmarks[0].Title != "Heading" {
		t.Fatalf("bookmarks = %+v", d.Bookmarks)
	}
}

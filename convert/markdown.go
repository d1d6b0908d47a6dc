package convert

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"pdfsuite/doc"
)

// MarkdownImporter parses markdown with goldmark and lays the block
// structure out as pages of positioned text spans. Headings get larger
// line boxes; a new page starts when the cursor reaches the bottom margin.
type MarkdownImporter struct{}

func (MarkdownImporter) Format() string { return "markdown" }

const (
	importPageWidth  = 595.0
	importPageHeight = 842.0
	importMargin     = 50.0
	importLineHeight = 16.0
	importWrapWidth  = 88
)

func (MarkdownImporter) Import(ctx context.Context, data []byte) (*doc.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(data))

	layout := newPageLayout("markdown-import")
	if err := walkMarkdown(root, data, layout); err != nil {
		return nil, err
	}
	return layout.finish(), nil
}

func walkMarkdown(node ast.Node, source []byte, layout *pageLayout) error {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			line := string(n.Text(source))
			layout.block(line, importLineHeight*headingScale(n.Level))
			if n.Level == 1 {
				layout.bookmark(line)
			}
		case *ast.Paragraph, *ast.TextBlock:
			layout.block(blockText(child, source), importLineHeight)
		case *ast.List:
			if err := walkMarkdown(n, source, layout); err != nil {
				return err
			}
		case *ast.ListItem:
			layout.block("- "+blockText(n, source), importLineHeight)
		case *ast.FencedCodeBlock:
			var b strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				seg := n.Lines().At(i)
				b.Write(seg.Value(source))
			}
			layout.block(b.String(), importLineHeight)
		case *ast.ThematicBreak:
			layout.pageBreak()
		default:
			if err := walkMarkdown(child, source, layout); err != nil {
				return err
			}
		}
	}
	return nil
}

func headingScale(level int) float64 {
	switch level {
	case 1:
		return 2.0
	case 2:
		return 1.5
	default:
		return 1.25
	}
}

func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.ListItem, *ast.List:
			// Nested lists are handled by the caller's walk.
		default:
			b.WriteString(blockText(c, source))
		}
	}
	return b.String()
}

// pageLayout accumulates text spans down a page and breaks to a new page
// at the bottom margin.
type pageLayout struct {
	id        string
	pages     []*doc.Page
	current   *doc.Page
	cursorY   float64
	bookmarks []*doc.Bookmark
}

func newPageLayout(id string) *pageLayout {
	return &pageLayout{id: id}
}

func (l *pageLayout) ensurePage() {
	if l.current == nil {
		l.current = doc.NewPage(importPageWidth, importPageHeight)
		l.pages = append(l.pages, l.current)
		l.cursorY = importPageHeight - importMargin
	}
}

func (l *pageLayout) pageBreak() { l.current = nil }

// block wraps the text and emits one span per line.
func (l *pageLayout) block(content string, lineHeight float64) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	for _, line := range wrapText(content, importWrapWidth) {
		l.ensurePage()
		if l.cursorY-lineHeight < importMargin {
			l.pageBreak()
			l.ensurePage()
		}
		l.cursorY -= lineHeight
		l.current.Text = append(l.current.Text, doc.TextSpan{
			Text: line,
			Bounds: doc.Rect{
				X:      importMargin,
				Y:      l.cursorY,
				Width:  importPageWidth - 2*importMargin,
				Height: lineHeight,
			},
		})
	}
	l.cursorY -= lineHeight / 2
}

// bookmark records an outline entry pointing at the current page.
func (l *pageLayout) bookmark(title string) {
	l.ensurePage()
	l.bookmarks = append(l.bookmarks, &doc.Bookmark{
		Title:     title,
		PageIndex: len(l.pages) - 1,
	})
}

func (l *pageLayout) finish() *doc.Document {
	d := doc.New(l.id, l.pages...)
	d.Bookmarks = l.bookmarks
	if len(d.Pages) == 0 {
		d.Pages = []*doc.Page{doc.NewPage(importPageWidth, importPageHeight)}
		d.Renumber()
	}
	return d
}

func wrapText(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

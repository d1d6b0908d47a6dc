package convert

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pdfsuite/doc"
)

// HTMLImporter parses HTML and lays its block elements out as pages of
// positioned text spans, sharing the layout engine with the markdown
// importer. Script and style contents are dropped.
type HTMLImporter struct{}

func (HTMLImporter) Format() string { return "html" }

func (HTMLImporter) Import(ctx context.Context, data []byte) (*doc.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	layout := newPageLayout("html-import")
	walkHTML(root, layout)
	d := layout.finish()
	if title := findTitle(root); title != "" {
		d.Metadata[doc.MetaTitle] = title
	}
	return d, nil
}

func walkHTML(n *html.Node, layout *pageLayout) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.H1:
			line := extractText(n)
			layout.block(line, importLineHeight*2.0)
			layout.bookmark(line)
			return
		case atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			layout.block(extractText(n), importLineHeight*1.5)
			return
		case atom.P, atom.Blockquote, atom.Pre:
			layout.block(extractText(n), importLineHeight)
			return
		case atom.Li:
			layout.block("- "+extractText(n), importLineHeight)
			return
		case atom.Hr:
			layout.pageBreak()
			return
		case atom.Script, atom.Style, atom.Head:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, layout)
	}
}

func extractText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func findTitle(root *html.Node) string {
	var title string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = extractText(n)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return title
}

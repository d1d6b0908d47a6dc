package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"pdfsuite/doc"
)

// TextExporter writes the document's searchable text, page by page. OCR
// runs are included for pages that carry an OCR layer. Shape and image
// layers have no text representation; their presence is reported as an
// UnsupportedFeatureError after the degraded output has been written.
type TextExporter struct{}

func (TextExporter) Format() string { return "text" }

func (TextExporter) Export(ctx context.Context, d *doc.Document, w io.Writer) error {
	bw := bufio.NewWriter(w)
	dropped := false
	for i, p := range d.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintf(bw, "\n\f\n")
		}
		for _, s := range p.Text {
			fmt.Fprintln(bw, s.Text)
		}
		for _, l := range p.Layers {
			switch l.Kind {
			case doc.LayerText, doc.LayerWatermark:
				if l.Text != "" {
					fmt.Fprintln(bw, l.Text)
				}
			case doc.LayerShape, doc.LayerImage:
				dropped = true
			}
		}
		if p.OCR != nil {
			for _, r := range p.OCR.Runs {
				fmt.Fprintln(bw, r.Text)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if dropped {
		return &UnsupportedFeatureError{Format: "text", Feature: "vector shapes and images"}
	}
	return nil
}

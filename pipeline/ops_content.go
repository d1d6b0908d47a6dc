package pipeline

import (
	"context"
	"fmt"
	"time"

	"pdfsuite/doc"
	"pdfsuite/observability"
	"pdfsuite/ocr"
)

// Content operations append to page layer lists or rewrite page content;
// they never touch page indices.

func applyRotate(d *doc.Document, params RotateParams, targets []int) error {
	if _, err := doc.NormalizeRotation(params.Angle); err != nil {
		return err
	}
	for _, i := range targets {
		if err := d.Pages[i].Rotate(params.Angle); err != nil {
			return err
		}
	}
	return nil
}

func applyCrop(d *doc.Document, params CropParams, targets []int) error {
	box := params.Box
	if box.IsEmpty() {
		return fmt.Errorf("crop box %+v is empty", box)
	}
	for _, i := range targets {
		p := d.Pages[i]
		var kept []doc.TextSpan
		for _, s := range p.Text {
			if !s.Bounds.Intersects(box) {
				continue
			}
			s.Bounds.X -= box.X
			s.Bounds.Y -= box.Y
			kept = append(kept, s)
		}
		p.Text = kept
		var layers []doc.Layer
		for _, l := range p.Layers {
			if !l.Bounds.Intersects(box) {
				continue
			}
			l.Bounds.X -= box.X
			l.Bounds.Y -= box.Y
			layers = append(layers, l)
		}
		p.Layers = layers
		if p.OCR != nil {
			var runs []doc.TextRun
			for _, r := range p.OCR.Runs {
				if !r.Bounds.Intersects(box) {
					continue
				}
				r.Bounds.X -= box.X
				r.Bounds.Y -= box.Y
				runs = append(runs, r)
			}
			p.OCR.Runs = runs
		}
		p.Width = box.Width
		p.Height = box.Height
	}
	return nil
}

var annotationKinds = map[doc.LayerKind]bool{
	doc.LayerHighlight:     true,
	doc.LayerUnderline:     true,
	doc.LayerStrikethrough: true,
	doc.LayerShape:         true,
	doc.LayerText:          true,
	doc.LayerImage:         true,
}

func applyAnnotation(d *doc.Document, params AnnotationParams, targets []int) error {
	if !annotationKinds[params.Kind] {
		return fmt.Errorf("layer kind %s is not an annotation", params.Kind)
	}
	if params.Bounds.IsEmpty() {
		return fmt.Errorf("annotation bounds %+v are empty", params.Bounds)
	}
	for _, i := range targets {
		d.Pages[i].AddLayer(doc.Layer{
			Kind:   params.Kind,
			Bounds: params.Bounds,
			Text:   params.Text,
		})
	}
	return nil
}

func applyWatermark(d *doc.Document, params WatermarkParams, targets []int) error {
	if params.Text == "" {
		return fmt.Errorf("watermark text is empty")
	}
	opacity := params.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.2
	}
	for _, i := range targets {
		p := d.Pages[i]
		// Placement is rotation-relative: the watermark spans the page
		// as currently oriented.
		w, h := p.Width, p.Height
		if p.Rotation == 90 || p.Rotation == 270 {
			w, h = h, w
		}
		p.AddLayer(doc.Layer{
			Kind:    doc.LayerWatermark,
			Bounds:  doc.Rect{X: w * 0.1, Y: h * 0.4, Width: w * 0.8, Height: h * 0.2},
			Text:    params.Text,
			Opacity: opacity,
			Angle:   params.Angle,
		})
	}
	return nil
}

func applyPageNumbers(d *doc.Document, params PageNumberParams, targets []int) error {
	format := params.Format
	if format == "" {
		format = "Page %d"
	}
	for _, i := range targets {
		p := d.Pages[i]
		p.AddLayer(doc.Layer{
			Kind:   doc.LayerText,
			Bounds: doc.Rect{X: p.Width/2 - 40, Y: 20, Width: 80, Height: 14},
			Text:   fmt.Sprintf(format, i+1),
		})
	}
	return nil
}

// applyRedact removes content inside the region rather than masking it:
// base text spans, image layers and OCR runs intersecting the region are
// dropped, then an opaque shape marks the redacted area.
func applyRedact(d *doc.Document, params RedactParams, targets []int) error {
	region := params.Region
	if region.IsEmpty() {
		return fmt.Errorf("redaction region %+v is empty", region)
	}
	for _, i := range targets {
		p := d.Pages[i]
		var text []doc.TextSpan
		for _, s := range p.Text {
			if s.Bounds.Intersects(region) {
				continue
			}
			text = append(text, s)
		}
		p.Text = text
		var layers []doc.Layer
		for _, l := range p.Layers {
			if l.Bounds.Intersects(region) && (l.Kind == doc.LayerImage || l.Kind == doc.LayerText) {
				continue
			}
			layers = append(layers, l)
		}
		p.Layers = layers
		if p.OCR != nil {
			var runs []doc.TextRun
			for _, r := range p.OCR.Runs {
				if r.Bounds.Intersects(region) {
					continue
				}
				runs = append(runs, r)
			}
			p.OCR.Runs = runs
		}
		p.AddLayer(doc.Layer{Kind: doc.LayerShape, Bounds: region, Opacity: 1})
	}
	return nil
}

const defaultOCRScale = 2.0

func (p *Pipeline) applyOCR(ctx context.Context, d *doc.Document, params OCRParams, targets []int) error {
	engine := p.ocrEngine
	if engine == nil {
		engine = ocr.DefaultEngine()
	}
	scale := params.Scale
	if scale <= 0 {
		scale = defaultOCRScale
	}
	var opts []ocr.InputOption
	if len(params.Languages) > 0 {
		opts = append(opts, ocr.WithLanguages(params.Languages...))
	}
	for _, i := range targets {
		start := time.Now()
		in, err := ocr.InputFromRender(ctx, p.renderer, d, i, scale, opts...)
		if err != nil {
			return err
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		d.Pages[i].OCR = ocrLayerFromResult(d.Pages[i], res, scale)
		p.log.Debug("ocr layer applied",
			observability.Int("page", i),
			observability.String("engine", engine.Name()),
			observability.Duration(observability.MetricOCRTime, time.Since(start)),
		)
	}
	return nil
}

// ocrLayerFromResult converts raster-space recognition output into page
// coordinates. Raster origin is upper-left; pages use lower-left.
func ocrLayerFromResult(p *doc.Page, res ocr.Result, scale float64) *doc.OCRLayer {
	layer := &doc.OCRLayer{Language: res.Language}
	for _, block := range res.Blocks {
		for _, line := range block.Lines {
			for _, w := range line.Words {
				layer.Runs = append(layer.Runs, doc.TextRun{
					Text:       w.Text,
					Bounds:     pageBounds(p, w.Bounds, scale),
					Confidence: w.Confidence,
				})
			}
		}
	}
	if len(layer.Runs) == 0 && res.PlainText != "" {
		layer.Runs = append(layer.Runs, doc.TextRun{
			Text:   res.PlainText,
			Bounds: doc.Rect{X: 0, Y: 0, Width: p.Width, Height: p.Height},
		})
	}
	return layer
}

// pageBounds maps a raster-space word box back into page coordinates. The
// raster follows the page as rendered, with its dimensions swapped for 90
// and 270 degree pages, so those bounds are un-rotated on the way back.
func pageBounds(p *doc.Page, r ocr.Region, scale float64) doc.Rect {
	renderedHeight := p.Height
	if p.Rotation == 90 || p.Rotation == 270 {
		renderedHeight = p.Width
	}
	// Flip the upper-left raster origin to lower-left, still in the
	// rendered orientation.
	u := r.X / scale
	v := renderedHeight - (r.Y+r.Height)/scale
	du := r.Width / scale
	dv := r.Height / scale
	switch p.Rotation {
	case 90:
		return doc.Rect{X: p.Width - v - dv, Y: u, Width: dv, Height: du}
	case 180:
		return doc.Rect{X: p.Width - u - du, Y: p.Height - v - dv, Width: du, Height: dv}
	case 270:
		return doc.Rect{X: v, Y: p.Height - u - du, Width: dv, Height: du}
	default:
		return doc.Rect{X: u, Y: v, Width: du, Height: dv}
	}
}

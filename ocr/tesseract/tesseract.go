// Package tesseract provides the default OCR engine backed by the gosseract
// client. Importing it registers the engine as the ocr package default.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/otiai10/gosseract/v2"

	"pdfsuite/ocr"
)

func init() {
	ocr.SetDefaultEngine(New())
}

// Engine implements ocr.Engine and ocr.BatchEngine over a local Tesseract
// installation.
type Engine struct {
	newClient func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New() *Engine {
	return &Engine{newClient: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on a single input.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	c := e.newClient()
	defer c.Close()
	return e.run(c, in)
}

// RecognizeBatch processes inputs sequentially, one client per input so a
// failed recognition cannot poison the next.
func (e *Engine) RecognizeBatch(ctx context.Context, inputs []ocr.Input) ([]ocr.Result, error) {
	results := make([]ocr.Result, 0, len(inputs))
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := e.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) run(c *gosseract.Client, in ocr.Input) (ocr.Result, error) {
	payload, err := clip(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("%w: %v", ocr.ErrRecognition, err)
	}
	if err := c.SetImageFromBytes(payload); err != nil {
		return ocr.Result{}, fmt.Errorf("%w: set image: %v", ocr.ErrRecognition, err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return ocr.Result{}, fmt.Errorf("%w: set languages: %v", ocr.ErrRecognition, err)
		}
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return ocr.Result{}, fmt.Errorf("%w: set dpi: %v", ocr.ErrRecognition, err)
		}
	}
	for k, v := range in.Metadata {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("%w: set variable %s: %v", ocr.ErrRecognition, k, err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("%w: %v", ocr.ErrRecognition, err)
	}

	words, confidence := wordBoxes(c)
	block := ocr.TextBlock{
		Text:       text,
		Bounds:     union(words),
		Lines:      groupLines(words),
		Confidence: confidence,
	}
	res := ocr.Result{
		InputID:   in.ID,
		PlainText: text,
		Blocks:    []ocr.TextBlock{block},
	}
	if len(in.Languages) > 0 {
		res.Language = in.Languages[0]
	}
	return res, nil
}

func wordBoxes(c *gosseract.Client) ([]ocr.TextWord, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	words := make([]ocr.TextWord, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, ocr.TextWord{
			Text: b.Word,
			Bounds: ocr.Region{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: conf,
		})
	}
	return words, sum / float64(len(words))
}

// groupLines buckets words into lines by vertical overlap of their boxes.
// Tesseract reports words in reading order, so a new line starts whenever a
// word no longer overlaps the current line's band.
func groupLines(words []ocr.TextWord) []ocr.TextLine {
	var lines []ocr.TextLine
	var current []ocr.TextWord
	flush := func() {
		if len(current) == 0 {
			return
		}
		var sum float64
		text := ""
		for i, w := range current {
			if i > 0 {
				text += " "
			}
			text += w.Text
			sum += w.Confidence
		}
		lines = append(lines, ocr.TextLine{
			Text:       text,
			Bounds:     union(current),
			Words:      append([]ocr.TextWord(nil), current...),
			Confidence: sum / float64(len(current)),
		})
		current = current[:0]
	}
	for _, w := range words {
		if len(current) > 0 {
			band := union(current)
			if w.Bounds.Y >= band.Y+band.Height || w.Bounds.Y+w.Bounds.Height <= band.Y {
				flush()
			}
		}
		current = append(current, w)
	}
	flush()
	return lines
}

func union(words []ocr.TextWord) ocr.Region {
	if len(words) == 0 {
		return ocr.Region{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	var maxX, maxY float64
	for _, w := range words {
		minX = math.Min(minX, w.Bounds.X)
		minY = math.Min(minY, w.Bounds.Y)
		maxX = math.Max(maxX, w.Bounds.X+w.Bounds.Width)
		maxY = math.Max(maxY, w.Bounds.Y+w.Bounds.Height)
	}
	return ocr.Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// clip crops the encoded image to the requested region, re-encoding as PNG.
func clip(data []byte, region *ocr.Region) ([]byte, error) {
	if region == nil || region.IsEmpty() {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for region: %w", err)
	}
	rect := image.Rect(
		int(math.Round(region.X)),
		int(math.Round(region.Y)),
		int(math.Round(region.X+region.Width)),
		int(math.Round(region.Y+region.Height)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region outside image bounds")
	}
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("image does not support cropping")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode cropped image: %w", err)
	}
	return buf.Bytes(), nil
}

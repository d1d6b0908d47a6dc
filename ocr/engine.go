package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"pdfsuite/codec"
	"pdfsuite/doc"
)

var defaultEngine Engine = noopEngine{}

// DefaultEngine returns the process-wide default OCR engine. Importing
// ocr/tesseract replaces the initial no-op engine with Tesseract.
func DefaultEngine() Engine { return defaultEngine }

// SetDefaultEngine replaces the process-wide default engine.
func SetDefaultEngine(engine Engine) { defaultEngine = engine }

// InputFromRender rasterizes one page through the codec renderer and wraps
// it as a PNG-encoded OCR input. The input ID is stable per document page
// so results correlate back to their source.
func InputFromRender(ctx context.Context, r codec.Renderer, d *doc.Document, pageIndex int, scale float64, opts ...InputOption) (Input, error) {
	img, err := r.Render(ctx, d, pageIndex, scale)
	if err != nil {
		return Input{}, fmt.Errorf("render page %d: %w", pageIndex, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode page %d raster: %w", pageIndex, err)
	}
	in := Input{
		ID:        fmt.Sprintf("%s-page-%d", d.ID, pageIndex),
		Image:     buf.Bytes(),
		Format:    ImageFormatPNG,
		PageIndex: pageIndex,
		DPI:       int(72 * scale),
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

// Recognize runs the inputs through the engine, using batch recognition
// when the provider supports it.
func Recognize(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, inputs)
	}
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(ctx context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}

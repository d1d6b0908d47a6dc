package convert

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"pdfsuite/codec"
	"pdfsuite/doc"
)

// ImageExporter rasterizes every page through the codec renderer and
// composes them vertically into a single contact-sheet image in the chosen
// encoding (png, jpeg or tiff).
type ImageExporter struct {
	Renderer codec.Renderer
	Encoding string  // "png", "jpeg" or "tiff"; empty means png
	DPI      int     // render resolution; 0 means 144
	Quality  int     // jpeg only; 0 means 85
}

func (e ImageExporter) Format() string {
	if e.Encoding == "" {
		return "png"
	}
	return e.Encoding
}

func (e ImageExporter) Export(ctx context.Context, d *doc.Document, w io.Writer) error {
	if e.Renderer == nil {
		return fmt.Errorf("convert: image exporter has no renderer")
	}
	if d.PageCount() == 0 {
		return fmt.Errorf("convert: document has no pages")
	}
	dpi := e.DPI
	if dpi <= 0 {
		dpi = 144
	}
	scale := float64(dpi) / 72

	rasters := make([]image.Image, 0, d.PageCount())
	sheetW, sheetH := 0, 0
	for i := range d.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := e.Renderer.Render(ctx, d, i, scale)
		if err != nil {
			return fmt.Errorf("render page %d: %w", i, err)
		}
		b := img.Bounds()
		if b.Dx() > sheetW {
			sheetW = b.Dx()
		}
		sheetH += b.Dy()
		rasters = append(rasters, img)
	}

	sheet := image.NewRGBA(image.Rect(0, 0, sheetW, sheetH))
	y := 0
	for _, img := range rasters {
		b := img.Bounds()
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Copy(sheet, dst.Min, img, b, draw.Src, nil)
		y += b.Dy()
	}

	switch e.Format() {
	case "png":
		return png.Encode(w, sheet)
	case "jpeg":
		q := e.Quality
		if q <= 0 {
			q = 85
		}
		return jpeg.Encode(w, sheet, &jpeg.Options{Quality: q})
	case "tiff":
		return tiff.Encode(w, sheet, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("convert: unknown image encoding %q", e.Encoding)
	}
}

// Thumbnail renders one page scaled down so its longest edge is at most
// maxEdge pixels, for viewer thumbnail caches.
func Thumbnail(ctx context.Context, r codec.Renderer, d *doc.Document, pageIndex, maxEdge int) (image.Image, error) {
	img, err := r.Render(ctx, d, pageIndex, 1)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if longest <= maxEdge {
		return img, nil
	}
	ratio := float64(maxEdge) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(b.Dx())*ratio), int(float64(b.Dy())*ratio)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

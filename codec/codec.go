// Package codec defines the parsing, rendering and serialization contracts
// the engine depends on. Real PDF codecs live outside this module; the
// pipeline and batch engine only ever see these interfaces. A deterministic
// reference implementation (Simple) backs tests and the CLI.
package codec

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"

	"pdfsuite/doc"
)

// ErrParse is returned for malformed input. It is unrecoverable and fatal
// to the enclosing load.
var ErrParse = errors.New("codec: malformed input")

// Parser turns raw bytes into a document model.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*doc.Document, error)
}

// Renderer rasterizes one page at the given scale.
type Renderer interface {
	Render(ctx context.Context, d *doc.Document, pageIndex int, scale float64) (image.Image, error)
}

// Writer serializes a document model.
type Writer interface {
	Write(ctx context.Context, d *doc.Document, w io.Writer) error
}

// Codec combines parsing, rendering and writing for one document format.
type Codec interface {
	Parser
	Renderer
	Writer
}

// Serialize is a convenience wrapper collecting Writer output into a byte
// slice.
func Serialize(ctx context.Context, w Writer, d *doc.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(ctx, d, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Package convert defines the conversion adapter contract and a registry of
// available adapters. Each target format is one adapter; the pipeline and
// batch engine call through the contract and never into format internals.
// Adding a format means registering one more adapter, never touching the
// pipeline.
package convert

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"pdfsuite/doc"
)

// UnsupportedFeatureError reports document content an adapter cannot
// represent in its target format. Exports still produce degraded output;
// callers treat the error as a warning, not a failure.
type UnsupportedFeatureError struct {
	Format  string
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("convert: format %s cannot represent %s", e.Format, e.Feature)
}

// Exporter writes a document in one target format.
type Exporter interface {
	Format() string
	Export(ctx context.Context, d *doc.Document, w io.Writer) error
}

// Importer builds a document from bytes in one source format.
type Importer interface {
	Format() string
	Import(ctx context.Context, data []byte) (*doc.Document, error)
}

// Registry holds the available adapters. It is populated once at startup,
// frozen, and read-only thereafter; lookups after Freeze need no locking.
type Registry struct {
	mu        sync.Mutex
	frozen    bool
	exporters map[string]Exporter
	importers map[string]Importer
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		exporters: make(map[string]Exporter),
		importers: make(map[string]Importer),
	}
}

// RegisterExporter adds an exporter. Registration after Freeze or for a
// duplicate format is an error.
func (r *Registry) RegisterExporter(e Exporter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("convert: registry is frozen")
	}
	if _, dup := r.exporters[e.Format()]; dup {
		return fmt.Errorf("convert: exporter %q already registered", e.Format())
	}
	r.exporters[e.Format()] = e
	return nil
}

// RegisterImporter adds an importer.
func (r *Registry) RegisterImporter(i Importer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("convert: registry is frozen")
	}
	if _, dup := r.importers[i.Format()]; dup {
		return fmt.Errorf("convert: importer %q already registered", i.Format())
	}
	r.importers[i.Format()] = i
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Exporter looks up an exporter by format name.
func (r *Registry) Exporter(format string) (Exporter, error) {
	if e, ok := r.exporters[format]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("convert: no exporter for format %q", format)
}

// Importer looks up an importer by format name.
func (r *Registry) Importer(format string) (Importer, error) {
	if i, ok := r.importers[format]; ok {
		return i, nil
	}
	return nil, fmt.Errorf("convert: no importer for format %q", format)
}

// ExportFormats lists registered exporter names, sorted.
func (r *Registry) ExportFormats() []string {
	out := make([]string, 0, len(r.exporters))
	for name := range r.exporters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package batch fans the operation pipeline out over many documents with a
// bounded worker pool. Items are admitted in submission order, run on
// cloned documents, and fail independently: one item's error never aborts
// the batch.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pdfsuite/codec"
	"pdfsuite/convert"
	"pdfsuite/doc"
	"pdfsuite/observability"
	"pdfsuite/pipeline"
)

// State is the lifecycle state of one batch item.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Output receives the finished bytes of one item. Commit is called only
// after the item's pipeline run and export succeed, so a failed item never
// leaves partial output behind.
type Output interface {
	Commit(data []byte) error
}

// OutputFunc adapts a function to the Output interface.
type OutputFunc func(data []byte) error

func (f OutputFunc) Commit(data []byte) error { return f(data) }

// Item is one unit of batch work: a document, an ordered operation list and
// an output target. Exactly one of Doc or Raw must be set; Raw bytes are
// parsed with the engine's codec when the item runs.
type Item struct {
	ID     string
	Doc    *doc.Document
	Raw    []byte
	Ops    []pipeline.Operation
	Format string // output format; empty serializes with the engine codec
	Output Output // nil discards the result bytes
}

// ItemStatus is a point-in-time snapshot of one item.
type ItemStatus struct {
	ID       string
	State    State
	Progress float64
	Err      error
	Warnings []string
	Report   *pipeline.Report
}

// Status aggregates a point-in-time view of the whole batch.
type Status struct {
	Items    []ItemStatus
	Progress float64 // terminal items over total
	Done     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l observability.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTracer attaches a tracer; each item runs inside one span.
func WithTracer(t observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCodec sets the codec used to parse raw items and serialize results.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithRegistry sets the conversion adapter registry for items that name an
// output format.
func WithRegistry(r *convert.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithPipelineOptions forwards options to the per-item pipelines (fail-fast
// mode, OCR engine, renderer).
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(e *Engine) { e.pipelineOpts = append(e.pipelineOpts, opts...) }
}

// Engine schedules batch work. It owns all concurrency in the system: the
// pipeline itself stays single-threaded per document.
type Engine struct {
	log          observability.Logger
	tracer       observability.Tracer
	codec        codec.Codec
	registry     *convert.Registry
	pipelineOpts []pipeline.Option
}

// New constructs a batch engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:    observability.NopLogger{},
		tracer: observability.NopTracer(),
		codec:  codec.NewSimple(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit starts the batch and returns a handle for status polling and
// cancellation. Up to concurrency items run at once; the remainder queue
// in submission order.
func (e *Engine) Submit(ctx context.Context, items []*Item, concurrency int) (*Handle, error) {
	if len(items) == 0 {
		return nil, errors.New("batch: no items")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("batch: item %d is nil", i)
		}
		if it.Doc == nil && it.Raw == nil {
			return nil, fmt.Errorf("batch: item %d has neither document nor raw bytes", i)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		items:  make([]itemRecord, len(items)),
	}
	for i, it := range items {
		id := it.ID
		if id == "" {
			id = fmt.Sprintf("item-%d", i)
		}
		h.items[i] = itemRecord{id: id}
	}

	// FIFO admission: a buffered channel preloaded in submission order.
	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				if runCtx.Err() != nil {
					// Cancelled before admission: never runs.
					h.setState(idx, StateCancelled, runCtx.Err())
					continue
				}
				e.runItem(runCtx, h, idx, items[idx])
			}
		}()
	}
	go func() {
		wg.Wait()
		close(h.done)
	}()
	return h, nil
}

// runItem executes one item end to end, isolating every failure into the
// item's own terminal state.
func (e *Engine) runItem(ctx context.Context, h *Handle, idx int, item *Item) {
	start := time.Now()
	h.setState(idx, StateRunning, nil)
	ctx, span := e.tracer.StartSpan(ctx, "batch.item")
	defer span.Finish()
	span.SetTag("item", h.items[idx].id)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("batch: item panic: %v", r)
			span.SetError(err)
			h.setState(idx, StateFailed, err)
		}
	}()

	d := item.Doc
	if d == nil {
		parsed, err := e.codec.Parse(ctx, item.Raw)
		if err != nil {
			e.failItem(h, idx, span, fmt.Errorf("parse: %w", err))
			return
		}
		d = parsed
	} else {
		// Items never share a document instance with the caller or each
		// other.
		d = d.Clone()
	}

	p := pipeline.New(append([]pipeline.Option{
		pipeline.WithLogger(e.log.With(observability.String("item", h.items[idx].id))),
		pipeline.WithProgress(func(done, total int) {
			h.setProgress(idx, float64(done)/float64(total))
		}),
	}, e.pipelineOpts...)...)

	report, err := p.Apply(ctx, d, item.Ops)
	h.setReport(idx, report)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.setState(idx, StateCancelled, err)
			return
		}
		e.failItem(h, idx, span, err)
		return
	}
	if report.Skipped() > 0 {
		// Fail-fast runs leave skipped operations behind; the item as a
		// whole did not do its work.
		e.failItem(h, idx, span, fmt.Errorf("aborted after %d failed operations", report.Failed()))
		return
	}

	data, warnings, err := e.exportItem(ctx, d, item)
	if err != nil {
		e.failItem(h, idx, span, err)
		return
	}
	h.addWarnings(idx, warnings)
	if item.Output != nil {
		if err := item.Output.Commit(data); err != nil {
			e.failItem(h, idx, span, fmt.Errorf("commit output: %w", err))
			return
		}
	}
	h.setState(idx, StateSucceeded, nil)
	e.log.Info("batch item finished",
		observability.String("item", h.items[idx].id),
		observability.Int("operations", len(item.Ops)),
		observability.Int("failed", report.Failed()),
		observability.Duration(observability.MetricBatchItemTime, time.Since(start)),
	)
}

// exportItem produces the item's output bytes. Degraded conversions are
// returned as warnings, not failures.
func (e *Engine) exportItem(ctx context.Context, d *doc.Document, item *Item) ([]byte, []string, error) {
	if item.Format == "" {
		data, err := codec.Serialize(ctx, e.codec, d)
		return data, nil, err
	}
	if e.registry == nil {
		return nil, nil, fmt.Errorf("export: no adapter registry configured")
	}
	exporter, err := e.registry.Exporter(item.Format)
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	err = exporter.Export(ctx, d, &buf)
	var unsupported *convert.UnsupportedFeatureError
	if errors.As(err, &unsupported) {
		return buf.Bytes(), []string{unsupported.Error()}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("export %s: %w", item.Format, err)
	}
	return buf.Bytes(), nil, nil
}

func (e *Engine) failItem(h *Handle, idx int, span observability.Span, err error) {
	span.SetError(err)
	e.log.Warn("batch item failed",
		observability.String("item", h.items[idx].id),
		observability.Error("reason", err),
	)
	h.setState(idx, StateFailed, err)
}

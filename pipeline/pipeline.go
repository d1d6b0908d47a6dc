// Package pipeline validates and applies ordered operation lists to a
// document. Each operation either fully applies or leaves the document in
// its pre-operation state; a failed operation is recorded in the report and
// does not stop the run unless fail-fast is requested.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pdfsuite/codec"
	"pdfsuite/doc"
	"pdfsuite/observability"
	"pdfsuite/ocr"
)

var (
	// ErrInvalidTarget is recorded when an operation references a page
	// that does not exist.
	ErrInvalidTarget = errors.New("pipeline: invalid target")

	// ErrReentrantApply is returned when two Apply calls race on the same
	// document. The pipeline is single-threaded per document; callers
	// must serialize or clone.
	ErrReentrantApply = errors.New("pipeline: concurrent apply on one document")
)

// Status is the terminal state of one operation in a run.
type Status int

const (
	StatusApplied Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome records how one operation ended.
type Outcome struct {
	Op     Operation
	Status Status
	Reason error // set when Status is StatusFailed
}

// Report is the complete per-operation outcome list of one Apply call. Doc
// is the same document, mutated in place; callers needing the original must
// clone beforehand.
type Report struct {
	Outcomes []Outcome
	Doc      *doc.Document
}

// Applied counts operations that fully applied.
func (r *Report) Applied() int { return r.count(StatusApplied) }

// Failed counts operations that failed and were rolled back.
func (r *Report) Failed() int { return r.count(StatusFailed) }

// Skipped counts operations never attempted.
func (r *Report) Skipped() int { return r.count(StatusSkipped) }

func (r *Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Ok reports whether every operation applied.
func (r *Report) Ok() bool { return r.Failed() == 0 && r.Skipped() == 0 }

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a structured logger.
func WithLogger(l observability.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithTracer attaches a tracer; each Apply runs inside one span.
func WithTracer(t observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithFailFast stops a run at the first failed operation; the remaining
// operations are recorded as skipped.
func WithFailFast() Option {
	return func(p *Pipeline) { p.failFast = true }
}

// WithOCREngine sets the engine used by apply-ocr-layer operations. The
// process default engine is used otherwise.
func WithOCREngine(e ocr.Engine) Option {
	return func(p *Pipeline) { p.ocrEngine = e }
}

// WithRenderer sets the rasterizer used to produce OCR inputs.
func WithRenderer(r codec.Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// WithHistory records applied operations and their pre-operation snapshots
// for undo.
func WithHistory(h *History) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithProgress registers a callback invoked after every operation outcome
// with the number of settled operations and the list total.
func WithProgress(fn func(done, total int)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// Pipeline applies operation lists. Safe for concurrent use across
// different documents; a single document must not see overlapping applies.
type Pipeline struct {
	log       observability.Logger
	tracer    observability.Tracer
	failFast  bool
	ocrEngine ocr.Engine
	renderer  codec.Renderer
	history   *History
	progress  func(done, total int)

	mu       sync.Mutex
	inFlight map[*doc.Document]struct{}
}

// New constructs a pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		log:      observability.NopLogger{},
		tracer:   observability.NopTracer(),
		renderer: codec.NewSimple(),
		inFlight: make(map[*doc.Document]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply runs the operations strictly in list order. The returned error is
// non-nil only for call-level problems (nil document, reentrant apply,
// cancellation); per-operation failures live in the report.
func (p *Pipeline) Apply(ctx context.Context, d *doc.Document, ops []Operation) (*Report, error) {
	if d == nil {
		return nil, errors.New("pipeline: nil document")
	}
	if err := p.acquire(d); err != nil {
		return nil, err
	}
	defer p.release(d)

	ctx, span := p.tracer.StartSpan(ctx, "pipeline.apply")
	defer span.Finish()
	span.SetTag("doc", d.ID)
	span.SetTag("operations", len(ops))

	start := time.Now()
	report := &Report{Doc: d, Outcomes: make([]Outcome, 0, len(ops))}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			// Cancellation checkpoint: never interrupt mid-operation.
			for _, rest := range ops[i:] {
				report.Outcomes = append(report.Outcomes, Outcome{Op: rest, Status: StatusSkipped})
			}
			span.SetError(err)
			return report, err
		}
		outcome := p.applyOne(ctx, d, op)
		report.Outcomes = append(report.Outcomes, outcome)
		if p.progress != nil {
			p.progress(i+1, len(ops))
		}
		if outcome.Status == StatusFailed && p.failFast {
			for _, rest := range ops[i+1:] {
				report.Outcomes = append(report.Outcomes, Outcome{Op: rest, Status: StatusSkipped})
			}
			break
		}
	}
	p.log.Info("pipeline apply finished",
		observability.String("doc", d.ID),
		observability.Int("applied", report.Applied()),
		observability.Int("failed", report.Failed()),
		observability.Duration(observability.MetricApplyTime, time.Since(start)),
		observability.Int(observability.MetricPageCount, d.PageCount()),
	)
	return report, nil
}

func (p *Pipeline) applyOne(ctx context.Context, d *doc.Document, op Operation) Outcome {
	start := time.Now()
	var targets []int
	if !op.Kind.targetless() {
		var err error
		targets, err = op.Target.Resolve(d.PageCount())
		if err != nil {
			p.log.Warn("operation target invalid",
				observability.String("op", op.Kind.String()),
				observability.Error("reason", err),
			)
			return Outcome{Op: op, Status: StatusFailed, Reason: err}
		}
	}

	snap := p.snapshotFor(d, op, targets)
	if err := p.execute(ctx, d, op, targets); err != nil {
		snap.restore(d)
		p.log.Warn("operation failed, rolled back",
			observability.String("op", op.Kind.String()),
			observability.Error("reason", err),
			observability.Duration(observability.MetricOperationTime, time.Since(start)),
		)
		return Outcome{Op: op, Status: StatusFailed, Reason: fmt.Errorf("%s: %w", op.Kind, err)}
	}
	d.Dirty = true
	if p.history != nil {
		p.history.record(op, snap)
	}
	p.log.Debug("operation applied",
		observability.String("op", op.Kind.String()),
		observability.Int("targets", len(targets)),
		observability.Duration(observability.MetricOperationTime, time.Since(start)),
	)
	return Outcome{Op: op, Status: StatusApplied}
}

func (p *Pipeline) acquire(d *doc.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[d]; busy {
		return ErrReentrantApply
	}
	p.inFlight[d] = struct{}{}
	return nil
}

func (p *Pipeline) release(d *doc.Document) {
	p.mu.Lock()
	delete(p.inFlight, d)
	p.mu.Unlock()
}

// execute dispatches to the kind-specific transform. A panic (malformed
// params, collaborator bug) is converted to an error so the operation rolls
// back like any other failure.
func (p *Pipeline) execute(ctx context.Context, d *doc.Document, op Operation, targets []int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panic: %v", r)
		}
	}()
	switch op.Kind {
	case KindRotate:
		return applyRotate(d, op.Params.(RotateParams), targets)
	case KindExtractPages:
		return applyExtract(d, targets)
	case KindDeletePages:
		return applyDelete(d, targets)
	case KindReorderPages:
		return applyReorder(d, op.Params.(ReorderParams))
	case KindInsertBlankPage:
		return applyInsertBlank(d, op.Params.(InsertBlankParams))
	case KindDuplicatePage:
		return applyDuplicate(d, targets)
	case KindCropPages:
		return applyCrop(d, op.Params.(CropParams), targets)
	case KindAddAnnotation:
		return applyAnnotation(d, op.Params.(AnnotationParams), targets)
	case KindAddWatermark:
		return applyWatermark(d, op.Params.(WatermarkParams), targets)
	case KindAddPageNumbers:
		return applyPageNumbers(d, op.Params.(PageNumberParams), targets)
	case KindRedact:
		return applyRedact(d, op.Params.(RedactParams), targets)
	case KindApplyOCRLayer:
		return p.applyOCR(ctx, d, op.Params.(OCRParams), targets)
	case KindCleanMetadata:
		return applyCleanMetadata(d, op.Params.(CleanMetadataParams))
	case KindSetPermissions:
		return applySetPermissions(d, op.Params.(PermissionParams))
	case KindEncrypt:
		return applyEncrypt(d, op.Params.(EncryptParams))
	case KindDecrypt:
		return applyDecrypt(d, op.Params.(DecryptParams))
	default:
		return fmt.Errorf("unknown operation kind %d", int(op.Kind))
	}
}

package batch

import (
	"context"
	"sync"
	"time"

	"pdfsuite/pipeline"
)

type itemRecord struct {
	id       string
	state    State
	progress float64
	err      error
	warnings []string
	report   *pipeline.Report
}

// Handle tracks one submitted batch. It is safe for concurrent use.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	items []itemRecord
}

// Cancel requests cooperative cancellation. Pending items are marked
// cancelled without running; running items stop at their next operation
// boundary and keep the work completed so far out of their outputs.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when every item has reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the batch finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a point-in-time snapshot of every item and the aggregate
// progress, defined as the fraction of items in a terminal state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{Items: make([]ItemStatus, len(h.items))}
	terminal := 0
	for i, rec := range h.items {
		s.Items[i] = ItemStatus{
			ID:       rec.id,
			State:    rec.state,
			Progress: rec.progress,
			Err:      rec.err,
			Warnings: append([]string(nil), rec.warnings...),
			Report:   rec.report,
		}
		if rec.state.terminal() {
			terminal++
		}
	}
	s.Progress = float64(terminal) / float64(len(h.items))
	s.Done = terminal == len(h.items)
	return s
}

func (h *Handle) setState(idx int, st State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := &h.items[idx]
	if rec.state.terminal() {
		return
	}
	rec.state = st
	rec.err = err
	if st.terminal() {
		rec.progress = 1
	}
}

func (h *Handle) setProgress(idx int, p float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := &h.items[idx]
	if !rec.state.terminal() && p > rec.progress {
		rec.progress = p
	}
}

func (h *Handle) setReport(idx int, r *pipeline.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[idx].report = r
}

func (h *Handle) addWarnings(idx int, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := &h.items[idx]
	rec.warnings = append(rec.warnings, warnings...)
}

// WaitTimeout is a convenience wrapper around Wait with a deadline.
func (h *Handle) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return h.Wait(ctx)
}

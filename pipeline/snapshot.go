package pipeline

import (
	"errors"

	"pdfsuite/doc"
	"pdfsuite/security"
)

// snapshot captures the minimal mutable state one operation touches so a
// partial internal failure can be rolled back completely.
type snapshot interface {
	restore(d *doc.Document)
}

func (p *Pipeline) snapshotFor(d *doc.Document, op Operation, targets []int) snapshot {
	switch op.Kind {
	case KindExtractPages, KindDeletePages, KindReorderPages,
		KindInsertBlankPage, KindDuplicatePage:
		return takeStructural(d)
	case KindCleanMetadata:
		return takeMetadata(d)
	case KindSetPermissions, KindEncrypt, KindDecrypt:
		return takeEncryption(d)
	default:
		return takePages(d, targets)
	}
}

// structuralSnapshot covers page order and the bookmark tree. Page contents
// are untouched by structural operations, so the page pointers themselves
// are enough.
type structuralSnapshot struct {
	pages     []*doc.Page
	bookmarks []*doc.Bookmark
	dirty     bool
}

func takeStructural(d *doc.Document) snapshot {
	return &structuralSnapshot{
		pages: append([]*doc.Page(nil), d.Pages...),
		// Bookmark nodes are mutated in place during remapping; deep copy.
		bookmarks: doc.CloneBookmarks(d.Bookmarks),
		dirty:     d.Dirty,
	}
}

func (s *structuralSnapshot) restore(d *doc.Document) {
	d.Pages = append([]*doc.Page(nil), s.pages...)
	d.Bookmarks = s.bookmarks
	d.Dirty = s.dirty
	d.Renumber()
}

// pageSnapshot covers the content of the targeted pages only.
type pageSnapshot struct {
	saved map[int]*doc.Page
	dirty bool
}

func takePages(d *doc.Document, targets []int) snapshot {
	s := &pageSnapshot{saved: make(map[int]*doc.Page, len(targets)), dirty: d.Dirty}
	for _, i := range targets {
		if i >= 0 && i < len(d.Pages) {
			s.saved[i] = d.Pages[i].Clone()
		}
	}
	return s
}

func (s *pageSnapshot) restore(d *doc.Document) {
	for i, p := range s.saved {
		if i < len(d.Pages) {
			d.Pages[i] = p
		}
	}
	d.Dirty = s.dirty
	d.Renumber()
}

type metadataSnapshot struct {
	meta  map[string]string
	dirty bool
}

func takeMetadata(d *doc.Document) snapshot {
	s := &metadataSnapshot{meta: make(map[string]string, len(d.Metadata)), dirty: d.Dirty}
	for k, v := range d.Metadata {
		s.meta[k] = v
	}
	return s
}

func (s *metadataSnapshot) restore(d *doc.Document) {
	d.Metadata = make(map[string]string, len(s.meta))
	for k, v := range s.meta {
		d.Metadata[k] = v
	}
	d.Dirty = s.dirty
}

type encryptionSnapshot struct {
	state *security.State
	dirty bool
}

func takeEncryption(d *doc.Document) snapshot {
	return &encryptionSnapshot{state: d.Encryption.Clone(), dirty: d.Dirty}
}

func (s *encryptionSnapshot) restore(d *doc.Document) {
	d.Encryption = s.state
	d.Dirty = s.dirty
}

// History is an append-only log of applied operations and their
// pre-operation snapshots. Undo restores snapshots rather than inverting
// operations, since not every operation has a clean inverse.
type History struct {
	entries []historyEntry
}

type historyEntry struct {
	op   Operation
	snap snapshot
}

// NewHistory returns an empty history.
func NewHistory() *History { return &History{} }

func (h *History) record(op Operation, snap snapshot) {
	h.entries = append(h.entries, historyEntry{op: op, snap: snap})
}

// Len returns the number of undoable operations.
func (h *History) Len() int { return len(h.entries) }

// Operations returns the applied operations in order.
func (h *History) Operations() []Operation {
	out := make([]Operation, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.op
	}
	return out
}

// ErrNothingToUndo is returned when the history is empty.
var ErrNothingToUndo = errors.New("pipeline: nothing to undo")

// Undo reverts the most recently recorded operation on d and returns it.
func (h *History) Undo(d *doc.Document) (Operation, error) {
	if len(h.entries) == 0 {
		return Operation{}, ErrNothingToUndo
	}
	last := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	last.snap.restore(d)
	return last.op, nil
}

package pipeline

import (
	"fmt"

	"pdfsuite/doc"
)

// Structural operations recompute page indices and retarget bookmarks
// atomically with the page mutation: new state is built first, then
// committed in one assignment batch.

func applyDelete(d *doc.Document, targets []int) error {
	if len(targets) >= d.PageCount() {
		return fmt.Errorf("deleting %d of %d pages would leave an empty document", len(targets), d.PageCount())
	}
	drop := make(map[int]bool, len(targets))
	for _, i := range targets {
		drop[i] = true
	}
	kept := make([]*doc.Page, 0, d.PageCount()-len(targets))
	mapping := make(map[int]int, d.PageCount()-len(targets))
	for i, p := range d.Pages {
		if drop[i] {
			continue
		}
		mapping[i] = len(kept)
		kept = append(kept, p)
	}
	d.Pages = kept
	d.RemapBookmarks(mapping)
	d.Renumber()
	return nil
}

func applyExtract(d *doc.Document, targets []int) error {
	kept := make([]*doc.Page, 0, len(targets))
	mapping := make(map[int]int, len(targets))
	for _, i := range targets {
		mapping[i] = len(kept)
		kept = append(kept, d.Pages[i])
	}
	d.Pages = kept
	d.RemapBookmarks(mapping)
	d.Renumber()
	return nil
}

func applyReorder(d *doc.Document, params ReorderParams) error {
	n := d.PageCount()
	if len(params.Order) != n {
		return fmt.Errorf("order has %d entries for %d pages", len(params.Order), n)
	}
	seen := make([]bool, n)
	for _, old := range params.Order {
		if old < 0 || old >= n {
			return fmt.Errorf("%w: page %d of %d", ErrInvalidTarget, old, n)
		}
		if seen[old] {
			return fmt.Errorf("page %d appears twice in order", old)
		}
		seen[old] = true
	}
	reordered := make([]*doc.Page, n)
	mapping := make(map[int]int, n)
	for newIdx, oldIdx := range params.Order {
		reordered[newIdx] = d.Pages[oldIdx]
		mapping[oldIdx] = newIdx
	}
	d.Pages = reordered
	d.RemapBookmarks(mapping)
	d.Renumber()
	return nil
}

func applyInsertBlank(d *doc.Document, params InsertBlankParams) error {
	n := d.PageCount()
	if params.At < 0 || params.At > n {
		return fmt.Errorf("%w: insert position %d of %d", ErrInvalidTarget, params.At, n)
	}
	w, h := params.Width, params.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("blank page size %gx%g is not positive", w, h)
	}
	insertPage(d, params.At, doc.NewPage(w, h))
	return nil
}

func applyDuplicate(d *doc.Document, targets []int) error {
	if len(targets) != 1 {
		return fmt.Errorf("%w: duplicate-page needs exactly one page, got %d", ErrInvalidTarget, len(targets))
	}
	src := targets[0]
	insertPage(d, src+1, d.Pages[src].Clone())
	return nil
}

// insertPage splices a page in at position at and shifts bookmark targets
// that point at or past it.
func insertPage(d *doc.Document, at int, p *doc.Page) {
	pages := make([]*doc.Page, 0, len(d.Pages)+1)
	pages = append(pages, d.Pages[:at]...)
	pages = append(pages, p)
	pages = append(pages, d.Pages[at:]...)
	mapping := make(map[int]int, len(d.Pages))
	for i := range d.Pages {
		if i < at {
			mapping[i] = i
		} else {
			mapping[i] = i + 1
		}
	}
	d.Pages = pages
	d.RemapBookmarks(mapping)
	d.Renumber()
}

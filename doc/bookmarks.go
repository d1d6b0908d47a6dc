package doc

// Bookmark is one node of the document outline tree. PageIndex targets the
// current zero-based page numbering.
type Bookmark struct {
	Title     string
	PageIndex int
	Children  []*Bookmark
}

// CloneBookmarks deep-copies an outline tree.
func CloneBookmarks(nodes []*Bookmark) []*Bookmark { return cloneBookmarks(nodes) }

func cloneBookmarks(nodes []*Bookmark) []*Bookmark {
	if nodes == nil {
		return nil
	}
	out := make([]*Bookmark, len(nodes))
	for i, n := range nodes {
		out[i] = &Bookmark{
			Title:     n.Title,
			PageIndex: n.PageIndex,
			Children:  cloneBookmarks(n.Children),
		}
	}
	return out
}

// PruneBookmarks drops every bookmark whose target is no longer a valid
// page index. Children of a dropped node are promoted to its position so a
// stale parent does not take a valid subtree with it. Returns the number of
// nodes dropped.
func (d *Document) PruneBookmarks() int {
	var dropped int
	d.Bookmarks = pruneBookmarks(d.Bookmarks, len(d.Pages), &dropped)
	return dropped
}

func pruneBookmarks(nodes []*Bookmark, pageCount int, dropped *int) []*Bookmark {
	var out []*Bookmark
	for _, n := range nodes {
		n.Children = pruneBookmarks(n.Children, pageCount, dropped)
		if n.PageIndex < 0 || n.PageIndex >= pageCount {
			*dropped++
			out = append(out, n.Children...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// RemapBookmarks retargets bookmarks through an old-index to new-index
// mapping, as produced by delete/extract/reorder. Bookmarks whose old
// target has no mapping are dropped with their children promoted. Returns
// the number of nodes dropped.
func (d *Document) RemapBookmarks(mapping map[int]int) int {
	var dropped int
	d.Bookmarks = remapBookmarks(d.Bookmarks, mapping, &dropped)
	return dropped
}

func remapBookmarks(nodes []*Bookmark, mapping map[int]int, dropped *int) []*Bookmark {
	var out []*Bookmark
	for _, n := range nodes {
		n.Children = remapBookmarks(n.Children, mapping, dropped)
		newIndex, ok := mapping[n.PageIndex]
		if !ok {
			*dropped++
			out = append(out, n.Children...)
			continue
		}
		n.PageIndex = newIndex
		out = append(out, n)
	}
	return out
}

// WalkBookmarks visits every bookmark depth-first.
func (d *Document) WalkBookmarks(visit func(*Bookmark)) {
	walkBookmarks(d.Bookmarks, visit)
}

func walkBookmarks(nodes []*Bookmark, visit func(*Bookmark)) {
	for _, n := range nodes {
		visit(n)
		walkBookmarks(n.Children, visit)
	}
}

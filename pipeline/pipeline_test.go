package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"pdfsuite/codec"
	"pdfsuite/doc"
	"pdfsuite/ocr"
	"pdfsuite/security"
)

func testDoc(pages int) *doc.Document {
	ps := make([]*doc.Page, pages)
	for i := range ps {
		p := doc.NewPage(595, 842)
		p.ContentRef = fmt.Sprintf("content-%d", i)
		p.Text = []doc.TextSpan{
			{Text: fmt.Sprintf("body of page %d", i), Bounds: doc.Rect{X: 50, Y: 400, Width: 300, Height: 12}},
		}
		ps[i] = p
	}
	return doc.New("test", ps...)
}

func serialize(t *testing.T, d *doc.Document) []byte {
	t.Helper()
	data, err := codec.Serialize(context.Background(), codec.NewSimple(), d)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return data
}

func TestDeleteThenRotateScenario(t *testing.T) {
	// 5 pages, delete indices 1 and 3, rotate the rest by 90.
	d := testDoc(5)
	want0, want2, want4 := d.Pages[0], d.Pages[2], d.Pages[4]

	report, err := New().Apply(context.Background(), d, []Operation{
		DeletePages(Pages(1, 3)),
		Rotate(AllPages(), 90),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Applied() != 2 || report.Failed() != 0 {
		t.Fatalf("report: applied=%d failed=%d", report.Applied(), report.Failed())
	}
	if d.PageCount() != 3 {
		t.Fatalf("PageCount() = %d, want 3", d.PageCount())
	}
	for i, want := range []*doc.Page{want0, want2, want4} {
		if d.Pages[i] != want {
			t.Fatalf("page %d is not original page", i)
		}
		if d.Pages[i].Index != i {
			t.Fatalf("page %d has Index %d", i, d.Pages[i].Index)
		}
		if d.Pages[i].Rotation != 90 {
			t.Fatalf("page %d Rotation = %d, want 90", i, d.Pages[i].Rotation)
		}
	}
}

func TestEmptyOperationListIsIdempotent(t *testing.T) {
	d := testDoc(2)
	before := serialize(t, d)
	report, err := New().Apply(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(report.Outcomes) != 0 || !report.Ok() {
		t.Fatalf("report = %+v", report)
	}
	if !bytes.Equal(before, serialize(t, d)) {
		t.Fatal("empty operation list changed the document")
	}
}

func TestInvalidTargetIsIsolated(t *testing.T) {
	d := testDoc(2)
	report, err := New().Apply(context.Background(), d, []Operation{
		Rotate(Pages(9), 90),
		Rotate(Pages(0), 90),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := report.Outcomes[0]; got.Status != StatusFailed || !errors.Is(got.Reason, ErrInvalidTarget) {
		t.Fatalf("outcome 0 = %+v", got)
	}
	if report.Outcomes[1].Status != StatusApplied {
		t.Fatalf("outcome 1 = %+v", report.Outcomes[1])
	}
	if d.Pages[0].Rotation != 90 {
		t.Fatalf("Rotation = %d, want 90", d.Pages[0].Rotation)
	}
}

func TestFailFastSkipsRemaining(t *testing.T) {
	d := testDoc(2)
	report, err := New(WithFailFast()).Apply(context.Background(), d, []Operation{
		Rotate(Pages(9), 90),
		Rotate(Pages(0), 90),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Outcomes[0].Status != StatusFailed {
		t.Fatalf("outcome 0 = %+v", report.Outcomes[0])
	}
	if report.Outcomes[1].Status != StatusSkipped {
		t.Fatalf("outcome 1 = %+v", report.Outcomes[1])
	}
	if d.Pages[0].Rotation != 0 {
		t.Fatal("skipped operation was applied")
	}
}

func TestRotationIsCyclicOfOrderFour(t *testing.T) {
	d := testDoc(1)
	ops := make([]Operation, 4)
	for i := range ops {
		ops[i] = Rotate(AllPages(), 90)
	}
	report, err := New().Apply(context.Background(), d, ops)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Applied() != 4 {
		t.Fatalf("applied = %d, want 4", report.Applied())
	}
	if d.Pages[0].Rotation != 0 {
		t.Fatalf("Rotation = %d, want 0 after full cycle", d.Pages[0].Rotation)
	}
}

func TestStructuralOpsKeepIndicesContiguous(t *testing.T) {
	d := testDoc(6)
	ops := []Operation{
		DeletePages(Pages(5)),
		ReorderPages([]int{4, 3, 2, 1, 0}),
		InsertBlankPage(2, 595, 842),
		DuplicatePage(0),
		ExtractPages(Pages(0, 2, 4)),
		CropPages(AllPages(), doc.Rect{X: 10, Y: 10, Width: 400, Height: 600}),
	}
	report, err := New().Apply(context.Background(), d, ops)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !report.Ok() {
		t.Fatalf("report = %+v", report.Outcomes)
	}
	for i, p := range d.Pages {
		if p.Index != i {
			t.Fatalf("page %d has Index %d", i, p.Index)
		}
	}
}

func TestDeleteAllPagesFails(t *testing.T) {
	d := testDoc(2)
	report, err := New().Apply(context.Background(), d, []Operation{DeletePages(AllPages())})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Outcomes[0].Status != StatusFailed {
		t.Fatalf("outcome = %+v", report.Outcomes[0])
	}
	if d.PageCount() != 2 {
		t.Fatalf("PageCount() = %d, want 2", d.PageCount())
	}
}

func TestDeleteRetargetsBookmarks(t *testing.T) {
	d := testDoc(4)
	d.Bookmarks = []*doc.Bookmark{
		{Title: "first", PageIndex: 0},
		{Title: "deleted", PageIndex: 1},
		{Title: "last", PageIndex: 3},
	}
	report, err := New().Apply(context.Background(), d, []Operation{DeletePages(Pages(1))})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if len(d.Bookmarks) != 2 {
		t.Fatalf("bookmarks = %+v", d.Bookmarks)
	}
	if d.Bookmarks[0].PageIndex != 0 || d.Bookmarks[1].PageIndex != 2 {
		t.Fatalf("bookmark targets = %d, %d", d.Bookmarks[0].PageIndex, d.Bookmarks[1].PageIndex)
	}
}

func TestInsertBlankShiftsBookmarks(t *testing.T) {
	d := testDoc(2)
	d.Bookmarks = []*doc.Bookmark{{Title: "second", PageIndex: 1}}
	report, err := New().Apply(context.Background(), d, []Operation{InsertBlankPage(0, 595, 842)})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if d.PageCount() != 3 || d.Bookmarks[0].PageIndex != 2 {
		t.Fatalf("pages = %d, bookmark target = %d", d.PageCount(), d.Bookmarks[0].PageIndex)
	}
}

func TestRedactRemovesUnderlyingContent(t *testing.T) {
	d := testDoc(1)
	p := d.Pages[0]
	p.Text = append(p.Text, doc.TextSpan{
		Text:   "secret account 12345",
		Bounds: doc.Rect{X: 50, Y: 700, Width: 200, Height: 12},
	})
	p.AddLayer(doc.Layer{Kind: doc.LayerImage, Bounds: doc.Rect{X: 60, Y: 690, Width: 50, Height: 30}, Data: []byte{1}})
	p.OCR = &doc.OCRLayer{Runs: []doc.TextRun{
		{Text: "secret", Bounds: doc.Rect{X: 55, Y: 702, Width: 60, Height: 10}},
		{Text: "elsewhere", Bounds: doc.Rect{X: 50, Y: 100, Width: 60, Height: 10}},
	}}

	region := doc.Rect{X: 40, Y: 680, Width: 300, Height: 50}
	report, err := New().Apply(context.Background(), d, []Operation{Redact(Pages(0), region)})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if hits := p.FindText("12345"); hits != nil {
		t.Fatalf("redacted text still findable: %+v", hits)
	}
	if hits := p.FindText("body of page 0"); len(hits) != 1 {
		t.Fatal("text outside the region was removed")
	}
	for _, l := range p.Layers {
		if l.Kind == doc.LayerImage {
			t.Fatal("image inside the region survived")
		}
	}
	if len(p.OCR.Runs) != 1 || p.OCR.Runs[0].Text != "elsewhere" {
		t.Fatalf("OCR runs = %+v", p.OCR.Runs)
	}
	last := p.Layers[len(p.Layers)-1]
	if last.Kind != doc.LayerShape || last.Bounds != region {
		t.Fatalf("no opaque cover over region, last layer = %+v", last)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	d := testDoc(2)
	before := serialize(t, d)
	p := New()

	report, err := p.Apply(context.Background(), d, []Operation{
		Encrypt("open", "admin", security.PermPrint|security.PermCopy),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("encrypt: %+v, %v", report.Outcomes, err)
	}
	if !d.Encrypted() || !d.Encryption.Permissions().Has(security.PermPrint) {
		t.Fatalf("encryption state = %v", d.Encryption.Mode())
	}

	// Wrong password: operation fails, document untouched.
	report, err = p.Apply(context.Background(), d, []Operation{Decrypt("nope")})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := report.Outcomes[0]; got.Status != StatusFailed || !errors.Is(got.Reason, security.ErrAuthentication) {
		t.Fatalf("outcome = %+v", got)
	}
	if !d.Encrypted() {
		t.Fatal("failed decrypt removed protection")
	}

	// Matching password restores the pre-encryption serialized form.
	report, err = p.Apply(context.Background(), d, []Operation{Decrypt("open")})
	if err != nil || !report.Ok() {
		t.Fatalf("decrypt: %+v, %v", report.Outcomes, err)
	}
	// Serialized forms are compared with the dirty flag aside: serialization
	// does not include it.
	if !bytes.Equal(before, serialize(t, d)) {
		t.Fatal("decrypt did not restore pre-encryption serialized form")
	}
}

func TestSetPermissionsRequiresEncryption(t *testing.T) {
	d := testDoc(1)
	report, err := New().Apply(context.Background(), d, []Operation{
		SetPermissions(security.PermPrint),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := report.Outcomes[0]; got.Status != StatusFailed || !errors.Is(got.Reason, security.ErrNotEncrypted) {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestWeakPasswordFails(t *testing.T) {
	d := testDoc(1)
	report, err := New().Apply(context.Background(), d, []Operation{
		Encrypt("", "", security.PermPrint),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := report.Outcomes[0]; got.Status != StatusFailed || !errors.Is(got.Reason, security.ErrWeakPassword) {
		t.Fatalf("outcome = %+v", got)
	}
	if d.Encrypted() {
		t.Fatal("failed encrypt left protection behind")
	}
}

func TestCleanMetadataKeepsListedKeys(t *testing.T) {
	d := testDoc(1)
	d.Metadata[doc.MetaTitle] = "kept"
	d.Metadata[doc.MetaAuthor] = "dropped"
	d.Metadata["tracking-id"] = "dropped"
	report, err := New().Apply(context.Background(), d, []Operation{CleanMetadata(doc.MetaTitle)})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if len(d.Metadata) != 1 || d.Metadata[doc.MetaTitle] != "kept" {
		t.Fatalf("metadata = %v", d.Metadata)
	}
}

// flakyEngine succeeds until failAfter calls have been made.
type flakyEngine struct {
	calls     int
	failAfter int
}

func (f *flakyEngine) Name() string { return "flaky" }
func (f *flakyEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	f.calls++
	if f.calls > f.failAfter {
		return ocr.Result{}, fmt.Errorf("%w: engine offline", ocr.ErrRecognition)
	}
	return ocr.Result{InputID: in.ID, PlainText: "recognized"}, nil
}

func TestOCRFailureRollsBackAllTargets(t *testing.T) {
	d := testDoc(3)
	engine := &flakyEngine{failAfter: 1}
	report, err := New(WithOCREngine(engine)).Apply(context.Background(), d, []Operation{
		ApplyOCRLayer(AllPages(), "eng"),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := report.Outcomes[0]; got.Status != StatusFailed || !errors.Is(got.Reason, ocr.ErrRecognition) {
		t.Fatalf("outcome = %+v", got)
	}
	// The first page succeeded before the second failed; rollback must
	// have removed its OCR layer again.
	for i, p := range d.Pages {
		if p.OCR != nil {
			t.Fatalf("page %d kept an OCR layer after rollback", i)
		}
	}
}

func TestOCRLayerApplied(t *testing.T) {
	d := testDoc(1)
	engine := &flakyEngine{failAfter: 99}
	report, err := New(WithOCREngine(engine)).Apply(context.Background(), d, []Operation{
		ApplyOCRLayer(Pages(0), "eng"),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if d.Pages[0].OCR == nil || len(d.Pages[0].OCR.Runs) == 0 {
		t.Fatal("no OCR layer on target page")
	}
	if d.Pages[0].OCR.Runs[0].Text != "recognized" {
		t.Fatalf("runs = %+v", d.Pages[0].OCR.Runs)
	}
}

func TestCancelledContextSkipsOperations(t *testing.T) {
	d := testDoc(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New().Apply(ctx, d, []Operation{Rotate(AllPages(), 90)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != StatusSkipped {
		t.Fatalf("outcomes = %+v", report.Outcomes)
	}
	if d.Pages[0].Rotation != 0 {
		t.Fatal("operation ran after cancellation")
	}
}

type blockingEngine struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingEngine) Name() string { return "blocking" }
func (b *blockingEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	close(b.entered)
	<-b.release
	return ocr.Result{InputID: in.ID}, nil
}

func TestConcurrentApplyOnSameDocumentIsRejected(t *testing.T) {
	d := testDoc(1)
	engine := &blockingEngine{entered: make(chan struct{}), release: make(chan struct{})}
	p := New(WithOCREngine(engine))

	done := make(chan error, 1)
	go func() {
		_, err := p.Apply(context.Background(), d, []Operation{ApplyOCRLayer(Pages(0))})
		done <- err
	}()
	<-engine.entered

	if _, err := p.Apply(context.Background(), d, []Operation{Rotate(AllPages(), 90)}); !errors.Is(err, ErrReentrantApply) {
		t.Fatalf("error = %v, want ErrReentrantApply", err)
	}
	close(engine.release)
	if err := <-done; err != nil {
		t.Fatalf("first apply error = %v", err)
	}
}

func TestHistoryUndoRestoresSnapshot(t *testing.T) {
	d := testDoc(3)
	before := serialize(t, d)
	h := NewHistory()
	p := New(WithHistory(h))

	report, err := p.Apply(context.Background(), d, []Operation{
		Rotate(AllPages(), 90),
		DeletePages(Pages(2)),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if h.Len() != 2 {
		t.Fatalf("history length = %d, want 2", h.Len())
	}

	op, err := h.Undo(d)
	if err != nil || op.Kind != KindDeletePages {
		t.Fatalf("Undo() = %v, %v", op.Kind, err)
	}
	if d.PageCount() != 3 {
		t.Fatalf("PageCount() after undo = %d, want 3", d.PageCount())
	}
	if _, err := h.Undo(d); err != nil {
		t.Fatalf("second Undo() error = %v", err)
	}
	if !bytes.Equal(before, serialize(t, d)) {
		t.Fatal("undo chain did not restore original serialized form")
	}
	if _, err := h.Undo(d); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("error = %v, want ErrNothingToUndo", err)
	}
}

func TestOperationsAreValueObjects(t *testing.T) {
	indices := []int{0, 1}
	op := DeletePages(Pages(indices...))
	indices[0] = 99
	if op.Target.Indices[0] != 0 {
		t.Fatal("operation shares caller's index slice")
	}
	order := []int{1, 0}
	re := ReorderPages(order)
	order[0] = 99
	if re.Params.(ReorderParams).Order[0] != 1 {
		t.Fatal("operation shares caller's order slice")
	}
}

func TestCropTranslatesOCRAndDropsOutsideContent(t *testing.T) {
	d := testDoc(1)
	p := d.Pages[0]
	p.Text = []doc.TextSpan{
		{Text: "secret 12345", Bounds: doc.Rect{X: 200, Y: 400, Width: 100, Height: 12}},
	}
	p.OCR = &doc.OCRLayer{Runs: []doc.TextRun{
		{Text: "secret 12345", Bounds: doc.Rect{X: 200, Y: 400, Width: 100, Height: 12}},
		{Text: "margin note", Bounds: doc.Rect{X: 500, Y: 700, Width: 60, Height: 12}},
	}}
	p.AddLayer(doc.Layer{Kind: doc.LayerImage, Bounds: doc.Rect{X: 500, Y: 700, Width: 50, Height: 50}})

	box := doc.Rect{X: 100, Y: 300, Width: 300, Height: 300}
	report, err := New().Apply(context.Background(), d, []Operation{CropPages(AllPages(), box)})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if len(p.OCR.Runs) != 1 {
		t.Fatalf("runs = %+v, want only the in-box run", p.OCR.Runs)
	}
	if got, want := p.OCR.Runs[0].Bounds, (doc.Rect{X: 100, Y: 100, Width: 100, Height: 12}); got != want {
		t.Fatalf("run bounds = %+v, want %+v", got, want)
	}
	if len(p.Layers) != 0 {
		t.Fatalf("layers outside the box survived: %+v", p.Layers)
	}

	// Redacting the translated bounds must clear both the base text and
	// the matching OCR run.
	report, err = New().Apply(context.Background(), d, []Operation{
		Redact(AllPages(), doc.Rect{X: 100, Y: 100, Width: 100, Height: 12}),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	if hits := p.FindText("secret"); hits != nil {
		t.Fatalf("redacted text still findable: %+v", hits)
	}
	if len(p.OCR.Runs) != 0 {
		t.Fatalf("redacted OCR runs survived: %+v", p.OCR.Runs)
	}
}

// boxEngine reports one word with fixed raster bounds.
type boxEngine struct {
	bounds ocr.Region
}

func (boxEngine) Name() string { return "box" }
func (e boxEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	word := ocr.TextWord{Text: "tilted", Bounds: e.bounds, Confidence: 0.9}
	return ocr.Result{
		InputID: in.ID,
		Blocks:  []ocr.TextBlock{{Lines: []ocr.TextLine{{Words: []ocr.TextWord{word}}}}},
	}, nil
}

func TestOCRRunsOnRotatedPageStayInsideThePage(t *testing.T) {
	d := testDoc(1)
	p := d.Pages[0]
	p.Rotation = 90

	// A 595x842 page rotated 90 degrees renders at the default scale of 2
	// as a 1684x1190 raster; a word covering the full raster must map back
	// to the full page.
	engine := boxEngine{bounds: ocr.Region{X: 0, Y: 0, Width: 1684, Height: 1190}}
	report, err := New(WithOCREngine(engine)).Apply(context.Background(), d, []Operation{
		ApplyOCRLayer(Pages(0), "eng"),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	got := p.OCR.Runs[0].Bounds
	if want := (doc.Rect{X: 0, Y: 0, Width: 595, Height: 842}); got != want {
		t.Fatalf("run bounds = %+v, want %+v", got, want)
	}

	// A corner word must land inside the page box as well.
	p.Rotation = 270
	engine = boxEngine{bounds: ocr.Region{X: 0, Y: 0, Width: 100, Height: 50}}
	report, err = New(WithOCREngine(engine)).Apply(context.Background(), d, []Operation{
		ApplyOCRLayer(Pages(0), "eng"),
	})
	if err != nil || !report.Ok() {
		t.Fatalf("Apply() = %+v, %v", report.Outcomes, err)
	}
	got = p.OCR.Runs[0].Bounds
	if got.X < 0 || got.Y < 0 || got.X+got.Width > p.Width || got.Y+got.Height > p.Height {
		t.Fatalf("run bounds %+v extend past the %gx%g page", got, p.Width, p.Height)
	}
}

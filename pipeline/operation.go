package pipeline

import (
	"fmt"
	"sort"

	"pdfsuite/doc"
	"pdfsuite/security"
)

// Kind names one operation type.
type Kind int

const (
	KindRotate Kind = iota
	KindExtractPages
	KindDeletePages
	KindReorderPages
	KindInsertBlankPage
	KindDuplicatePage
	KindCropPages
	KindAddAnnotation
	KindAddWatermark
	KindAddPageNumbers
	KindRedact
	KindApplyOCRLayer
	KindCleanMetadata
	KindSetPermissions
	KindEncrypt
	KindDecrypt
)

var kindNames = map[Kind]string{
	KindRotate:          "rotate",
	KindExtractPages:    "extract-pages",
	KindDeletePages:     "delete-pages",
	KindReorderPages:    "reorder-pages",
	KindInsertBlankPage: "insert-blank-page",
	KindDuplicatePage:   "duplicate-page",
	KindCropPages:       "crop-pages",
	KindAddAnnotation:   "add-annotation",
	KindAddWatermark:    "add-watermark",
	KindAddPageNumbers:  "add-page-numbers",
	KindRedact:          "redact",
	KindApplyOCRLayer:   "apply-ocr-layer",
	KindCleanMetadata:   "clean-metadata",
	KindSetPermissions:  "set-permissions",
	KindEncrypt:         "encrypt",
	KindDecrypt:         "decrypt",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Selector picks the pages an operation targets: either every page or an
// explicit index set.
type Selector struct {
	All     bool
	Indices []int
}

// AllPages selects every page of the document at apply time.
func AllPages() Selector { return Selector{All: true} }

// Pages selects an explicit set of zero-based page indices.
func Pages(indices ...int) Selector {
	return Selector{Indices: append([]int(nil), indices...)}
}

// Resolve validates the selector against the current page count and
// returns the targeted indices, sorted ascending with duplicates removed.
func (s Selector) Resolve(pageCount int) ([]int, error) {
	if s.All {
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if len(s.Indices) == 0 {
		return nil, fmt.Errorf("%w: empty page selection", ErrInvalidTarget)
	}
	seen := make(map[int]bool, len(s.Indices))
	out := make([]int, 0, len(s.Indices))
	for _, i := range s.Indices {
		if i < 0 || i >= pageCount {
			return nil, fmt.Errorf("%w: page %d of %d", ErrInvalidTarget, i, pageCount)
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// Params carries the kind-specific parameters of an operation.
type Params interface{ params() }

type RotateParams struct{ Angle int }

type ReorderParams struct{ Order []int }

type InsertBlankParams struct {
	At     int
	Width  float64
	Height float64
}

type CropParams struct{ Box doc.Rect }

type AnnotationParams struct {
	Kind   doc.LayerKind
	Bounds doc.Rect
	Text   string
}

type WatermarkParams struct {
	Text    string
	Opacity float64
	Angle   float64
}

type PageNumberParams struct{ Format string }

type RedactParams struct{ Region doc.Rect }

type OCRParams struct {
	Languages []string
	Scale     float64
}

type CleanMetadataParams struct{ Keep []string }

type PermissionParams struct{ Perms security.Permissions }

type EncryptParams struct {
	UserPassword  string
	OwnerPassword string
	Perms         security.Permissions
}

type DecryptParams struct{ Password string }

func (RotateParams) params()        {}
func (ReorderParams) params()       {}
func (InsertBlankParams) params()   {}
func (CropParams) params()          {}
func (AnnotationParams) params()    {}
func (WatermarkParams) params()     {}
func (PageNumberParams) params()    {}
func (RedactParams) params()        {}
func (OCRParams) params()           {}
func (CleanMetadataParams) params() {}
func (PermissionParams) params()    {}
func (EncryptParams) params()       {}
func (DecryptParams) params()       {}

// Operation is one named transformation of a document. Operations are value
// objects: built by the caller, never mutated afterwards, consumed exactly
// once by a pipeline run.
type Operation struct {
	Kind   Kind
	Target Selector
	Params Params
}

func (op Operation) String() string { return op.Kind.String() }

// targetless reports whether the kind addresses the whole document rather
// than a page selection.
func (k Kind) targetless() bool {
	switch k {
	case KindReorderPages, KindInsertBlankPage, KindCleanMetadata,
		KindSetPermissions, KindEncrypt, KindDecrypt:
		return true
	}
	return false
}

// Rotate turns the selected pages by angle degrees (a multiple of 90).
func Rotate(target Selector, angle int) Operation {
	return Operation{Kind: KindRotate, Target: target, Params: RotateParams{Angle: angle}}
}

// ExtractPages keeps only the selected pages, renumbering from zero.
func ExtractPages(target Selector) Operation {
	return Operation{Kind: KindExtractPages, Target: target}
}

// DeletePages removes the selected pages, renumbering the remainder.
func DeletePages(target Selector) Operation {
	return Operation{Kind: KindDeletePages, Target: target}
}

// ReorderPages rearranges pages; order must be a permutation of the current
// indices, where order[newIndex] = oldIndex.
func ReorderPages(order []int) Operation {
	return Operation{Kind: KindReorderPages, Params: ReorderParams{Order: append([]int(nil), order...)}}
}

// InsertBlankPage inserts an empty page of the given size at position at.
func InsertBlankPage(at int, width, height float64) Operation {
	return Operation{Kind: KindInsertBlankPage, Params: InsertBlankParams{At: at, Width: width, Height: height}}
}

// DuplicatePage copies the single selected page, placing the copy directly
// after it.
func DuplicatePage(index int) Operation {
	return Operation{Kind: KindDuplicatePage, Target: Pages(index)}
}

// CropPages clips the selected pages to box, translating surviving content
// to the new origin.
func CropPages(target Selector, box doc.Rect) Operation {
	return Operation{Kind: KindCropPages, Target: target, Params: CropParams{Box: box}}
}

// AddAnnotation overlays a markup layer on the selected pages.
func AddAnnotation(target Selector, kind doc.LayerKind, bounds doc.Rect, text string) Operation {
	return Operation{Kind: KindAddAnnotation, Target: target, Params: AnnotationParams{Kind: kind, Bounds: bounds, Text: text}}
}

// AddWatermark overlays diagonal watermark text on the selected pages.
func AddWatermark(target Selector, text string, opacity, angle float64) Operation {
	return Operation{Kind: KindAddWatermark, Target: target, Params: WatermarkParams{Text: text, Opacity: opacity, Angle: angle}}
}

// AddPageNumbers stamps a footer label on the selected pages; format
// receives the one-based page number.
func AddPageNumbers(target Selector, format string) Operation {
	return Operation{Kind: KindAddPageNumbers, Target: target, Params: PageNumberParams{Format: format}}
}

// Redact removes all content inside region on the selected pages and covers
// the area with an opaque shape.
func Redact(target Selector, region doc.Rect) Operation {
	return Operation{Kind: KindRedact, Target: target, Params: RedactParams{Region: region}}
}

// ApplyOCRLayer recognizes text on the selected pages and attaches the
// result as each page's OCR layer. Scale controls the render resolution; 0
// uses the default.
func ApplyOCRLayer(target Selector, languages ...string) Operation {
	return Operation{Kind: KindApplyOCRLayer, Target: target, Params: OCRParams{Languages: append([]string(nil), languages...)}}
}

// CleanMetadata drops all metadata entries except the listed keys.
func CleanMetadata(keep ...string) Operation {
	return Operation{Kind: KindCleanMetadata, Params: CleanMetadataParams{Keep: append([]string(nil), keep...)}}
}

// SetPermissions replaces the permission bitset of a protected document.
func SetPermissions(perms security.Permissions) Operation {
	return Operation{Kind: KindSetPermissions, Params: PermissionParams{Perms: perms}}
}

// Encrypt protects the document with the given passwords and permissions.
func Encrypt(userPassword, ownerPassword string, perms security.Permissions) Operation {
	return Operation{Kind: KindEncrypt, Params: EncryptParams{UserPassword: userPassword, OwnerPassword: ownerPassword, Perms: perms}}
}

// Decrypt removes protection after authenticating the password.
func Decrypt(password string) Operation {
	return Operation{Kind: KindDecrypt, Params: DecryptParams{Password: password}}
}

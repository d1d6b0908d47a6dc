package scripting

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"pdfsuite/doc"
	"pdfsuite/pipeline"
	"pdfsuite/security"
)

// GojaEngine evaluates job scripts on a fresh goja runtime per call, so
// scripts cannot leak state into each other.
type GojaEngine struct{}

// NewEngine constructs a JavaScript engine.
func NewEngine() *GojaEngine { return &GojaEngine{} }

func (e *GojaEngine) BuildOperations(ctx context.Context, script string) ([]pipeline.Operation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	b := &jobBuilder{vm: vm}
	if err := b.register(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	done := make(chan struct{})
	defer close(done)
	defer vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(script); err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if cause := interrupted.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	return b.ops, nil
}

// jobBuilder accumulates operations as the script calls job methods.
type jobBuilder struct {
	vm  *goja.Runtime
	ops []pipeline.Operation
}

func (b *jobBuilder) register() error {
	job := b.vm.NewObject()
	methods := map[string]func(goja.FunctionCall) goja.Value{
		"rotate":        b.rotate,
		"deletePages":   b.deletePages,
		"extractPages":  b.extractPages,
		"reorder":       b.reorder,
		"insertBlank":   b.insertBlank,
		"duplicate":     b.duplicate,
		"crop":          b.crop,
		"annotate":      b.annotate,
		"watermark":     b.watermark,
		"pageNumbers":   b.pageNumbers,
		"redact":        b.redact,
		"ocr":           b.ocr,
		"cleanMetadata": b.cleanMetadata,
		"permissions":   b.permissions,
		"encrypt":       b.encrypt,
		"decrypt":       b.decrypt,
	}
	for name, fn := range methods {
		if err := job.Set(name, fn); err != nil {
			return err
		}
	}
	return b.vm.Set("job", job)
}

func (b *jobBuilder) add(op pipeline.Operation) goja.Value {
	b.ops = append(b.ops, op)
	return goja.Undefined()
}

// selector interprets a script page argument: "all", undefined, or an
// array of zero-based indices.
func (b *jobBuilder) selector(v goja.Value) pipeline.Selector {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return pipeline.AllPages()
	}
	if s, ok := v.Export().(string); ok && s == "all" {
		return pipeline.AllPages()
	}
	return pipeline.Pages(b.intSlice(v)...)
}

func (b *jobBuilder) intSlice(v goja.Value) []int {
	exported := v.Export()
	switch vals := exported.(type) {
	case []interface{}:
		out := make([]int, 0, len(vals))
		for _, item := range vals {
			out = append(out, toInt(item))
		}
		return out
	case int64:
		return []int{int(vals)}
	case float64:
		return []int{int(vals)}
	default:
		panic(b.vm.ToValue(fmt.Sprintf("expected page index array, got %T", exported)))
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (b *jobBuilder) rect(v goja.Value) doc.Rect {
	obj, ok := v.Export().(map[string]interface{})
	if !ok {
		panic(b.vm.ToValue("expected rect object {x, y, width, height}"))
	}
	num := func(key string) float64 {
		switch n := obj[key].(type) {
		case int64:
			return float64(n)
		case float64:
			return n
		default:
			return 0
		}
	}
	return doc.Rect{X: num("x"), Y: num("y"), Width: num("width"), Height: num("height")}
}

func arg(call goja.FunctionCall, i int) goja.Value {
	if i < len(call.Arguments) {
		return call.Arguments[i]
	}
	return goja.Undefined()
}

func (b *jobBuilder) rotate(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.Rotate(b.selector(arg(call, 0)), int(arg(call, 1).ToInteger())))
}

func (b *jobBuilder) deletePages(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.DeletePages(b.selector(arg(call, 0))))
}

func (b *jobBuilder) extractPages(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.ExtractPages(b.selector(arg(call, 0))))
}

func (b *jobBuilder) reorder(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.ReorderPages(b.intSlice(arg(call, 0))))
}

func (b *jobBuilder) insertBlank(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.InsertBlankPage(
		int(arg(call, 0).ToInteger()),
		arg(call, 1).ToFloat(),
		arg(call, 2).ToFloat(),
	))
}

func (b *jobBuilder) duplicate(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.DuplicatePage(int(arg(call, 0).ToInteger())))
}

func (b *jobBuilder) crop(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.CropPages(b.selector(arg(call, 0)), b.rect(arg(call, 1))))
}

var annotationKinds = map[string]doc.LayerKind{
	"highlight":     doc.LayerHighlight,
	"underline":     doc.LayerUnderline,
	"strikethrough": doc.LayerStrikethrough,
	"text":          doc.LayerText,
	"shape":         doc.LayerShape,
}

func (b *jobBuilder) annotate(call goja.FunctionCall) goja.Value {
	kind, ok := annotationKinds[arg(call, 1).String()]
	if !ok {
		panic(b.vm.ToValue(fmt.Sprintf("unknown annotation kind %q", arg(call, 1).String())))
	}
	return b.add(pipeline.AddAnnotation(
		b.selector(arg(call, 0)),
		kind,
		b.rect(arg(call, 2)),
		arg(call, 3).String(),
	))
}

func (b *jobBuilder) watermark(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.AddWatermark(
		b.selector(arg(call, 0)),
		arg(call, 1).String(),
		arg(call, 2).ToFloat(),
		arg(call, 3).ToFloat(),
	))
}

func (b *jobBuilder) pageNumbers(call goja.FunctionCall) goja.Value {
	format := ""
	if v := arg(call, 1); !goja.IsUndefined(v) {
		format = v.String()
	}
	return b.add(pipeline.AddPageNumbers(b.selector(arg(call, 0)), format))
}

func (b *jobBuilder) redact(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.Redact(b.selector(arg(call, 0)), b.rect(arg(call, 1))))
}

func (b *jobBuilder) ocr(call goja.FunctionCall) goja.Value {
	var langs []string
	for i := 1; i < len(call.Arguments); i++ {
		langs = append(langs, call.Arguments[i].String())
	}
	return b.add(pipeline.ApplyOCRLayer(b.selector(arg(call, 0)), langs...))
}

func (b *jobBuilder) cleanMetadata(call goja.FunctionCall) goja.Value {
	var keep []string
	for _, a := range call.Arguments {
		keep = append(keep, a.String())
	}
	return b.add(pipeline.CleanMetadata(keep...))
}

var permissionNames = map[string]security.Permissions{
	"print":        security.PermPrint,
	"modify":       security.PermModify,
	"copy":         security.PermCopy,
	"annotate":     security.PermAnnotate,
	"fillForms":    security.PermFillForms,
	"extract":      security.PermExtract,
	"assemble":     security.PermAssemble,
	"printHighRes": security.PermPrintHighRes,
	"all":          security.PermAll,
}

// perms folds permission name arguments into a bitset. No arguments means
// no restrictions.
func (b *jobBuilder) perms(call goja.FunctionCall, from int) security.Permissions {
	if from >= len(call.Arguments) {
		return security.PermAll
	}
	var p security.Permissions
	for i := from; i < len(call.Arguments); i++ {
		name := call.Arguments[i].String()
		bit, ok := permissionNames[name]
		if !ok {
			panic(b.vm.ToValue(fmt.Sprintf("unknown permission %q", name)))
		}
		p |= bit
	}
	return p
}

func (b *jobBuilder) permissions(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.SetPermissions(b.perms(call, 0)))
}

func (b *jobBuilder) encrypt(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.Encrypt(
		arg(call, 0).String(),
		arg(call, 1).String(),
		b.perms(call, 2),
	))
}

func (b *jobBuilder) decrypt(call goja.FunctionCall) goja.Value {
	return b.add(pipeline.Decrypt(arg(call, 0).String()))
}

package scripting

import (
	"context"
	"errors"
	"testing"
	"time"

	"pdfsuite/pipeline"
	"pdfsuite/security"
)

func build(t *testing.T, script string) []pipeline.Operation {
	t.Helper()
	ops, err := NewEngine().BuildOperations(context.Background(), script)
	if err != nil {
		t.Fatalf("BuildOperations() error = %v", err)
	}
	return ops
}

func TestScriptBuildsOperationsInOrder(t *testing.T) {
	ops := build(t, `
		job.deletePages([1, 3]);
		job.rotate("all", 90);
		job.watermark("all", "DRAFT", 0.3, 45);
	`)
	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(ops))
	}
	wantKinds := []pipeline.Kind{pipeline.KindDeletePages, pipeline.KindRotate, pipeline.KindAddWatermark}
	for i, want := range wantKinds {
		if ops[i].Kind != want {
			t.Errorf("ops[%d].Kind = %v, want %v", i, ops[i].Kind, want)
		}
	}
	if p := ops[1].Params.(pipeline.RotateParams); p.Angle != 90 {
		t.Errorf("rotate angle = %d, want 90", p.Angle)
	}
	del := ops[0]
	if del.Target.All || len(del.Target.Indices) != 2 {
		t.Errorf("delete target = %+v, want pages [1 3]", del.Target)
	}
}

func TestScriptSelectorsAndRects(t *testing.T) {
	ops := build(t, `
		job.crop([0], {x: 10, y: 20, width: 100, height: 200});
		job.redact("all", {x: 0, y: 0, width: 50, height: 50});
	`)
	crop := ops[0].Params.(pipeline.CropParams)
	if crop.Box.X != 10 || crop.Box.Y != 20 || crop.Box.Width != 100 || crop.Box.Height != 200 {
		t.Fatalf("crop box = %+v", crop.Box)
	}
	if !ops[1].Target.All {
		t.Fatalf("redact target = %+v, want all pages", ops[1].Target)
	}
}

func TestScriptSecurityOperations(t *testing.T) {
	ops := build(t, `
		job.encrypt("user-pw", "owner-pw", "print", "copy");
		job.permissions();
		job.decrypt("user-pw");
	`)
	enc := ops[0].Params.(pipeline.EncryptParams)
	if enc.UserPassword != "user-pw" || enc.OwnerPassword != "owner-pw" {
		t.Fatalf("encrypt params = %+v", enc)
	}
	if enc.Perms != security.PermPrint|security.PermCopy {
		t.Fatalf("encrypt perms = %v", enc.Perms)
	}
	if p := ops[1].Params.(pipeline.PermissionParams); p.Perms != security.PermAll {
		t.Fatalf("default perms = %v, want all", p.Perms)
	}
}

func TestScriptErrorsSurface(t *testing.T) {
	_, err := NewEngine().BuildOperations(context.Background(), `job.rotate(`)
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	_, err = NewEngine().BuildOperations(context.Background(), `job.annotate("all", "nope", {x:0,y:0,width:1,height:1}, "")`)
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
}

func TestScriptInterruptedByContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewEngine().BuildOperations(ctx, `while (true) {}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestScriptStateDoesNotLeakBetweenRuns(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.BuildOperations(context.Background(), `var marker = 1; job.rotate("all", 90);`); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := engine.BuildOperations(context.Background(), `job.rotate("all", marker);`)
	if !errors.Is(err, ErrScript) {
		t.Fatalf("second run error = %v, want ErrScript (marker should be undefined)", err)
	}
}

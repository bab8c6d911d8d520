package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

type stubTool struct {
	spec ToolSpec
}

func (s stubTool) Spec() ToolSpec { return s.spec }

func (s stubTool) Invoke(ctx context.Context, args map[string]interface{}) (Result, error) {
	return Result{Content: "ok"}, nil
}

func newSpec(name string) ToolSpec {
	return ToolSpec{
		Name:        name,
		Version:     "v1",
		Description: "stub",
		InputSchema: ObjectSchema(map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"limit": map[string]interface{}{"type": "integer"},
		}, "query"),
	}
}

func TestRegisterResolve(t *testing.T) {
	reg := NewRegistry("")
	tool := stubTool{spec: newSpec("query_database")}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := reg.Resolve("query_database")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Spec().Name != "query_database" {
		t.Fatalf("resolved wrong tool: %s", got.Spec().Name)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry("")
	tool := stubTool{spec: newSpec("visit_webpage")}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	reg := NewRegistry("")
	if _, err := reg.Resolve("nope"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	reg := NewRegistry("")
	for _, name := range []string{"visit_webpage", "get_transcript", "list_tables"} {
		if err := reg.Register(stubTool{spec: newSpec(name)}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	specs := reg.List()
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i-1].Name > specs[i].Name {
			t.Fatalf("specs not sorted: %s before %s", specs[i-1].Name, specs[i].Name)
		}
	}
}

func TestSignedRegistration(t *testing.T) {
	secret := "test-secret"
	reg := NewRegistry(secret)

	spec := newSpec("list_tables")
	checksum, err := ComputeChecksum(spec)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	spec.Checksum = checksum
	sig, err := SignSpec(spec, secret)
	if err != nil {
		t.Fatalf("SignSpec: %v", err)
	}
	spec.Signature = sig
	if err := reg.Register(stubTool{spec: spec}); err != nil {
		t.Fatalf("Register signed: %v", err)
	}

	forged := newSpec("get_sample_data")
	forged.Signature = "deadbeef"
	if err := reg.Register(stubTool{spec: forged}); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestValidateArgs(t *testing.T) {
	spec := newSpec("query_database")

	if err := ValidateArgs(spec, map[string]interface{}{"query": "SELECT 1"}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := ValidateArgs(spec, map[string]interface{}{"limit": float64(3)}); !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("missing required arg not rejected: %v", err)
	}
	if err := ValidateArgs(spec, map[string]interface{}{"query": "x", "bogus": 1}); !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("unknown arg not rejected: %v", err)
	}
	if err := ValidateArgs(spec, map[string]interface{}{"query": 42}); !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("type mismatch not rejected: %v", err)
	}
}

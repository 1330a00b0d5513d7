package registry

import (
	"context"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/model"
)

func echoDescriptor() Descriptor {
	return Descriptor{
		ID:   "echo",
		Type: "echo",
		Factory: func(model.Node) (Executable, error) {
			return executableFunc(func(_ context.Context, rc Context) Outcome {
				return Outcome{Outputs: rc.Inputs}
			}), nil
		},
	}
}

type executableFunc func(ctx context.Context, rc Context) Outcome

func (f executableFunc) Run(ctx context.Context, rc Context) Outcome { return f(ctx, rc) }

func TestNew_DuplicateType(t *testing.T) {
	if _, err := New(echoDescriptor(), echoDescriptor()); err == nil {
		t.Fatal("expected an error registering the same type twice")
	}
}

func TestNew_EmptyType(t *testing.T) {
	d := echoDescriptor()
	d.Type = ""
	if _, err := New(d); err == nil {
		t.Fatal("expected an error for an empty type")
	}
}

func TestNew_NoFactory(t *testing.T) {
	d := echoDescriptor()
	d.Factory = nil
	if _, err := New(d); err == nil {
		t.Fatal("expected an error for a missing factory")
	}
}

func TestRegistry_DescriptorAndCreateExecutable(t *testing.T) {
	reg, err := New(echoDescriptor())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if _, ok := reg.Descriptor("missing"); ok {
		t.Fatal("expected unknown type to be absent")
	}
	if _, ok := reg.Descriptor("echo"); !ok {
		t.Fatal("expected echo type to be present")
	}

	ex, ok, err := reg.CreateExecutable(model.Node{ID: "n1", Type: "echo"})
	if err != nil || !ok || ex == nil {
		t.Fatalf("CreateExecutable(echo) = %v, %v, %v", ex, ok, err)
	}

	_, ok, err = reg.CreateExecutable(model.Node{ID: "n2", Type: "missing"})
	if ok || err != nil {
		t.Fatalf("expected unknown type to report ok=false, err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestRegistry_ListDescriptors(t *testing.T) {
	reg, err := New(echoDescriptor())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if got := reg.ListDescriptors(); len(got) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(got))
	}
}

package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

func TestConditionalFork_True(t *testing.T) {
	n := conditionalForkNode{}
	out := n.Run(context.Background(), registry.Context{Inputs: map[string]param.EngineValue{
		"condition": {Raw: true},
		"value":     {Raw: "payload"},
	}})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if _, ok := out.Outputs["true"]; !ok {
		t.Fatal("expected the true output to be set")
	}
	if _, ok := out.Outputs["false"]; ok {
		t.Fatal("expected the false output to be absent")
	}
}

func TestConditionalFork_False(t *testing.T) {
	n := conditionalForkNode{}
	out := n.Run(context.Background(), registry.Context{Inputs: map[string]param.EngineValue{
		"condition": {Raw: false},
		"value":     {Raw: "payload"},
	}})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if _, ok := out.Outputs["false"]; !ok {
		t.Fatal("expected the false output to be set")
	}
	if _, ok := out.Outputs["true"]; ok {
		t.Fatal("expected the true output to be absent")
	}
}

func TestConditionalFork_NonBooleanCondition(t *testing.T) {
	n := conditionalForkNode{}
	out := n.Run(context.Background(), registry.Context{Inputs: map[string]param.EngineValue{
		"condition": {Raw: "not-a-bool"},
		"value":     {Raw: "payload"},
	}})
	if out.Err == nil {
		t.Fatal("expected a type error for a non-boolean condition")
	}
}

func TestConditionalFork_MissingValue(t *testing.T) {
	n := conditionalForkNode{}
	out := n.Run(context.Background(), registry.Context{Inputs: map[string]param.EngineValue{
		"condition": {Raw: true},
	}})
	if out.Err == nil {
		t.Fatal("expected an error when 'value' is missing")
	}
}

func TestConditionalJoin_RunCalledDirectlyReturnsError(t *testing.T) {
	n := conditionalJoinNode{}
	out := n.Run(context.Background(), registry.Context{})
	if out.Err == nil {
		t.Fatal("expected conditionalJoinNode.Run to report it should never be invoked directly")
	}
}

package validate

import (
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		registry.Descriptor{
			ID:   "source",
			Type: "source",
			Outputs: []model.OutputParam{
				{Name: "value", Type: model.TypeString},
			},
			Factory: func(model.Node) (registry.Executable, error) { return nil, nil },
		},
		registry.Descriptor{
			ID:   "sink",
			Type: "sink",
			Inputs: []model.InputParam{
				{Name: "value", Type: model.TypeString, Required: true},
			},
			Factory: func(model.Node) (registry.Executable, error) { return nil, nil },
		},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestValidate_Valid(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{
			{ID: "n1", Type: "source", Outputs: []model.OutputParam{{Name: "value", Type: model.TypeString}}},
			{ID: "n2", Type: "sink", Inputs: []model.InputParam{{Name: "value", Type: model.TypeString, Required: true}}},
		},
		Edges: []model.Edge{
			{SourceNodeID: "n1", SourceOutput: "value", TargetNodeID: "n2", TargetInput: "value"},
		},
	}

	if errs := Validate(wf, testRegistry(t)); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_UnregisteredNodeType(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{{ID: "n1", Type: "unknown"}},
	}

	errs := Validate(wf, testRegistry(t))
	if len(errs) != 1 || errs[0].Kind != InvalidConnection {
		t.Fatalf("expected one InvalidConnection error, got %v", errs)
	}
}

func TestValidate_RequiredInputNotBound(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{
			{ID: "n2", Type: "sink", Inputs: []model.InputParam{{Name: "value", Type: model.TypeString, Required: true}}},
		},
	}

	errs := Validate(wf, testRegistry(t))
	found := false
	for _, e := range errs {
		if e.Kind == InvalidConnection && e.NodeID == "n2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an unbound required input error, got %v", errs)
	}
}

func TestValidate_RequiredInputSatisfiedByLiteral(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{
			{
				ID:     "n2",
				Type:   "sink",
				Inputs: []model.InputParam{{Name: "value", Type: model.TypeString, Required: true}},
				Values: map[string]any{"value": "literal"},
			},
		},
	}

	if errs := Validate(wf, testRegistry(t)); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_DuplicateConnection(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{
			{ID: "n1", Type: "source", Outputs: []model.OutputParam{{Name: "value", Type: model.TypeString}}},
			{ID: "n1b", Type: "source", Outputs: []model.OutputParam{{Name: "value", Type: model.TypeString}}},
			{ID: "n2", Type: "sink", Inputs: []model.InputParam{{Name: "value", Type: model.TypeString, Required: true}}},
		},
		Edges: []model.Edge{
			{SourceNodeID: "n1", SourceOutput: "value", TargetNodeID: "n2", TargetInput: "value"},
			{SourceNodeID: "n1b", SourceOutput: "value", TargetNodeID: "n2", TargetInput: "value"},
		},
	}

	errs := Validate(wf, testRegistry(t))
	found := false
	for _, e := range errs {
		if e.Kind == DuplicateConnection {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a DuplicateConnection error, got %v", errs)
	}
}

func TestValidate_CycleDetected(t *testing.T) {
	wf := model.Workflow{
		Nodes: []model.Node{
			{ID: "n1", Type: "source", Outputs: []model.OutputParam{{Name: "value", Type: model.TypeString}}, Inputs: []model.InputParam{{Name: "value", Type: model.TypeString}}},
			{ID: "n2", Type: "source", Outputs: []model.OutputParam{{Name: "value", Type: model.TypeString}}, Inputs: []model.InputParam{{Name: "value", Type: model.TypeString}}},
		},
		Edges: []model.Edge{
			{SourceNodeID: "n1", SourceOutput: "value", TargetNodeID: "n2", TargetInput: "value"},
			{SourceNodeID: "n2", SourceOutput: "value", TargetNodeID: "n1", TargetInput: "value"},
		},
	}

	errs := Validate(wf, testRegistry(t))
	found := false
	for _, e := range errs {
		if e.Kind == CycleDetected {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a CycleDetected error, got %v", errs)
	}
}

func TestTypesCompatible(t *testing.T) {
	cases := []struct {
		out, in model.ParamType
		want    bool
	}{
		{model.TypeString, model.TypeString, true},
		{model.TypeString, model.TypeAny, true},
		{model.TypeAny, model.TypeString, true},
		{model.TypeString, model.TypeJSON, true},
		{model.TypeBinary, model.TypeJSON, false},
		{model.TypeString, model.TypeNumber, false},
		{model.TypeImage, model.TypeDocument, false},
	}
	for _, c := range cases {
		if got := typesCompatible(c.out, c.in); got != c.want {
			t.Errorf("typesCompatible(%s, %s) = %v, want %v", c.out, c.in, got, c.want)
		}
	}
}

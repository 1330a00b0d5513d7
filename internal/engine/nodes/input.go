package nodes

import (
	"context"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// literalNode emits a single constant value pinned on the node instance
// (model.Node.Values["value"]) on its one output port. It is the typed
// replacement for the untyped "input" passthrough node
// (internal/service/workflow/nodes/input.go) — one node type per
// ParamType instead of one generic blob.
type literalNode struct {
	kind  model.ParamType
	value any
}

func (n *literalNode) Run(_ context.Context, _ registry.Context) registry.Outcome {
	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"value": {Kind: n.kind, Raw: n.value},
	}}
}

func newLiteralFactory(kind model.ParamType) registry.Factory {
	return func(node model.Node) (registry.Executable, error) {
		return &literalNode{kind: kind, value: node.Values["value"]}, nil
	}
}

var numberInputDescriptor = registry.Descriptor{
	ID:          "number-input",
	Type:        "number-input",
	Name:        "Number",
	Description: "A constant numeric value.",
	Outputs:     []model.OutputParam{{Name: "value", Type: model.TypeNumber}},
	ComputeCost: 0,
	Factory:     newLiteralFactory(model.TypeNumber),
}

var stringInputDescriptor = registry.Descriptor{
	ID:          "string-input",
	Type:        "string-input",
	Name:        "String",
	Description: "A constant string value.",
	Outputs:     []model.OutputParam{{Name: "value", Type: model.TypeString}},
	ComputeCost: 0,
	Factory:     newLiteralFactory(model.TypeString),
}

var booleanInputDescriptor = registry.Descriptor{
	ID:          "boolean-input",
	Type:        "boolean-input",
	Name:        "Boolean",
	Description: "A constant boolean value.",
	Outputs:     []model.OutputParam{{Name: "value", Type: model.TypeBoolean}},
	ComputeCost: 0,
	Factory:     newLiteralFactory(model.TypeBoolean),
}

var jsonInputDescriptor = registry.Descriptor{
	ID:          "json-input",
	Type:        "json-input",
	Name:        "JSON",
	Description: "A constant JSON value.",
	Outputs:     []model.OutputParam{{Name: "value", Type: model.TypeJSON}},
	ComputeCost: 0,
	Factory:     newLiteralFactory(model.TypeJSON),
}

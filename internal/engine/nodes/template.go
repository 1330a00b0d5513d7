package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
	"github.com/rakunlabs/at-engine/internal/render"
)

// templateNode renders a Go text/template against its "data" input,
// adapted from templateNode
// (internal/service/workflow/nodes/template.go) unchanged in behavior.
type templateNode struct {
	tmplText string
}

func (n *templateNode) Run(_ context.Context, rc registry.Context) registry.Outcome {
	tmplCtx := raw(rc.Inputs, "data")

	result, err := render.ExecuteWithData(n.tmplText, tmplCtx)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("template: execute: %w", err)}
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"text": {Kind: model.TypeString, Raw: string(result)},
	}}
}

var templateDescriptor = registry.Descriptor{
	ID:          "template",
	Type:        "template",
	Name:        "Template",
	Description: "Renders a Go template against its input data.",
	Inputs:      []model.InputParam{{Name: "data", Type: model.TypeJSON, Required: false}},
	Outputs:     []model.OutputParam{{Name: "text", Type: model.TypeString}},
	ComputeCost: 1,
	Factory: func(node model.Node) (registry.Executable, error) {
		tmplText, _ := node.Values["template"].(string)
		if tmplText == "" {
			return nil, fmt.Errorf("template: 'template' is required")
		}
		return &templateNode{tmplText: tmplText}, nil
	},
}

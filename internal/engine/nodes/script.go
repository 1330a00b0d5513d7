package nodes

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// scriptNode executes arbitrary JavaScript via goja and returns its
// value on the "result" output, adapted from scriptNode
// (internal/service/workflow/nodes/script.go) to the typed single-result
// shape instead of its three-port selection routing — branching in this
// model is the scheduler's conditional_fork primitive, not a node
// convention.
type scriptNode struct {
	code string
}

func (n *scriptNode) Run(_ context.Context, rc registry.Context) registry.Outcome {
	vm := goja.New()

	for name, ev := range rc.Inputs {
		if err := vm.Set(name, engineValueToJS(ev)); err != nil {
			return registry.Outcome{Err: fmt.Errorf("script: bind %s: %w", name, err)}
		}
	}

	val, err := vm.RunString("(function(){" + n.code + "})()")
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("script: %w", err)}
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"result": {Kind: model.TypeJSON, Raw: val.Export()},
	}}
}

func engineValueToJS(ev param.EngineValue) any {
	if ev.Data != nil {
		return map[string]any{"data": ev.Data, "mimeType": ev.MimeType}
	}
	return ev.Raw
}

var scriptDescriptor = registry.Descriptor{
	ID:          "script",
	Type:        "script",
	Name:        "Script",
	Description: "Runs JavaScript code as a function body against its inputs; the returned value becomes the result.",
	Inputs:      []model.InputParam{{Name: "data", Type: model.TypeAny, Required: false}},
	Outputs:     []model.OutputParam{{Name: "result", Type: model.TypeJSON}},
	ComputeCost: 2,
	Factory: func(node model.Node) (registry.Executable, error) {
		code, _ := node.Values["code"].(string)
		if code == "" {
			return nil, fmt.Errorf("script: 'code' is required")
		}
		return &scriptNode{code: code}, nil
	},
}

package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// binaryMathNode implements the four arithmetic node types: addition,
// subtraction, multiplication, division.
type binaryMathNode struct {
	op func(a, b float64) (float64, error)
}

func (n *binaryMathNode) Run(_ context.Context, rc registry.Context) registry.Outcome {
	a, aOK := asFloat(raw(rc.Inputs, "a"))
	b, bOK := asFloat(raw(rc.Inputs, "b"))
	if !aOK || !bOK {
		return registry.Outcome{Err: fmt.Errorf("inputs 'a' and 'b' must be numbers")}
	}

	result, err := n.op(a, b)
	if err != nil {
		return registry.Outcome{Err: err}
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"result": {Kind: model.TypeNumber, Raw: result},
	}}
}

func mathInputs() []model.InputParam {
	return []model.InputParam{
		{Name: "a", Type: model.TypeNumber, Required: true},
		{Name: "b", Type: model.TypeNumber, Required: true},
	}
}

func mathOutputs() []model.OutputParam {
	return []model.OutputParam{{Name: "result", Type: model.TypeNumber}}
}

var additionDescriptor = registry.Descriptor{
	ID:          "addition",
	Type:        "addition",
	Name:        "Addition",
	Description: "a + b",
	Inputs:      mathInputs(),
	Outputs:     mathOutputs(),
	ComputeCost: 1,
	Factory: func(model.Node) (registry.Executable, error) {
		return &binaryMathNode{op: func(a, b float64) (float64, error) { return a + b, nil }}, nil
	},
}

var subtractionDescriptor = registry.Descriptor{
	ID:          "subtraction",
	Type:        "subtraction",
	Name:        "Subtraction",
	Description: "a - b",
	Inputs:      mathInputs(),
	Outputs:     mathOutputs(),
	ComputeCost: 1,
	Factory: func(model.Node) (registry.Executable, error) {
		return &binaryMathNode{op: func(a, b float64) (float64, error) { return a - b, nil }}, nil
	},
}

var multiplicationDescriptor = registry.Descriptor{
	ID:          "multiplication",
	Type:        "multiplication",
	Name:        "Multiplication",
	Description: "a * b",
	Inputs:      mathInputs(),
	Outputs:     mathOutputs(),
	ComputeCost: 1,
	Factory: func(model.Node) (registry.Executable, error) {
		return &binaryMathNode{op: func(a, b float64) (float64, error) { return a * b, nil }}, nil
	},
}

var divisionDescriptor = registry.Descriptor{
	ID:          "division",
	Type:        "division",
	Name:        "Division",
	Description: "a / b",
	Inputs:      mathInputs(),
	Outputs:     mathOutputs(),
	ComputeCost: 1,
	Factory: func(model.Node) (registry.Executable, error) {
		return &binaryMathNode{op: func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("Division by zero is not allowed")
			}
			return a / b, nil
		}}, nil
	},
}

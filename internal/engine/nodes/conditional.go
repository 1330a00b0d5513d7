package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// conditionalForkNode is the scheduler primitive:
// it emits exactly one of "true"/"false", and the scheduler treats the
// other, absent output as a skip signal for whatever it feeds. Unlike
// the JS-expression conditional node
// (internal/service/workflow/nodes/conditional.go), the condition here
// is already a typed boolean input — no expression language involved.
type conditionalForkNode struct{}

func (conditionalForkNode) Run(_ context.Context, rc registry.Context) registry.Outcome {
	cond, ok := asBool(raw(rc.Inputs, "condition"))
	if !ok {
		return registry.Outcome{Err: fmt.Errorf("conditional_fork: 'condition' must be a boolean")}
	}

	value, hasValue := rc.Inputs["value"]
	if !hasValue {
		return registry.Outcome{Err: fmt.Errorf("conditional_fork: 'value' is required")}
	}

	outputs := make(map[string]param.EngineValue, 1)
	if cond {
		outputs["true"] = value
	} else {
		outputs["false"] = value
	}
	return registry.Outcome{Outputs: outputs}
}

var conditionalForkDescriptor = registry.Descriptor{
	ID:          registry.ConditionalForkType,
	Type:        registry.ConditionalForkType,
	Name:        "Conditional Fork",
	Description: "Routes 'value' to either the true or false output based on 'condition'.",
	Inputs: []model.InputParam{
		{Name: "condition", Type: model.TypeBoolean, Required: true},
		{Name: "value", Type: model.TypeAny, Required: true},
	},
	Outputs: []model.OutputParam{
		{Name: "true", Type: model.TypeAny},
		{Name: "false", Type: model.TypeAny},
	},
	ComputeCost: 0,
	Factory: func(model.Node) (registry.Executable, error) {
		return conditionalForkNode{}, nil
	},
}

// conditionalJoinNode's Run is never invoked: the scheduler special-cases
// registry.ConditionalJoinType entirely (see scheduler.tryResolveJoin),
// since "ready when at least one of two inputs is bound" cannot be
// expressed by the generic readiness rule. The descriptor still needs a
// factory so the type validates as registered.
type conditionalJoinNode struct{}

func (conditionalJoinNode) Run(context.Context, registry.Context) registry.Outcome {
	return registry.Outcome{Err: fmt.Errorf("conditional_join: executed directly, should be scheduler-resolved")}
}

var conditionalJoinDescriptor = registry.Descriptor{
	ID:          registry.ConditionalJoinType,
	Type:        registry.ConditionalJoinType,
	Name:        "Conditional Join",
	Description: "Forwards whichever of true/false was bound by an upstream fork.",
	Inputs: []model.InputParam{
		{Name: "true", Type: model.TypeAny, Required: false},
		{Name: "false", Type: model.TypeAny, Required: false},
	},
	Outputs: []model.OutputParam{{Name: "value", Type: model.TypeAny}},
	ComputeCost: 0,
	Factory: func(model.Node) (registry.Executable, error) {
		return conditionalJoinNode{}, nil
	},
}

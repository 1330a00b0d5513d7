// Package registry implements the engine's Node Registry:
// maps a node-type identifier to its static descriptor and to a factory
// that builds an executable instance from a graph node.
//
// It swaps out the global nodeFactories map and package-level
// RegisterNodeType/GetNodeFactory functions (internal/service/workflow/node.go)
// for an explicit, non-global value built once at startup and threaded
// through the call chain instead of relying on ambient runtime state.
package registry

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
)

// Context is what an Executable's Run receives. It generalizes
// Noder.Run(ctx, *workflow.Registry, inputs)'s signature (internal/service/workflow/node.go)
// into a richer context shape.
type Context struct {
	NodeID         string
	WorkflowID     string
	OrganizationID string

	Inputs map[string]param.EngineValue

	Env            map[string]string
	GetSecret      func(name string) (string, bool)
	GetIntegration func(id string) (any, error)
	OnProgress     func(message string)

	ToolRegistry any

	HTTPRequest  any
	EmailMessage any
}

// Outcome is what an Executable's Run returns: either success with
// outputs, or a node-level error.
type Outcome struct {
	Outputs map[string]param.EngineValue
	Err     error
}

// Executable is a bound, runnable instance of a node type. It stands in
// for the Noder interface (Type/Validate/Run); validation moves to the
// Validator against the Descriptor, so Executable only runs.
type Executable interface {
	Run(ctx context.Context, rc Context) Outcome
}

// Factory builds an Executable from a graph node's literal Values.
type Factory func(node model.Node) (Executable, error)

// Descriptor is the static description of a node type.
type Descriptor struct {
	ID          string
	Type        string
	Name        string
	Description string
	Tags        []string
	Icon        string
	Inlinable   bool
	AsTool      bool
	ComputeCost int

	Inputs  []model.InputParam
	Outputs []model.OutputParam

	Factory Factory
}

// Registry is process-wide immutable state once built: it is never
// mutated after New returns.
type Registry struct {
	descriptors map[string]Descriptor
}

// New builds a Registry from a single authoritative list of descriptors,
// populated once at startup with no dynamic loading. Duplicate type
// identifiers are an error.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := r.register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(d Descriptor) error {
	if d.Type == "" {
		return fmt.Errorf("registry: descriptor has empty type")
	}
	if d.Factory == nil {
		return fmt.Errorf("registry: descriptor %s has no factory", d.Type)
	}
	if _, exists := r.descriptors[d.Type]; exists {
		return fmt.Errorf("registry: node type %q registered twice", d.Type)
	}
	r.descriptors[d.Type] = d
	return nil
}

// Descriptor returns the descriptor for a node type, if registered.
func (r *Registry) Descriptor(nodeType string) (Descriptor, bool) {
	d, ok := r.descriptors[nodeType]
	return d, ok
}

// CreateExecutable binds a graph node to a fresh implementation instance.
// Returns false if the node's type is not registered.
func (r *Registry) CreateExecutable(node model.Node) (Executable, bool, error) {
	d, ok := r.descriptors[node.Type]
	if !ok {
		return nil, false, nil
	}
	ex, err := d.Factory(node)
	if err != nil {
		return nil, true, fmt.Errorf("registry: create %s (%s): %w", node.ID, node.Type, err)
	}
	return ex, true, nil
}

// ListDescriptors returns every registered descriptor, for validation and
// for the external type catalog.
func (r *Registry) ListDescriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// ConditionalForkType and ConditionalJoinType are the two node type
// identifiers the scheduler treats as primitives.
const (
	ConditionalForkType = "conditional_fork"
	ConditionalJoinType = "conditional_join"
)

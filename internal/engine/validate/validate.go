// Package validate implements the engine's Validator:
// static checks on a workflow graph. Validation is pure — no I/O, no side
// effects, an idempotent function of the workflow.
//
// detectCycle swaps internal/service/workflow/engine.go's
// Kahn's-algorithm queue, which only reports "a cycle exists somewhere",
// for a dedicated DFS carrying a recursion stack, so the offending node
// id can be reported.
package validate

import (
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// ErrorKind is the closed set of validation failure categories.
type ErrorKind string

const (
	CycleDetected       ErrorKind = "CYCLE_DETECTED"
	TypeMismatch        ErrorKind = "TYPE_MISMATCH"
	InvalidConnection   ErrorKind = "INVALID_CONNECTION"
	DuplicateConnection ErrorKind = "DUPLICATE_CONNECTION"
)

// Error is one accumulated validation failure.
type Error struct {
	Kind    ErrorKind
	NodeID  string
	Message string
}

func (e Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validate runs every check, in order, accumulating all
// errors rather than stopping at the first.
func Validate(wf model.Workflow, reg *registry.Registry) []Error {
	var errs []Error

	nodeByID := make(map[string]model.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeByID[n.ID] = n
	}

	// 1. Every node type is registered.
	for _, n := range wf.Nodes {
		if _, ok := reg.Descriptor(n.Type); !ok {
			errs = append(errs, Error{Kind: InvalidConnection, NodeID: n.ID, Message: fmt.Sprintf("node type %q is not registered", n.Type)})
		}
	}

	// 2. Every edge references existing nodes and existing output/input names.
	// 3. Edge types are compatible.
	// 4. At most one incoming edge per non-repeated (targetNode, targetInput).
	targetCount := make(map[string]int)
	for _, e := range wf.Edges {
		src, srcOK := nodeByID[e.SourceNodeID]
		dst, dstOK := nodeByID[e.TargetNodeID]
		if !srcOK {
			errs = append(errs, Error{Kind: InvalidConnection, NodeID: e.SourceNodeID, Message: "edge references unknown source node"})
			continue
		}
		if !dstOK {
			errs = append(errs, Error{Kind: InvalidConnection, NodeID: e.TargetNodeID, Message: "edge references unknown target node"})
			continue
		}

		out, outOK := src.OutputByName(e.SourceOutput)
		if !outOK {
			errs = append(errs, Error{Kind: InvalidConnection, NodeID: src.ID, Message: fmt.Sprintf("unknown output %q", e.SourceOutput)})
			continue
		}
		in, inOK := dst.InputByName(e.TargetInput)
		if !inOK {
			errs = append(errs, Error{Kind: InvalidConnection, NodeID: dst.ID, Message: fmt.Sprintf("unknown input %q", e.TargetInput)})
			continue
		}

		if !typesCompatible(out.Type, in.Type) {
			errs = append(errs, Error{Kind: TypeMismatch, NodeID: dst.ID, Message: fmt.Sprintf("%s output %s (%s) incompatible with %s input %s (%s)", src.ID, out.Name, out.Type, dst.ID, in.Name, in.Type)})
		}

		key := dst.ID + "\x00" + in.Name
		targetCount[key]++
		if !in.Repeated && targetCount[key] > 1 {
			errs = append(errs, Error{Kind: DuplicateConnection, NodeID: dst.ID, Message: fmt.Sprintf("input %q bound by more than one edge", in.Name)})
		}
	}

	// 5. Every required input is either literally bound or targeted by an edge.
	boundByEdge := make(map[string]bool)
	for _, e := range wf.Edges {
		boundByEdge[e.TargetNodeID+"\x00"+e.TargetInput] = true
	}
	for _, n := range wf.Nodes {
		for _, in := range n.Inputs {
			if !in.Required {
				continue
			}
			_, hasLiteral := n.Values[in.Name]
			if hasLiteral {
				continue
			}
			if !boundByEdge[n.ID+"\x00"+in.Name] {
				errs = append(errs, Error{Kind: InvalidConnection, NodeID: n.ID, Message: fmt.Sprintf("required input %q is not bound", in.Name)})
			}
		}
	}

	// 6. Cycle detection via DFS + recursion stack.
	if cycleNode, ok := detectCycle(wf); ok {
		errs = append(errs, Error{Kind: CycleDetected, NodeID: cycleNode, Message: "workflow graph contains a cycle"})
	}

	return errs
}

// typesCompatible implements the compatibility relation:
// reflexive, plus any accepts anything, json accepts any non-binary
// scalar/array/object, no implicit numeric narrowing, and binary
// subtypes are mutually incompatible.
func typesCompatible(out, in model.ParamType) bool {
	if out == in {
		return true
	}
	if in == model.TypeAny || out == model.TypeAny {
		return true
	}
	if in == model.TypeJSON && !out.IsBinary() {
		return true
	}
	return false
}

// detectCycle runs DFS with a recursion (gray) set and a done (black) set.
// On finding a back-edge it returns the node the back-edge points to (the
// gray node already on the recursion stack) as the representative
// offending node.
func detectCycle(wf model.Workflow) (string, bool) {
	adj := make(map[string][]string, len(wf.Nodes))
	for _, e := range wf.Edges {
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(wf.Nodes))

	var stack []string
	var cycleNode string
	found := false

	var visit func(id string)
	visit = func(id string) {
		if found {
			return
		}
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			if found {
				return
			}
			switch color[next] {
			case white:
				visit(next)
			case gray:
				cycleNode = next
				found = true
				return
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range wf.Nodes {
		if found {
			break
		}
		if color[n.ID] == white {
			visit(n.ID)
		}
	}

	return cycleNode, found
}

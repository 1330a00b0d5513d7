// Package model holds the data types shared across the workflow execution
// engine: the graph definition (Workflow/Node/Edge), the typed parameter
// schema, and the records produced by a run (NodeExecution/WorkflowExecution).
//
// These types stand apart from service.Workflow/WorkflowNode/WorkflowEdge's
// JSON-blob model, using a richer, statically-typed node/parameter shape
// instead (see DESIGN.md).
package model

import "time"

// ParamType is the closed set of parameter types an edge or input/output
// can declare.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeBoolean  ParamType = "boolean"
	TypeJSON     ParamType = "json"
	TypeImage    ParamType = "image"
	TypeDocument ParamType = "document"
	TypeAudio    ParamType = "audio"
	TypeGeoJSON  ParamType = "geojson"
	TypeBinary   ParamType = "binary"
	TypeAny      ParamType = "any"
)

// IsBinary reports whether a ParamType is one of the binary representations
// that flow through the Object Store as a reference rather than inline.
func (t ParamType) IsBinary() bool {
	switch t {
	case TypeImage, TypeDocument, TypeAudio, TypeBinary:
		return true
	default:
		return false
	}
}

// TriggerType is the closed set of ways a workflow can be started.
type TriggerType string

const (
	TriggerManual      TriggerType = "manual"
	TriggerHTTPWebhook TriggerType = "http_webhook"
	TriggerHTTPRequest TriggerType = "http_request"
	TriggerEmail       TriggerType = "email_message"
	TriggerScheduled   TriggerType = "scheduled"
	TriggerQueue       TriggerType = "queue_message"
)

// InputParam declares one named input slot on a node.
type InputParam struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Default  any       `json:"default,omitempty"`
	Required bool      `json:"required"`
	Repeated bool      `json:"repeated"`
}

// OutputParam declares one named output slot on a node.
type OutputParam struct {
	Name string    `json:"name"`
	Type ParamType `json:"type"`
}

// Node is one vertex of a workflow graph.
type Node struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`

	// Inputs/Outputs are the node's declared ports. For most node types
	// these mirror the registry descriptor; they are carried on the node
	// itself so a node instance can pre-set a literal Value on an input
	// (a hidden/config value).
	Inputs  []InputParam  `json:"inputs"`
	Outputs []OutputParam `json:"outputs"`

	// Values holds literal defaults keyed by input name, pre-set on this
	// node instance (e.g. a number-input node's constant, or a config
	// value pinned in the visual editor).
	Values map[string]any `json:"values,omitempty"`
}

// InputByName returns the declared input with the given name, or false.
func (n Node) InputByName(name string) (InputParam, bool) {
	for _, in := range n.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputParam{}, false
}

// OutputByName returns the declared output with the given name, or false.
func (n Node) OutputByName(name string) (OutputParam, bool) {
	for _, out := range n.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputParam{}, false
}

// Edge connects one node's named output to another node's named input.
type Edge struct {
	SourceNodeID string `json:"sourceNodeId"`
	SourceOutput string `json:"sourceOutput"`
	TargetNodeID string `json:"targetNodeId"`
	TargetInput  string `json:"targetInput"`
}

// Workflow is the immutable-per-execution graph definition.
type Workflow struct {
	ID      string      `json:"id"`
	Handle  string      `json:"handle"`
	Name    string      `json:"name"`
	Trigger TriggerType `json:"trigger"`
	Nodes   []Node      `json:"nodes"`
	Edges   []Edge      `json:"edges"`
}

// NodeByID returns the node with the given id, or false.
func (w Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeStatus is the terminal/transient state of one node execution.
type NodeStatus string

const (
	NodeIdle      NodeStatus = "idle"
	NodeExecuting NodeStatus = "executing"
	NodeCompleted NodeStatus = "completed"
	NodeSkipped   NodeStatus = "skipped"
	NodeError     NodeStatus = "error"
)

// NodeExecution is the per-node record of one run.
type NodeExecution struct {
	NodeID  string         `json:"nodeId"`
	Status  NodeStatus     `json:"status"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
	Usage   int            `json:"usage"`
}

// ExecutionStatus is the overall state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionIdle      ExecutionStatus = "idle"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// Visibility controls who may read an execution's objects via the Object
// Store's access-control invariant.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// WorkflowExecution is the full record of one run, mutated in place by the
// scheduler and persisted once (plus optional progress snapshots) by the
// Execution Store.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflowId"`
	DeploymentID   string          `json:"deploymentId,omitempty"`
	OrganizationID string          `json:"organizationId"`
	Status         ExecutionStatus `json:"status"`
	NodeExecutions []NodeExecution `json:"nodeExecutions"`
	Error          string          `json:"error,omitempty"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	EndedAt        *time.Time      `json:"endedAt,omitempty"`
	Visibility     Visibility      `json:"visibility"`
}

// NodeExecutionByID returns a pointer to the NodeExecution for nodeID so
// callers can mutate it in place, or nil if none exists yet.
func (e *WorkflowExecution) NodeExecutionByID(nodeID string) *NodeExecution {
	for i := range e.NodeExecutions {
		if e.NodeExecutions[i].NodeID == nodeID {
			return &e.NodeExecutions[i]
		}
	}
	return nil
}

// ObjectReference identifies a blob stored in the Object Store.
type ObjectReference struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
}

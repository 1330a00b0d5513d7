// Package scheduler implements the engine's Scheduler: a data-driven,
// level-synchronous dispatcher with conditional skipping, given a
// validated graph and an initial input binding.
//
// It swaps out internal/service/workflow/engine.go's topological-order
// + goroutine-fanout Run/topoSort for a ready-queue sweep over data
// dependencies, while keeping its Noder/NodeResult split (renamed
// Executable/Outcome in package registry) and its single mutex guarding
// shared execution state.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/monitor"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// DefaultStepTimeout is the per-step wall-clock budget, 10 minutes by
// default.
const DefaultStepTimeout = 10 * time.Minute

// Stepper abstracts the durability seam around running one node step:
// the default implementation just calls fn; a host-specific
// implementation may make it a durable checkpoint. The scheduler never
// assumes which.
type Stepper interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// DirectStepper is the Stepper used when no step-capable host is present:
// it calls fn directly with no durability.
type DirectStepper struct{}

func (DirectStepper) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Store is the subset of the Object Store the Parameter System needs;
// threaded through so the scheduler can build param.EngineValue/WireValue
// without importing objectstore directly.
type Store = param.Store

// edgeKind classifies what one edge contributed once its source node
// reached a terminal state.
type edgeKind int

const (
	edgeUnresolved edgeKind = iota
	edgeValue
	edgeSkip
	edgeError
)

// Scheduler drives one workflow execution to completion.
type Scheduler struct {
	workflow *model.Workflow
	registry *registry.Registry
	store    Store
	sink     monitor.Sink
	stepper  Stepper

	organizationID string
	executionID    string
	sessionID      string
	stepTimeout    time.Duration

	mu            sync.Mutex
	outputs       map[string]map[string]param.WireValue
	status        map[string]model.NodeStatus
	nodeErrors    map[string]string
	executables   map[string]registry.Executable
	incomingEdges map[string][]model.Edge // by target node id
}

// New builds a Scheduler for one execution. wf must already be validated.
func New(wf *model.Workflow, reg *registry.Registry, store Store, sink monitor.Sink, stepper Stepper, organizationID, executionID, sessionID string) *Scheduler {
	if stepper == nil {
		stepper = DirectStepper{}
	}
	if sink == nil {
		sink = monitor.Noop{}
	}

	incoming := make(map[string][]model.Edge, len(wf.Nodes))
	for _, e := range wf.Edges {
		incoming[e.TargetNodeID] = append(incoming[e.TargetNodeID], e)
	}

	return &Scheduler{
		workflow:       wf,
		registry:       reg,
		store:          store,
		sink:           sink,
		stepper:        stepper,
		organizationID: organizationID,
		executionID:    executionID,
		sessionID:      sessionID,
		stepTimeout:    DefaultStepTimeout,
		outputs:        make(map[string]map[string]param.WireValue),
		status:         make(map[string]model.NodeStatus, len(wf.Nodes)),
		nodeErrors:     make(map[string]string),
		executables:    make(map[string]registry.Executable, len(wf.Nodes)),
		incomingEdges:  incoming,
	}
}

// WithStepTimeout overrides the default per-step budget.
func (s *Scheduler) WithStepTimeout(d time.Duration) *Scheduler {
	s.stepTimeout = d
	return s
}

// Run drives the execution to completion, mutating exec in place.
// ctx cancellation implements the cooperative abort flag.
func (s *Scheduler) Run(ctx context.Context, exec *model.WorkflowExecution) error {
	for _, n := range s.workflow.Nodes {
		s.status[n.ID] = model.NodeIdle
	}

	for {
		select {
		case <-ctx.Done():
			s.abort(exec)
			return nil
		default:
		}

		progressed := false
		for _, n := range s.workflow.Nodes {
			if s.status[n.ID] != model.NodeIdle {
				continue
			}

			select {
			case <-ctx.Done():
				s.abort(exec)
				return nil
			default:
			}

			resolved, err := s.tryResolve(ctx, exec, n)
			if err != nil {
				return err
			}
			if resolved {
				progressed = true
			}
		}

		if s.allTerminal() {
			break
		}
		if !progressed {
			s.stall(exec)
			break
		}
	}

	s.sink.SendUpdate(ctx, s.sessionID, *exec)
	return nil
}

func (s *Scheduler) allTerminal() bool {
	for _, n := range s.workflow.Nodes {
		if s.status[n.ID] == model.NodeIdle || s.status[n.ID] == model.NodeExecuting {
			return false
		}
	}
	return true
}

// abort marks every not-yet-started node skipped and records the
// "aborted" error, cancellation semantics.
func (s *Scheduler) abort(exec *model.WorkflowExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.workflow.Nodes {
		if s.status[n.ID] == model.NodeIdle {
			s.status[n.ID] = model.NodeSkipped
			s.recordNode(exec, n.ID, model.NodeSkipped, nil, "")
		}
	}
}

// stall handles the defensive case where the loop terminates because no
// progress was made in a full sweep: every validated workflow should
// reach a fixed point of {completed, skipped, error},
// but if dependency resolution cannot make further progress (should not
// happen post-validation), remaining idle nodes are marked error rather
// than left in limbo so the execution has a well-defined terminal state.
func (s *Scheduler) stall(exec *model.WorkflowExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.workflow.Nodes {
		if s.status[n.ID] == model.NodeIdle {
			s.status[n.ID] = model.NodeError
			s.nodeErrors[n.ID] = "stalled: could not resolve inputs"
			s.recordNode(exec, n.ID, model.NodeError, nil, s.nodeErrors[n.ID])
		}
	}
}

// tryResolve attempts one step for node n: readiness check, then either
// skip, error, or execute. Returns whether the node made progress this
// sweep.
func (s *Scheduler) tryResolve(ctx context.Context, exec *model.WorkflowExecution, n model.Node) (bool, error) {
	isJoin := n.Type == registry.ConditionalJoinType

	if isJoin {
		return s.tryResolveJoin(ctx, exec, n)
	}

	bindings, upstreamErr, skip, unresolved := s.resolveInputs(n)
	if unresolved {
		return false, nil
	}
	if upstreamErr != "" {
		s.finishError(ctx, exec, n.ID, upstreamErr)
		return true, nil
	}
	if skip {
		s.finishSkip(ctx, exec, n.ID)
		return true, nil
	}

	return true, s.execute(ctx, exec, n, bindings)
}

// tryResolveJoin implements the conditional-join primitive: ready once
// every upstream contributing edge is terminal, and it forwards
// whichever of true/false is present rather than requiring both (the
// thing that stops skip propagation).
func (s *Scheduler) tryResolveJoin(ctx context.Context, exec *model.WorkflowExecution, n model.Node) (bool, error) {
	var trueVal, falseVal *param.WireValue
	var errSource string
	sawValue := false

	for _, inputName := range []string{"true", "false"} {
		edges := s.edgesForInput(n.ID, inputName)
		if len(edges) == 0 {
			continue
		}
		for _, e := range edges {
			kind, wv := s.classifyEdge(e)
			switch kind {
			case edgeUnresolved:
				return false, nil
			case edgeError:
				if errSource == "" {
					errSource = e.SourceNodeID
				}
			case edgeValue:
				sawValue = true
				v := wv
				if inputName == "true" {
					trueVal = &v
				} else {
					falseVal = &v
				}
			case edgeSkip:
			}
		}
	}

	if errSource != "" {
		s.finishError(ctx, exec, n.ID, fmt.Sprintf("upstream '%s' failed", errSource))
		return true, nil
	}
	if !sawValue {
		s.finishSkip(ctx, exec, n.ID)
		return true, nil
	}

	chosen := trueVal
	if chosen == nil {
		chosen = falseVal
	}

	s.mu.Lock()
	s.outputs[n.ID] = map[string]param.WireValue{"value": *chosen}
	s.status[n.ID] = model.NodeCompleted
	s.recordNode(exec, n.ID, model.NodeCompleted, map[string]any{"value": chosen.Raw}, "")
	s.mu.Unlock()

	s.sink.SendUpdate(ctx, s.sessionID, *exec)
	return true, nil
}

func (s *Scheduler) edgesForInput(targetNodeID, inputName string) []model.Edge {
	var out []model.Edge
	for _, e := range s.incomingEdges[targetNodeID] {
		if e.TargetInput == inputName {
			out = append(out, e)
		}
	}
	return out
}

// classifyEdge reports what one edge contributes, once its source node
// has reached a terminal state.
func (s *Scheduler) classifyEdge(e model.Edge) (edgeKind, param.WireValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[e.SourceNodeID]
	switch st {
	case model.NodeCompleted:
		if wv, ok := s.outputs[e.SourceNodeID][e.SourceOutput]; ok {
			return edgeValue, wv
		}
		return edgeSkip, param.WireValue{}
	case model.NodeSkipped:
		return edgeSkip, param.WireValue{}
	case model.NodeError:
		return edgeError, param.WireValue{}
	default:
		return edgeUnresolved, param.WireValue{}
	}
}

// resolveInputs computes bindings for every declared input of n. Returns
// unresolved=true if any contributing upstream node has not yet reached
// a terminal state. Otherwise returns either an upstream error message,
// a skip decision (a required input had only skip-signaled edges), or
// the bound values.
func (s *Scheduler) resolveInputs(n model.Node) (bindings map[string]any, upstreamErr string, skip bool, unresolved bool) {
	bindings = make(map[string]any, len(n.Inputs))

	for _, in := range n.Inputs {
		edges := s.edgesForInput(n.ID, in.Name)

		if len(edges) == 0 {
			if def, ok := n.Values[in.Name]; ok {
				bindings[in.Name] = def
			} else if def, ok := defaultOf(in); ok {
				bindings[in.Name] = def
			}
			continue
		}

		var values []any
		anyError := false
		anyValue := false

		for _, e := range edges {
			kind, wv := s.classifyEdge(e)
			switch kind {
			case edgeUnresolved:
				return nil, "", false, true
			case edgeError:
				anyError = true
				if upstreamErr == "" {
					upstreamErr = fmt.Sprintf("upstream '%s' failed", e.SourceNodeID)
				}
			case edgeValue:
				anyValue = true
				values = append(values, wv)
			case edgeSkip:
			}
		}

		if anyError && in.Required {
			return nil, upstreamErr, false, false
		}
		if !anyValue {
			if in.Required {
				return nil, "", true, false
			}
			continue
		}

		if in.Repeated {
			bindings[in.Name] = values
		} else {
			bindings[in.Name] = values[0]
		}
	}

	return bindings, "", false, false
}

func defaultOf(in model.InputParam) (any, bool) {
	if in.Default != nil {
		return in.Default, true
	}
	return nil, false
}

func (s *Scheduler) finishSkip(ctx context.Context, exec *model.WorkflowExecution, nodeID string) {
	s.mu.Lock()
	s.status[nodeID] = model.NodeSkipped
	s.recordNode(exec, nodeID, model.NodeSkipped, nil, "")
	s.mu.Unlock()
	s.sink.SendUpdate(ctx, s.sessionID, *exec)
}

func (s *Scheduler) finishError(ctx context.Context, exec *model.WorkflowExecution, nodeID, message string) {
	s.mu.Lock()
	s.status[nodeID] = model.NodeError
	s.nodeErrors[nodeID] = message
	s.recordNode(exec, nodeID, model.NodeError, nil, message)
	s.mu.Unlock()
	s.sink.SendUpdate(ctx, s.sessionID, *exec)
}

// execute runs the six sub-steps for one node.
func (s *Scheduler) execute(ctx context.Context, exec *model.WorkflowExecution, n model.Node, bindings map[string]any) error {
	s.mu.Lock()
	s.status[n.ID] = model.NodeExecuting
	s.mu.Unlock()

	stepName := fmt.Sprintf("node:%s", n.ID)
	err := s.stepper.Do(ctx, stepName, func(stepCtx context.Context) error {
		return s.runNodeStep(stepCtx, exec, n, bindings)
	})
	if err != nil {
		return err
	}

	s.sink.SendUpdate(ctx, s.sessionID, *exec)
	return nil
}

func (s *Scheduler) runNodeStep(ctx context.Context, exec *model.WorkflowExecution, n model.Node, bindings map[string]any) error {
	start := time.Now()
	logi.Ctx(ctx).Info("scheduler: node started", "nodeId", n.ID, "type", n.Type)

	desc, ok := s.registry.Descriptor(n.Type)
	if !ok {
		s.finishErrorNoEmit(ctx, exec, n.ID, fmt.Sprintf("node type %q not registered", n.Type))
		return nil
	}

	ex, ok, err := s.cachedExecutable(n, desc)
	if err != nil {
		s.finishErrorNoEmit(ctx, exec, n.ID, err.Error())
		return nil
	}
	if !ok {
		s.finishErrorNoEmit(ctx, exec, n.ID, fmt.Sprintf("node type %q not registered", n.Type))
		return nil
	}

	engineInputs, err := s.toEngineValues(ctx, n, desc, bindings)
	if err != nil {
		s.finishErrorNoEmit(ctx, exec, n.ID, err.Error())
		return nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	outcome := s.runExecutable(stepCtx, ex, registry.Context{
		NodeID:         n.ID,
		WorkflowID:     s.workflow.ID,
		OrganizationID: s.organizationID,
		Inputs:         engineInputs,
	})

	if stepCtx.Err() != nil {
		s.finishErrorNoEmit(ctx, exec, n.ID, "timeout")
		return nil
	}

	if outcome.Err != nil {
		s.finishErrorNoEmit(ctx, exec, n.ID, outcome.Err.Error())
		return nil
	}

	wireOutputs, err := s.toWireValues(ctx, n, desc, outcome.Outputs)
	if err != nil {
		s.finishErrorNoEmit(ctx, exec, n.ID, err.Error())
		return nil
	}

	s.mu.Lock()
	s.outputs[n.ID] = wireOutputs
	s.status[n.ID] = model.NodeCompleted
	outMap := make(map[string]any, len(wireOutputs))
	for k, wv := range wireOutputs {
		if wv.Ref != nil {
			outMap[k] = *wv.Ref
		} else {
			outMap[k] = wv.Raw
		}
	}
	s.recordNode(exec, n.ID, model.NodeCompleted, outMap, "")
	s.mu.Unlock()

	logi.Ctx(ctx).Info("scheduler: node completed", "nodeId", n.ID, "type", n.Type, "duration", time.Since(start))
	return nil
}

// runExecutable isolates the node's execute call so a panic inside user
// node code is mapped to an error outcome rather than crashing the
// scheduler.
func (s *Scheduler) runExecutable(ctx context.Context, ex registry.Executable, rc registry.Context) (outcome registry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = registry.Outcome{Err: fmt.Errorf("node panicked: %v", r)}
		}
	}()
	return ex.Run(ctx, rc)
}

func (s *Scheduler) finishErrorNoEmit(ctx context.Context, exec *model.WorkflowExecution, nodeID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[nodeID] = model.NodeError
	s.nodeErrors[nodeID] = message
	s.recordNode(exec, nodeID, model.NodeError, nil, message)
	logi.Ctx(ctx).Warn("scheduler: node failed", "nodeId", nodeID, "error", message)
}

func (s *Scheduler) cachedExecutable(n model.Node, desc registry.Descriptor) (registry.Executable, bool, error) {
	s.mu.Lock()
	if ex, ok := s.executables[n.ID]; ok {
		s.mu.Unlock()
		return ex, true, nil
	}
	s.mu.Unlock()

	ex, err := desc.Factory(n)
	if err != nil {
		return nil, true, err
	}

	s.mu.Lock()
	s.executables[n.ID] = ex
	s.mu.Unlock()
	return ex, true, nil
}

func (s *Scheduler) toEngineValues(ctx context.Context, n model.Node, desc registry.Descriptor, bindings map[string]any) (map[string]param.EngineValue, error) {
	out := make(map[string]param.EngineValue, len(bindings))
	for name, raw := range bindings {
		in, ok := n.InputByName(name)
		if !ok {
			out[name] = param.EngineValue{Kind: model.TypeAny, Raw: raw}
			continue
		}

		if in.Repeated {
			list, _ := raw.([]any)
			converted := make([]any, 0, len(list))
			for _, item := range list {
				wv, ok := item.(param.WireValue)
				if !ok {
					converted = append(converted, item)
					continue
				}
				ev, err := param.FromWire(ctx, in.Type, wv, s.store)
				if err != nil {
					return nil, fmt.Errorf("node %s input %s: %w", n.ID, name, err)
				}
				converted = append(converted, engineValueToAny(ev))
			}
			out[name] = param.EngineValue{Kind: model.TypeJSON, Raw: converted}
			continue
		}

		wv, isWire := raw.(param.WireValue)
		if !isWire {
			out[name] = param.EngineValue{Kind: in.Type, Raw: raw}
			continue
		}

		ev, err := param.FromWire(ctx, in.Type, wv, s.store)
		if err != nil {
			return nil, fmt.Errorf("node %s input %s: %w", n.ID, name, err)
		}
		out[name] = ev
	}
	return out, nil
}

func engineValueToAny(ev param.EngineValue) any {
	if ev.Data != nil {
		return map[string]any{"data": ev.Data, "mimeType": ev.MimeType}
	}
	return ev.Raw
}

func (s *Scheduler) toWireValues(ctx context.Context, n model.Node, desc registry.Descriptor, outputs map[string]param.EngineValue) (map[string]param.WireValue, error) {
	out := make(map[string]param.WireValue, len(outputs))
	for name, ev := range outputs {
		o, ok := n.OutputByName(name)
		outType := ev.Kind
		if ok {
			outType = o.Type
		}

		wv, err := param.ToWire(ctx, outType, ev, s.store, s.organizationID, s.executionID)
		if err != nil {
			return nil, fmt.Errorf("node %s output %s: %w", n.ID, name, err)
		}
		out[name] = wv
	}
	return out, nil
}

// recordNode appends or updates the NodeExecution entry for nodeID. The
// caller must hold s.mu.
func (s *Scheduler) recordNode(exec *model.WorkflowExecution, nodeID string, status model.NodeStatus, outputs map[string]any, errMsg string) {
	usage := 0
	if status == model.NodeCompleted {
		if desc, ok := s.registry.Descriptor(s.nodeType(nodeID)); ok {
			usage = desc.ComputeCost
		}
	}

	if ne := exec.NodeExecutionByID(nodeID); ne != nil {
		ne.Status = status
		ne.Outputs = outputs
		ne.Error = errMsg
		ne.Usage = usage
		return
	}

	exec.NodeExecutions = append(exec.NodeExecutions, model.NodeExecution{
		NodeID:  nodeID,
		Status:  status,
		Outputs: outputs,
		Error:   errMsg,
		Usage:   usage,
	})
}

func (s *Scheduler) nodeType(nodeID string) string {
	n, ok := s.workflow.NodeByID(nodeID)
	if !ok {
		return ""
	}
	return n.Type
}

// TotalUsage sums the usage of every completed node, for the Credit
// Service's recordUsage call.
func TotalUsage(exec model.WorkflowExecution) int {
	total := 0
	for _, ne := range exec.NodeExecutions {
		total += ne.Usage
	}
	return total
}

// Completed reports whether every node ended in {completed, skipped} and
// none is in error.
func Completed(exec model.WorkflowExecution) bool {
	for _, ne := range exec.NodeExecutions {
		if ne.Status == model.NodeError {
			return false
		}
	}
	return true
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/nodes"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// fakeStore is a minimal in-memory Object Store for the binary round-trip
// test; it never touches disk or network.
type fakeStore struct {
	objects map[string][]byte
	next    int
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (s *fakeStore) WriteObject(_ context.Context, data []byte, mimeType, _, _ string) (model.ObjectReference, error) {
	s.next++
	id := "obj" + string(rune('0'+s.next))
	s.objects[id] = data
	return model.ObjectReference{ID: id, MimeType: mimeType}, nil
}

func (s *fakeStore) ReadObject(_ context.Context, ref model.ObjectReference) ([]byte, objectstore.ObjectMetadata, error) {
	data, ok := s.objects[ref.ID]
	if !ok {
		return nil, objectstore.ObjectMetadata{}, errors.New("not found")
	}
	return data, objectstore.ObjectMetadata{}, nil
}

func newTestRegistry(t *testing.T, extra ...registry.Descriptor) *registry.Registry {
	t.Helper()
	descs := append(append([]registry.Descriptor{}, nodes.All()...), extra...)
	reg, err := registry.New(descs...)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func literal(id string, kind model.ParamType, value any) model.Node {
	nodeType := map[model.ParamType]string{
		model.TypeNumber:  "number-input",
		model.TypeString:  "string-input",
		model.TypeBoolean: "boolean-input",
		model.TypeJSON:    "json-input",
	}[kind]
	return model.Node{
		ID:      id,
		Type:    nodeType,
		Outputs: []model.OutputParam{{Name: "value", Type: kind}},
		Values:  map[string]any{"value": value},
	}
}

func mathNode(id, nodeType string) model.Node {
	return model.Node{
		ID:      id,
		Type:    nodeType,
		Inputs:  []model.InputParam{{Name: "a", Type: model.TypeNumber, Required: true}, {Name: "b", Type: model.TypeNumber, Required: true}},
		Outputs: []model.OutputParam{{Name: "result", Type: model.TypeNumber}},
	}
}

func newExec(wf *model.Workflow) *model.WorkflowExecution {
	exec := &model.WorkflowExecution{ID: "exec1", WorkflowID: wf.ID, OrganizationID: "org1"}
	for _, n := range wf.Nodes {
		exec.NodeExecutions = append(exec.NodeExecutions, model.NodeExecution{NodeID: n.ID, Status: model.NodeIdle})
	}
	return exec
}

// TestScheduler_LinearMathChain covers (5 + 3) - 2 = 6 flowing through two
// chained arithmetic nodes fed by number-input literals.
func TestScheduler_LinearMathChain(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("five", model.TypeNumber, 5.0),
			literal("three", model.TypeNumber, 3.0),
			literal("two", model.TypeNumber, 2.0),
			mathNode("add", "addition"),
			mathNode("sub", "subtraction"),
		},
		Edges: []model.Edge{
			{SourceNodeID: "five", SourceOutput: "value", TargetNodeID: "add", TargetInput: "a"},
			{SourceNodeID: "three", SourceOutput: "value", TargetNodeID: "add", TargetInput: "b"},
			{SourceNodeID: "add", SourceOutput: "result", TargetNodeID: "sub", TargetInput: "a"},
			{SourceNodeID: "two", SourceOutput: "value", TargetNodeID: "sub", TargetInput: "b"},
		},
	}

	reg := newTestRegistry(t)
	sched := New(wf, reg, newFakeStore(), nil, nil, "org1", "exec1", "session1")
	exec := newExec(wf)

	if err := sched.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sub := exec.NodeExecutionByID("sub")
	if sub == nil || sub.Status != model.NodeCompleted {
		t.Fatalf("expected sub to complete, got %+v", sub)
	}
	if got := sub.Outputs["result"]; got != 6.0 {
		t.Fatalf("expected result 6, got %v", got)
	}
}

// TestScheduler_DivisionByZeroPropagatesUpstreamError checks that a
// division-by-zero error on one node marks every required downstream
// consumer as errored rather than stalling or silently skipping.
func TestScheduler_DivisionByZeroPropagatesUpstreamError(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("ten", model.TypeNumber, 10.0),
			literal("zero", model.TypeNumber, 0.0),
			literal("one", model.TypeNumber, 1.0),
			mathNode("div", "division"),
			mathNode("add", "addition"),
		},
		Edges: []model.Edge{
			{SourceNodeID: "ten", SourceOutput: "value", TargetNodeID: "div", TargetInput: "a"},
			{SourceNodeID: "zero", SourceOutput: "value", TargetNodeID: "div", TargetInput: "b"},
			{SourceNodeID: "div", SourceOutput: "result", TargetNodeID: "add", TargetInput: "a"},
			{SourceNodeID: "one", SourceOutput: "value", TargetNodeID: "add", TargetInput: "b"},
		},
	}

	reg := newTestRegistry(t)
	sched := New(wf, reg, newFakeStore(), nil, nil, "org1", "exec1", "session1")
	exec := newExec(wf)

	if err := sched.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	div := exec.NodeExecutionByID("div")
	if div == nil || div.Status != model.NodeError {
		t.Fatalf("expected div to error, got %+v", div)
	}
	add := exec.NodeExecutionByID("add")
	if add == nil || add.Status != model.NodeError {
		t.Fatalf("expected add to inherit the upstream error, got %+v", add)
	}
	if add.Error == "" {
		t.Fatal("expected add's error message to be set")
	}
}

// TestScheduler_ConditionalForkJoinSkipsOtherBranch checks that only the
// branch selected by the fork's condition executes, and the join forwards
// its value without waiting on the skipped branch.
func TestScheduler_ConditionalForkJoinSkipsOtherBranch(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("cond", model.TypeBoolean, true),
			literal("payload", model.TypeString, "picked"),
			{
				ID:   "fork",
				Type: registry.ConditionalForkType,
				Inputs: []model.InputParam{
					{Name: "condition", Type: model.TypeBoolean, Required: true},
					{Name: "value", Type: model.TypeAny, Required: true},
				},
				Outputs: []model.OutputParam{{Name: "true", Type: model.TypeAny}, {Name: "false", Type: model.TypeAny}},
			},
			{
				ID:   "join",
				Type: registry.ConditionalJoinType,
				Inputs: []model.InputParam{
					{Name: "true", Type: model.TypeAny},
					{Name: "false", Type: model.TypeAny},
				},
				Outputs: []model.OutputParam{{Name: "value", Type: model.TypeAny}},
			},
		},
		Edges: []model.Edge{
			{SourceNodeID: "cond", SourceOutput: "value", TargetNodeID: "fork", TargetInput: "condition"},
			{SourceNodeID: "payload", SourceOutput: "value", TargetNodeID: "fork", TargetInput: "value"},
			{SourceNodeID: "fork", SourceOutput: "true", TargetNodeID: "join", TargetInput: "true"},
			{SourceNodeID: "fork", SourceOutput: "false", TargetNodeID: "join", TargetInput: "false"},
		},
	}

	reg := newTestRegistry(t)
	sched := New(wf, reg, newFakeStore(), nil, nil, "org1", "exec1", "session1")
	exec := newExec(wf)

	if err := sched.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	join := exec.NodeExecutionByID("join")
	if join == nil || join.Status != model.NodeCompleted {
		t.Fatalf("expected join to complete, got %+v", join)
	}
	if got := join.Outputs["value"]; got != "picked" {
		t.Fatalf("expected join to forward the true branch's value, got %v", got)
	}
}

// binaryEchoDescriptors builds a source/sink pair used only to exercise
// the Object Store round trip: the source emits a binary payload, the
// sink reads it back and reports the byte count.
func binaryEchoDescriptors() (source, sink registry.Descriptor) {
	source = registry.Descriptor{
		Type:    "binary-source",
		Outputs: []model.OutputParam{{Name: "blob", Type: model.TypeBinary}},
		Factory: func(model.Node) (registry.Executable, error) {
			return executableFunc(func(context.Context, registry.Context) registry.Outcome {
				return registry.Outcome{Outputs: map[string]param.EngineValue{
					"blob": {Kind: model.TypeBinary, Data: []byte("hello binary world"), MimeType: "application/octet-stream"},
				}}
			}), nil
		},
	}
	sink = registry.Descriptor{
		Type:   "binary-sink",
		Inputs: []model.InputParam{{Name: "blob", Type: model.TypeBinary, Required: true}},
		Outputs: []model.OutputParam{
			{Name: "length", Type: model.TypeNumber},
		},
		Factory: func(model.Node) (registry.Executable, error) {
			return executableFunc(func(_ context.Context, rc registry.Context) registry.Outcome {
				in := rc.Inputs["blob"]
				return registry.Outcome{Outputs: map[string]param.EngineValue{
					"length": {Kind: model.TypeNumber, Raw: float64(len(in.Data))},
				}}
			}), nil
		},
	}
	return
}

type executableFunc func(ctx context.Context, rc registry.Context) registry.Outcome

func (f executableFunc) Run(ctx context.Context, rc registry.Context) registry.Outcome { return f(ctx, rc) }

// TestScheduler_BinaryValueRoundTripThroughStore checks that a binary
// output is written to the store once by the source node and read back
// by the sink node via its Object Store reference, never carried inline.
func TestScheduler_BinaryValueRoundTripThroughStore(t *testing.T) {
	source, sink := binaryEchoDescriptors()
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{ID: "src", Type: "binary-source", Outputs: source.Outputs},
			{ID: "dst", Type: "binary-sink", Inputs: sink.Inputs, Outputs: sink.Outputs},
		},
		Edges: []model.Edge{
			{SourceNodeID: "src", SourceOutput: "blob", TargetNodeID: "dst", TargetInput: "blob"},
		},
	}

	reg := newTestRegistry(t, source, sink)
	store := newFakeStore()
	sched := New(wf, reg, store, nil, nil, "org1", "exec1", "session1")
	exec := newExec(wf)

	if err := sched.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dst := exec.NodeExecutionByID("dst")
	if dst == nil || dst.Status != model.NodeCompleted {
		t.Fatalf("expected dst to complete, got %+v", dst)
	}
	if got := dst.Outputs["length"]; got != float64(len("hello binary world")) {
		t.Fatalf("expected length to match the round-tripped payload, got %v", got)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected exactly one object written to the store, got %d", len(store.objects))
	}
}

// TestScheduler_CancellationSkipsRemainingNodes checks that cancelling the
// context aborts the run by marking every not-yet-started node skipped
// rather than leaving them idle or erroring.
func TestScheduler_CancellationSkipsRemainingNodes(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("five", model.TypeNumber, 5.0),
			literal("three", model.TypeNumber, 3.0),
			mathNode("add", "addition"),
		},
		Edges: []model.Edge{
			{SourceNodeID: "five", SourceOutput: "value", TargetNodeID: "add", TargetInput: "a"},
			{SourceNodeID: "three", SourceOutput: "value", TargetNodeID: "add", TargetInput: "b"},
		},
	}

	reg := newTestRegistry(t)
	sched := New(wf, reg, newFakeStore(), nil, nil, "org1", "exec1", "session1")
	exec := newExec(wf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sched.Run(ctx, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, ne := range exec.NodeExecutions {
		if ne.Status != model.NodeSkipped {
			t.Fatalf("expected node %s to be skipped after cancellation, got %s", ne.NodeID, ne.Status)
		}
	}
}

// TestScheduler_StepTimeoutFailsTheNode exercises WithStepTimeout: a node
// whose execute call outlives the step budget is reported as a timeout
// error rather than hanging the scheduler.
func TestScheduler_StepTimeoutFailsTheNode(t *testing.T) {
	slow := registry.Descriptor{
		Type:    "slow",
		Outputs: []model.OutputParam{{Name: "value", Type: model.TypeNumber}},
		Factory: func(model.Node) (registry.Executable, error) {
			return executableFunc(func(ctx context.Context, _ registry.Context) registry.Outcome {
				<-ctx.Done()
				return registry.Outcome{Err: ctx.Err()}
			}), nil
		},
	}

	wf := &model.Workflow{
		ID:    "wf1",
		Nodes: []model.Node{{ID: "slow", Type: "slow", Outputs: slow.Outputs}},
	}

	reg := newTestRegistry(t, slow)
	sched := New(wf, reg, newFakeStore(), nil, nil, "org1", "exec1", "session1").WithStepTimeout(10 * time.Millisecond)
	exec := newExec(wf)

	if err := sched.Run(context.Background(), exec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	node := exec.NodeExecutionByID("slow")
	if node == nil || node.Status != model.NodeError || node.Error != "timeout" {
		t.Fatalf("expected a timeout error, got %+v", node)
	}
}

package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/credit"
	"github.com/rakunlabs/at-engine/internal/engine/execstore"
	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/nodes"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// fakeLedger is an in-memory credit.Ledger: organizations start with a
// fixed balance and debits subtract from it.
type fakeLedger struct {
	balances map[string]int64
}

func newFakeLedger(orgBalance int64) *fakeLedger {
	return &fakeLedger{balances: map[string]int64{"org1": orgBalance}}
}

func (l *fakeLedger) Balance(_ context.Context, organizationID string) (int64, error) {
	return l.balances[organizationID], nil
}

func (l *fakeLedger) Debit(_ context.Context, organizationID string, amount int64) error {
	l.balances[organizationID] -= amount
	return nil
}

// fakeRows/fakeBlobs back an execstore.Store entirely in memory.
type fakeRows struct{ rows map[string]execstore.Row }

func newFakeRows() *fakeRows { return &fakeRows{rows: map[string]execstore.Row{}} }

func (r *fakeRows) Upsert(_ context.Context, row execstore.Row) error {
	r.rows[row.ID] = row
	return nil
}

func (r *fakeRows) Get(_ context.Context, id, organizationID string) (*execstore.Row, error) {
	row, ok := r.rows[id]
	if !ok || row.OrganizationID != organizationID {
		return nil, nil
	}
	return &row, nil
}

type fakeBlobs struct{ execs map[string]model.WorkflowExecution }

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{execs: map[string]model.WorkflowExecution{}} }

func (b *fakeBlobs) WriteExecution(_ context.Context, exec model.WorkflowExecution) error {
	b.execs[exec.ID] = exec
	return nil
}

func (b *fakeBlobs) ReadExecution(_ context.Context, id string) (*model.WorkflowExecution, error) {
	exec, ok := b.execs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &exec, nil
}

// fakeStore is an in-memory Object Store for the binary round-trip test.
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

func newTestRuntime(t *testing.T, ledgerBalance int64) (*Runtime, *fakeLedger) {
	t.Helper()
	reg, err := registry.New(nodes.All()...)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	ledger := newFakeLedger(ledgerBalance)
	rt := New(reg, newFakeStore(), credit.New(ledger), execstore.New(newFakeRows(), newFakeBlobs()), nil, nil)
	return rt, ledger
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

// TestRun_LinearMathChainCompletes exercises the full façade (credit
// check, validation, scheduling, usage recording, persistence) end to end
// for a trivial two-node arithmetic chain.
func TestRun_LinearMathChainCompletes(t *testing.T) {
	rt, ledger := newTestRuntime(t, 100)

	wf := model.Workflow{
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

	exec, err := rt.Run(context.Background(), Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Fatalf("expected completed status, got %s (error=%s)", exec.Status, exec.Error)
	}
	add := exec.NodeExecutionByID("add")
	if add == nil || add.Outputs["result"] != 8.0 {
		t.Fatalf("expected add.result=8, got %+v", add)
	}
	if ledger.balances["org1"] != 99 {
		t.Fatalf("expected the addition node's compute cost debited, balance=%d", ledger.balances["org1"])
	}
}

// TestRun_DivisionByZeroMarksExecutionError checks that a node-level
// division-by-zero error propagates all the way to the overall execution
// status.
func TestRun_DivisionByZeroMarksExecutionError(t *testing.T) {
	rt, _ := newTestRuntime(t, 100)

	wf := model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("ten", model.TypeNumber, 10.0),
			literal("zero", model.TypeNumber, 0.0),
			mathNode("div", "division"),
		},
		Edges: []model.Edge{
			{SourceNodeID: "ten", SourceOutput: "value", TargetNodeID: "div", TargetInput: "a"},
			{SourceNodeID: "zero", SourceOutput: "value", TargetNodeID: "div", TargetInput: "b"},
		},
	}

	exec, err := rt.Run(context.Background(), Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionError {
		t.Fatalf("expected error status, got %s", exec.Status)
	}
	div := exec.NodeExecutionByID("div")
	if div == nil || div.Status != model.NodeError {
		t.Fatalf("expected div node to be in error, got %+v", div)
	}
}

// TestRun_ConditionalForkJoinCompletes checks the conditional primitives
// flow through the façade the same way they do against the scheduler
// directly.
func TestRun_ConditionalForkJoinCompletes(t *testing.T) {
	rt, _ := newTestRuntime(t, 100)

	wf := model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			literal("cond", model.TypeBoolean, false),
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

	exec, err := rt.Run(context.Background(), Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Fatalf("expected completed status, got %s (error=%s)", exec.Status, exec.Error)
	}
	join := exec.NodeExecutionByID("join")
	if join == nil || join.Outputs["value"] != "picked" {
		t.Fatalf("expected join to forward the false branch's value, got %+v", join)
	}
}

// TestRun_CycleRefusedBeforeAnyNodeExecutes checks that a cyclic graph is
// refused by validation before the scheduler ever runs a node.
func TestRun_CycleRefusedBeforeAnyNodeExecutes(t *testing.T) {
	rt, _ := newTestRuntime(t, 100)

	wf := model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			mathNode("a", "addition"),
			mathNode("b", "addition"),
		},
		Edges: []model.Edge{
			{SourceNodeID: "a", SourceOutput: "result", TargetNodeID: "b", TargetInput: "a"},
			{SourceNodeID: "b", SourceOutput: "result", TargetNodeID: "a", TargetInput: "a"},
		},
	}

	exec, err := rt.Run(context.Background(), Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionError {
		t.Fatalf("expected error status for a cyclic graph, got %s", exec.Status)
	}
	if !contains(exec.Error, "validation failed") || !contains(exec.Error, "CYCLE_DETECTED") {
		t.Fatalf("expected the error to report a validation failure with a detected cycle, got %q", exec.Error)
	}
	if len(exec.NodeExecutions) != 0 {
		t.Fatalf("expected no node to have executed, got %+v", exec.NodeExecutions)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// TestRun_CancellationMarksExecutionAborted checks that a context
// cancelled before scheduling still produces a well-formed, persisted
// error execution rather than a panic or hang.
func TestRun_CancellationMarksExecutionAborted(t *testing.T) {
	rt, _ := newTestRuntime(t, 100)

	wf := model.Workflow{
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

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := rt.Run(ctx, Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionError || exec.Error != "aborted" {
		t.Fatalf("expected an aborted error execution, got status=%s error=%q", exec.Status, exec.Error)
	}
	for _, ne := range exec.NodeExecutions {
		if ne.Status != model.NodeSkipped {
			t.Fatalf("expected node %s to be skipped, got %s", ne.NodeID, ne.Status)
		}
	}
}

// TestRun_InsufficientCreditsRefusesBeforeValidation checks the
// credit pre-flight check short-circuits before the scheduler or
// validator ever sees the workflow.
func TestRun_InsufficientCreditsRefusesBeforeValidation(t *testing.T) {
	rt, _ := newTestRuntime(t, 0)

	wf := model.Workflow{ID: "wf1", Nodes: []model.Node{mathNode("add", "addition")}}

	exec, err := rt.Run(context.Background(), Params{Workflow: wf, OrganizationID: "org1"}, "exec1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != model.ExecutionError || !contains(exec.Error, "insufficient credits") {
		t.Fatalf("expected an insufficient-credits refusal, got status=%s error=%q", exec.Status, exec.Error)
	}
}

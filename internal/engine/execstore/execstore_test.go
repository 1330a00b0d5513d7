package execstore

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/model"
)

type fakeRows struct {
	rows      map[string]Row
	upsertErr error
}

func newFakeRows() *fakeRows { return &fakeRows{rows: map[string]Row{}} }

func (r *fakeRows) Upsert(_ context.Context, row Row) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.rows[row.ID] = row
	return nil
}

func (r *fakeRows) Get(_ context.Context, id, organizationID string) (*Row, error) {
	row, ok := r.rows[id]
	if !ok || row.OrganizationID != organizationID {
		return nil, nil
	}
	return &row, nil
}

type fakeBlobs struct {
	execs      map[string]model.WorkflowExecution
	writeErr   error
	readErr    error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{execs: map[string]model.WorkflowExecution{}} }

func (b *fakeBlobs) WriteExecution(_ context.Context, exec model.WorkflowExecution) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.execs[exec.ID] = exec
	return nil
}

func (b *fakeBlobs) ReadExecution(_ context.Context, id string) (*model.WorkflowExecution, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	exec, ok := b.execs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &exec, nil
}

func TestSaveAndGet_RoundTrip(t *testing.T) {
	rows := newFakeRows()
	blobs := newFakeBlobs()
	store := New(rows, blobs)

	exec := model.WorkflowExecution{
		ID:             "exec1",
		WorkflowID:     "wf1",
		OrganizationID: "org1",
		Status:         model.ExecutionCompleted,
		Visibility:     model.VisibilityPrivate,
		NodeExecutions: []model.NodeExecution{{NodeID: "n1", Status: model.NodeCompleted}},
	}

	if err := store.Save(context.Background(), exec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(context.Background(), "exec1", "org1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Status != model.ExecutionCompleted || len(got.NodeExecutions) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGet_WrongOrganizationReturnsNil(t *testing.T) {
	rows := newFakeRows()
	blobs := newFakeBlobs()
	store := New(rows, blobs)

	exec := model.WorkflowExecution{ID: "exec1", OrganizationID: "org1", Status: model.ExecutionCompleted}
	if err := store.Save(context.Background(), exec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(context.Background(), "exec1", "org2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for mismatched organization, got %+v", got)
	}
}

func TestSave_BlobFailureRevertsRowToError(t *testing.T) {
	rows := newFakeRows()
	blobs := newFakeBlobs()
	blobs.writeErr = errors.New("object store unavailable")
	store := New(rows, blobs)

	exec := model.WorkflowExecution{ID: "exec1", OrganizationID: "org1", Status: model.ExecutionCompleted}
	err := store.Save(context.Background(), exec)
	if err == nil {
		t.Fatal("expected Save to return the blob write error")
	}

	row, ok := rows.rows["exec1"]
	if !ok {
		t.Fatal("expected the row to still exist after a reverted save")
	}
	if row.Status != model.ExecutionError || row.Error == "" {
		t.Fatalf("expected row reverted to error status with a message, got %+v", row)
	}
}

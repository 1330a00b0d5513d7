// Package execstore implements the engine's Execution Store: persists
// the final WorkflowExecution record as a row + blob split, row table
// owned by this package, blob delegated to the Object Store.
package execstore

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
)

// Row is the relational half of a WorkflowExecution; the
// nodeExecutions array lives in the Object Store blob instead.
type Row struct {
	ID             string
	WorkflowID     string
	DeploymentID   string
	OrganizationID string
	Status         model.ExecutionStatus
	Error          string
	StartedAt      *string
	EndedAt        *string
	Visibility     model.Visibility
	CreatedAt      string
	UpdatedAt      string
}

// RowStore is the relational collaborator: a minimal CRUD surface over
// the executions table.
type RowStore interface {
	Upsert(ctx context.Context, row Row) error
	Get(ctx context.Context, id, organizationID string) (*Row, error)
}

// BlobStore is the Object Store subset used for the nodeExecutions blob.
type BlobStore interface {
	WriteExecution(ctx context.Context, exec model.WorkflowExecution) error
	ReadExecution(ctx context.Context, id string) (*model.WorkflowExecution, error)
}

// Store is the engine-facing Execution Store.
type Store struct {
	rows  RowStore
	blobs BlobStore
}

// New wraps a RowStore and a BlobStore as a Store.
func New(rows RowStore, blobs BlobStore) *Store {
	return &Store{rows: rows, blobs: blobs}
}

// Save writes row then blob. If the blob write fails after the row
// succeeded, the row is reverted to status error carrying the write
// failure message rather than left pointing at a blob that does not
// exist.
func (s *Store) Save(ctx context.Context, exec model.WorkflowExecution) error {
	row := toRow(exec)

	if err := s.rows.Upsert(ctx, row); err != nil {
		return fmt.Errorf("execstore: save row %s: %w", exec.ID, err)
	}

	if err := s.blobs.WriteExecution(ctx, exec); err != nil {
		row.Status = model.ExecutionError
		row.Error = fmt.Sprintf("failed to persist execution detail: %v", err)
		if revertErr := s.rows.Upsert(ctx, row); revertErr != nil {
			return fmt.Errorf("execstore: save blob %s: %w (and revert failed: %v)", exec.ID, err, revertErr)
		}
		return fmt.Errorf("execstore: save blob %s: %w", exec.ID, err)
	}

	return nil
}

// Get returns the full record (row + nodeExecutions) filtered by
// organization.
func (s *Store) Get(ctx context.Context, id, organizationID string) (*model.WorkflowExecution, error) {
	row, err := s.rows.Get(ctx, id, organizationID)
	if err != nil {
		return nil, fmt.Errorf("execstore: get row %s: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}

	exec, err := s.blobs.ReadExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("execstore: get blob %s: %w", id, err)
	}

	exec.Status = row.Status
	exec.Error = row.Error
	exec.Visibility = row.Visibility
	return exec, nil
}

func toRow(exec model.WorkflowExecution) Row {
	row := Row{
		ID:             exec.ID,
		WorkflowID:     exec.WorkflowID,
		DeploymentID:   exec.DeploymentID,
		OrganizationID: exec.OrganizationID,
		Status:         exec.Status,
		Error:          exec.Error,
		Visibility:     exec.Visibility,
	}
	if exec.StartedAt != nil {
		s := exec.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		row.StartedAt = &s
	}
	if exec.EndedAt != nil {
		s := exec.EndedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		row.EndedAt = &s
	}
	return row
}

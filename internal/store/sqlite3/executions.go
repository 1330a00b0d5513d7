package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/at-engine/internal/engine/execstore"
	"github.com/rakunlabs/at-engine/internal/engine/model"
)

// ─── Execution row CRUD (execstore.RowStore, engine Execution Store C6) ───

type executionRow struct {
	ID             string         `db:"id"`
	WorkflowID     string         `db:"workflow_id"`
	DeploymentID   string         `db:"deployment_id"`
	OrganizationID string         `db:"organization_id"`
	Status         string         `db:"status"`
	Error          string         `db:"error"`
	StartedAt      sql.NullString `db:"started_at"`
	EndedAt        sql.NullString `db:"ended_at"`
	Visibility     string         `db:"visibility"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

// Upsert inserts the execution row, or updates it in place if it already
// exists (a run writes its row at finalize, and writes it again to mark it
// as an error when storing the node-execution blob fails).
func (s *SQLite) Upsert(ctx context.Context, row execstore.Row) error {
	now := time.Now().UTC().Format(time.RFC3339)

	existing, err := s.Get(ctx, row.ID, row.OrganizationID)
	if err != nil {
		return fmt.Errorf("check existing execution %q: %w", row.ID, err)
	}

	record := goqu.Record{
		"workflow_id":     row.WorkflowID,
		"deployment_id":   row.DeploymentID,
		"organization_id": row.OrganizationID,
		"status":          string(row.Status),
		"error":           row.Error,
		"started_at":      row.StartedAt,
		"ended_at":        row.EndedAt,
		"visibility":      string(row.Visibility),
		"updated_at":      now,
	}

	if existing == nil {
		record["id"] = row.ID
		record["created_at"] = now

		query, _, err := s.goqu.Insert(s.tableExecutions).Rows(record).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert execution query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("insert execution %q: %w", row.ID, err)
		}
		return nil
	}

	query, _, err := s.goqu.Update(s.tableExecutions).Set(record).
		Where(goqu.I("id").Eq(row.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update execution query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update execution %q: %w", row.ID, err)
	}
	return nil
}

// Get returns the execution row filtered by organization, per the
// engine's Execution Store "get(id, organizationId) returns the row
// filtered by organization" requirement.
func (s *SQLite) Get(ctx context.Context, id, organizationID string) (*execstore.Row, error) {
	query, _, err := s.goqu.From(s.tableExecutions).
		Select("id", "workflow_id", "deployment_id", "organization_id", "status", "error", "started_at", "ended_at", "visibility", "created_at", "updated_at").
		Where(
			goqu.I("id").Eq(id),
			goqu.I("organization_id").Eq(organizationID),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get execution query: %w", err)
	}

	var row executionRow
	err = s.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.WorkflowID, &row.DeploymentID, &row.OrganizationID,
		&row.Status, &row.Error, &row.StartedAt, &row.EndedAt,
		&row.Visibility, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %q: %w", id, err)
	}

	return executionRowToRecord(row), nil
}

func executionRowToRecord(row executionRow) *execstore.Row {
	rec := &execstore.Row{
		ID:             row.ID,
		WorkflowID:     row.WorkflowID,
		DeploymentID:   row.DeploymentID,
		OrganizationID: row.OrganizationID,
		Status:         model.ExecutionStatus(row.Status),
		Error:          row.Error,
		Visibility:     model.Visibility(row.Visibility),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.StartedAt.Valid {
		s := row.StartedAt.String
		rec.StartedAt = &s
	}
	if row.EndedAt.Valid {
		s := row.EndedAt.String
		rec.EndedAt = &s
	}
	return rec
}

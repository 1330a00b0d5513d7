package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/at-engine/internal/service"
)

// ─── Workflow Version CRUD ───

type workflowVersionRow struct {
	ID          string    `db:"id"`
	WorkflowID  string    `db:"workflow_id"`
	Version     int       `db:"version"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Graph       string    `db:"graph"`
	CreatedAt   time.Time `db:"created_at"`
	CreatedBy   string    `db:"created_by"`
}

func (p *Postgres) ListWorkflowVersions(ctx context.Context, workflowID string) ([]service.WorkflowVersion, error) {
	query, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select("id", "workflow_id", "version", "name", "description", "graph", "created_at", "created_by").
		Where(goqu.I("workflow_id").Eq(workflowID)).
		Order(goqu.I("version").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list workflow versions query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var result []service.WorkflowVersion
	for rows.Next() {
		var row workflowVersionRow
		if err := rows.Scan(&row.ID, &row.WorkflowID, &row.Version, &row.Name, &row.Description, &row.Graph, &row.CreatedAt, &row.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan workflow version row: %w", err)
		}

		v, err := workflowVersionRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	return result, rows.Err()
}

func (p *Postgres) GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*service.WorkflowVersion, error) {
	query, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select("id", "workflow_id", "version", "name", "description", "graph", "created_at", "created_by").
		Where(
			goqu.I("workflow_id").Eq(workflowID),
			goqu.I("version").Eq(version),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get workflow version query: %w", err)
	}

	var row workflowVersionRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.WorkflowID, &row.Version, &row.Name, &row.Description, &row.Graph, &row.CreatedAt, &row.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow version %d for %q: %w", version, workflowID, err)
	}

	return workflowVersionRowToRecord(row)
}

func (p *Postgres) CreateWorkflowVersion(ctx context.Context, v service.WorkflowVersion) (*service.WorkflowVersion, error) {
	graphJSON, err := json.Marshal(v.Graph)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow version graph: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()

	maxQuery, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.I("workflow_id").Eq(v.WorkflowID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build max version query: %w", err)
	}

	var maxVersion int
	if err := p.db.QueryRowContext(ctx, maxQuery).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("get max version for workflow %q: %w", v.WorkflowID, err)
	}
	nextVersion := maxVersion + 1

	query, _, err := p.goqu.Insert(p.tableWorkflowVersions).Rows(
		goqu.Record{
			"id":          id,
			"workflow_id": v.WorkflowID,
			"version":     nextVersion,
			"name":        v.Name,
			"description": v.Description,
			"graph":       graphJSON,
			"created_at":  now,
			"created_by":  v.CreatedBy,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert workflow version query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create workflow version for %q: %w", v.WorkflowID, err)
	}

	return &service.WorkflowVersion{
		ID:          id,
		WorkflowID:  v.WorkflowID,
		Version:     nextVersion,
		Name:        v.Name,
		Description: v.Description,
		Graph:       v.Graph,
		CreatedAt:   now.Format(time.RFC3339),
		CreatedBy:   v.CreatedBy,
	}, nil
}

func (p *Postgres) SetActiveVersion(ctx context.Context, workflowID string, version int) error {
	query, _, err := p.goqu.Update(p.tableWorkflows).Set(
		goqu.Record{
			"active_version": version,
			"updated_at":     time.Now().UTC(),
		},
	).Where(goqu.I("id").Eq(workflowID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build set active version query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("set active version for workflow %q: %w", workflowID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %q not found", workflowID)
	}

	return nil
}

func workflowVersionRowToRecord(row workflowVersionRow) (*service.WorkflowVersion, error) {
	var graph service.WorkflowGraph
	if err := json.Unmarshal([]byte(row.Graph), &graph); err != nil {
		return nil, fmt.Errorf("unmarshal workflow version graph for %q: %w", row.ID, err)
	}

	return &service.WorkflowVersion{
		ID:          row.ID,
		WorkflowID:  row.WorkflowID,
		Version:     row.Version,
		Name:        row.Name,
		Description: row.Description,
		Graph:       graph,
		CreatedAt:   row.CreatedAt.Format(time.RFC3339),
		CreatedBy:   row.CreatedBy,
	}, nil
}

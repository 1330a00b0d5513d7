package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
)

// ─── Organization / credit ledger (credit.Ledger, engine Credit Service C7) ───

// Balance returns the organization's remaining compute credits.
func (s *SQLite) Balance(ctx context.Context, organizationID string) (int64, error) {
	query, _, err := s.goqu.From(s.tableOrganizations).
		Select("compute_credits").
		Where(goqu.I("id").Eq(organizationID)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build balance query: %w", err)
	}

	var balance int64
	err = s.db.QueryRowContext(ctx, query).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("organization %q not found", organizationID)
	}
	if err != nil {
		return 0, fmt.Errorf("get balance for %q: %w", organizationID, err)
	}

	return balance, nil
}

// Debit subtracts amount from the organization's compute credits.
func (s *SQLite) Debit(ctx context.Context, organizationID string, amount int64) error {
	query, _, err := s.goqu.Update(s.tableOrganizations).
		Set(goqu.Record{
			"compute_credits": goqu.L("compute_credits - ?", amount),
			"updated_at":      time.Now().UTC().Format(time.RFC3339),
		}).
		Where(goqu.I("id").Eq(organizationID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build debit query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("debit %q: %w", organizationID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("organization %q not found", organizationID)
	}

	return nil
}

// CreateOrganization seeds a new organization with an initial credit
// balance, used by onboarding and test setup.
func (s *SQLite) CreateOrganization(ctx context.Context, handle string, initialCredits int64) (string, error) {
	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Insert(s.tableOrganizations).Rows(
		goqu.Record{
			"id":              id,
			"handle":          handle,
			"compute_credits": initialCredits,
			"created_at":      now,
			"updated_at":      now,
		},
	).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build create organization query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("create organization %q: %w", handle, err)
	}

	return id, nil
}

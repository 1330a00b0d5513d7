package memory

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/execstore"
)

// ─── Execution row CRUD (execstore.RowStore) ───

func (m *Memory) Upsert(_ context.Context, row execstore.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[row.ID] = row
	return nil
}

func (m *Memory) Get(_ context.Context, id, organizationID string) (*execstore.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.executions[id]
	if !ok || row.OrganizationID != organizationID {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

// ─── Organization / credit ledger (credit.Ledger) ───

func (m *Memory) Balance(_ context.Context, organizationID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.organizations[organizationID]
	if !ok {
		return 0, fmt.Errorf("organization %q not found", organizationID)
	}
	return org.ComputeCredits, nil
}

func (m *Memory) Debit(_ context.Context, organizationID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.organizations[organizationID]
	if !ok {
		return fmt.Errorf("organization %q not found", organizationID)
	}
	org.ComputeCredits -= amount
	return nil
}

// SeedOrganization creates or tops up an organization's credit balance.
// Intended for local-dev bootstrapping and tests, where there is no
// onboarding flow to create the row through.
func (m *Memory) SeedOrganization(_ context.Context, organizationID, handle string, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.organizations[organizationID]
	if !ok {
		m.organizations[organizationID] = &organizationRow{Handle: handle, ComputeCredits: credits}
		return
	}
	org.ComputeCredits = credits
}

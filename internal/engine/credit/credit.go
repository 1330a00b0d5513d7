// Package credit implements the engine's Credit Service:
// a pre-flight balance check and post-flight usage recording per
// organization, backed by the organizations table.
package credit

import (
	"context"
	"fmt"
)

// Ledger is the relational collaborator backing the Credit Service: the
// organizations(id, handle, computeCredits) table.
type Ledger interface {
	Balance(ctx context.Context, organizationID string) (int64, error)
	Debit(ctx context.Context, organizationID string, amount int64) error
}

// Service is the engine-facing Credit Service.
type Service struct {
	ledger Ledger
}

// New wraps a Ledger as a Service.
func New(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// HasEnoughCredits is consulted once at the start of a run. A positive
// balance is required; zero or negative refuses the run (see DESIGN.md
// for the exact comparison rationale).
func (s *Service) HasEnoughCredits(ctx context.Context, organizationID string) (bool, error) {
	balance, err := s.ledger.Balance(ctx, organizationID)
	if err != nil {
		return false, fmt.Errorf("credit: balance %s: %w", organizationID, err)
	}
	return balance > 0, nil
}

// RecordUsage is called once at the end of a run with the sum of usage
// across completed node executions.
func (s *Service) RecordUsage(ctx context.Context, organizationID string, totalCost int) error {
	if totalCost <= 0 {
		return nil
	}
	if err := s.ledger.Debit(ctx, organizationID, int64(totalCost)); err != nil {
		return fmt.Errorf("credit: record usage %s: %w", organizationID, err)
	}
	return nil
}

// Package monitor implements the engine's Monitoring Sink:
// a fire-and-forget channel to which incremental execution snapshots are
// pushed for interactive observers.
//
// It swaps a function-reference progress callback for an explicit sink
// interface with a single method, SendUpdate.
package monitor

import (
	"context"

	"github.com/rakunlabs/at-engine/internal/engine/model"
)

// Sink is a one-way channel to which WorkflowExecution snapshots are
// pushed. Implementations must never block the caller for long and must
// never return an error the scheduler has to handle — failures are
// logged internally and swallowed.
type Sink interface {
	SendUpdate(ctx context.Context, sessionID string, execution model.WorkflowExecution)
}

// Noop is the test default.
type Noop struct{}

func (Noop) SendUpdate(context.Context, string, model.WorkflowExecution) {}

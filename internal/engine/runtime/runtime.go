// Package runtime implements the engine's Runtime façade:
// orchestrates the registry, object store, credit service, execution
// store, scheduler, and monitor for one run(params, executionId) call —
// validation, scheduling, persistence, monitoring.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/at-engine/internal/engine/credit"
	"github.com/rakunlabs/at-engine/internal/engine/execstore"
	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/monitor"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
	"github.com/rakunlabs/at-engine/internal/engine/scheduler"
	"github.com/rakunlabs/at-engine/internal/engine/validate"
)

// Error taxonomy surfaced by the engine.
var (
	ErrValidationFailed    = errors.New("validation failed")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Params is the input to one run.
type Params struct {
	Workflow       model.Workflow
	OrganizationID string
	ComputeCredits int64
	UserID         string
	DeploymentID   string

	MonitorSessionID string

	HTTPRequest   map[string]any
	EmailMessage  map[string]any
	QueueMessage  map[string]any
	ScheduledTime *time.Time
}

// Runtime wires the registry, store, credit service, execution store,
// monitor, and scheduler together behind the single Run entry point.
type Runtime struct {
	registry *registry.Registry
	store    scheduler.Store
	credit   *credit.Service
	execs    *execstore.Store
	sink     monitor.Sink
	stepper  scheduler.Stepper
}

// New builds a Runtime. sink/stepper may be nil, defaulting to
// monitor.Noop and scheduler.DirectStepper respectively.
func New(reg *registry.Registry, store scheduler.Store, creditSvc *credit.Service, execs *execstore.Store, sink monitor.Sink, stepper scheduler.Stepper) *Runtime {
	if sink == nil {
		sink = monitor.Noop{}
	}
	if stepper == nil {
		stepper = scheduler.DirectStepper{}
	}
	return &Runtime{
		registry: reg,
		store:    store,
		credit:   creditSvc,
		execs:    execs,
		sink:     sink,
		stepper:  stepper,
	}
}

// Run drives steps 1-7 and returns the final record.
func (r *Runtime) Run(ctx context.Context, params Params, executionID string) (model.WorkflowExecution, error) {
	// 1. Init.
	now := time.Now().UTC()
	exec := model.WorkflowExecution{
		ID:             executionID,
		WorkflowID:     params.Workflow.ID,
		DeploymentID:   params.DeploymentID,
		OrganizationID: params.OrganizationID,
		Status:         model.ExecutionExecuting,
		NodeExecutions: nil,
		StartedAt:      &now,
		Visibility:     model.VisibilityPrivate,
	}

	logi.Ctx(ctx).Info("runtime: execution started", "executionId", executionID, "workflowId", params.Workflow.ID)

	// 2. Budget.
	ok, err := r.credit.HasEnoughCredits(ctx, params.OrganizationID)
	if err != nil {
		return r.finalizeError(ctx, exec, fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	if !ok {
		return r.finalizeError(ctx, exec, fmt.Errorf("%w", ErrInsufficientCredits))
	}

	// 3. Validate.
	if errs := validate.Validate(params.Workflow, r.registry); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return r.finalizeError(ctx, exec, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(msgs, "; ")))
	}

	// 4. Seed.
	seeded := seedTriggerInputs(params.Workflow, params)

	// 5. Schedule.
	sched := scheduler.New(&seeded, r.registry, r.store, r.sink, r.stepper, params.OrganizationID, executionID, params.MonitorSessionID)
	if err := sched.Run(ctx, &exec); err != nil {
		return r.finalizeError(ctx, exec, err)
	}

	if ctx.Err() != nil {
		exec.Status = model.ExecutionError
		exec.Error = "aborted"
	} else if scheduler.Completed(exec) {
		exec.Status = model.ExecutionCompleted
	} else {
		exec.Status = model.ExecutionError
	}

	// 6. Finalize.
	endedAt := time.Now().UTC()
	exec.EndedAt = &endedAt

	totalUsage := scheduler.TotalUsage(exec)
	if err := r.credit.RecordUsage(ctx, params.OrganizationID, totalUsage); err != nil {
		logi.Ctx(ctx).Error("runtime: record usage failed", "executionId", executionID, "error", err)
	}

	if err := r.execs.Save(ctx, exec); err != nil {
		logi.Ctx(ctx).Error("runtime: save execution failed", "executionId", executionID, "error", err)
	}

	r.sink.SendUpdate(ctx, params.MonitorSessionID, exec)

	logi.Ctx(ctx).Info("runtime: execution finished", "executionId", executionID, "status", exec.Status, "usage", totalUsage)
	return exec, nil
}

// finalizeError short-circuits a run before any node executes: validation
// and credit errors fail the run before any node runs.
func (r *Runtime) finalizeError(ctx context.Context, exec model.WorkflowExecution, cause error) (model.WorkflowExecution, error) {
	now := time.Now().UTC()
	exec.Status = model.ExecutionError
	exec.Error = cause.Error()
	exec.EndedAt = &now

	if err := r.execs.Save(ctx, exec); err != nil {
		logi.Ctx(ctx).Error("runtime: save failed execution failed", "executionId", exec.ID, "error", err)
	}
	r.sink.SendUpdate(ctx, "", exec)

	logi.Ctx(ctx).Warn("runtime: execution refused", "executionId", exec.ID, "error", cause)
	return exec, nil
}

// seedTriggerInputs injects the triggering payload into the literal
// Values of source nodes (nodes with no incoming edges). No synthetic
// trigger NodeExecution is created, inputs are seeded directly on the
// first real node(s).
func seedTriggerInputs(wf model.Workflow, params Params) model.Workflow {
	hasIncoming := make(map[string]bool, len(wf.Nodes))
	for _, e := range wf.Edges {
		hasIncoming[e.TargetNodeID] = true
	}

	payload := triggerPayload(params)
	if payload == nil {
		return wf
	}

	seeded := wf
	seeded.Nodes = make([]model.Node, len(wf.Nodes))
	copy(seeded.Nodes, wf.Nodes)

	for i, n := range seeded.Nodes {
		if hasIncoming[n.ID] {
			continue
		}
		values := make(map[string]any, len(n.Values)+1)
		for k, v := range n.Values {
			values[k] = v
		}
		for _, in := range n.Inputs {
			if _, already := values[in.Name]; already {
				continue
			}
			if v, ok := payload[in.Name]; ok {
				values[in.Name] = v
			}
		}
		n.Values = values
		seeded.Nodes[i] = n
	}

	return seeded
}

func triggerPayload(params Params) map[string]any {
	switch params.Workflow.Trigger {
	case model.TriggerHTTPWebhook, model.TriggerHTTPRequest:
		return params.HTTPRequest
	case model.TriggerEmail:
		return params.EmailMessage
	case model.TriggerQueue:
		return params.QueueMessage
	case model.TriggerScheduled:
		if params.ScheduledTime == nil {
			return nil
		}
		return map[string]any{"scheduledTime": params.ScheduledTime.UTC().Format(time.RFC3339)}
	default:
		return nil
	}
}

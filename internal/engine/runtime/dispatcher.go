package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/at-engine/internal/cluster"
	"github.com/rakunlabs/at-engine/internal/engine/model"
)

func newRunID() string {
	return ulid.Make().String()
}

// cronRunner is satisfied by hardloop's unexported cron job type, the same
// seam internal/service/workflow/scheduler.go's Scheduler uses to avoid
// naming it directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// ScheduleLookup returns every enabled scheduled trigger.
type ScheduleLookup func(ctx context.Context) ([]ScheduledTrigger, error)

// ScheduledTrigger is one cron-driven workflow trigger.
type ScheduledTrigger struct {
	ID             string
	WorkflowID     string
	OrganizationID string
	CronSpec       string
}

// WorkflowLookup resolves a workflow definition by ID for the dispatcher.
type WorkflowLookup func(ctx context.Context, id string) (model.Workflow, error)

// TriggerDispatcher drives scheduled runs via cron, adapted from the
// Scheduler in internal/service/workflow/scheduler.go: the
// leader-lock/reload/cron-rebuild shape is unchanged, generalized to call
// Runtime.Run instead of workflow.Engine.Run.
type TriggerDispatcher struct {
	runtime        *Runtime
	scheduleLookup ScheduleLookup
	workflowLookup WorkflowLookup
	cluster        *cluster.Cluster

	mu     sync.Mutex
	cron   cronRunner
	cancel context.CancelFunc
	ctx    context.Context
}

// NewTriggerDispatcher builds a dispatcher. cl may be nil (single instance,
// no leader election).
func NewTriggerDispatcher(rt *Runtime, scheduleLookup ScheduleLookup, workflowLookup WorkflowLookup, cl *cluster.Cluster) *TriggerDispatcher {
	return &TriggerDispatcher{
		runtime:        rt,
		scheduleLookup: scheduleLookup,
		workflowLookup: workflowLookup,
		cluster:        cl,
	}
}

// Start loads enabled scheduled triggers and starts the cron runner. Safe
// to call once during startup.
func (d *TriggerDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ctx = ctx

	if d.cluster != nil {
		go d.runLockLoop(ctx)
		return nil
	}
	return d.reload()
}

func (d *TriggerDispatcher) runLockLoop(ctx context.Context) {
	logger := logi.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		logger.Info("dispatcher: attempting to acquire leader lock")
		if err := d.cluster.LockScheduler(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dispatcher: failed to acquire lock, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		logger.Info("dispatcher: acquired leader lock, starting scheduled triggers")
		d.mu.Lock()
		if err := d.reload(); err != nil {
			logger.Error("dispatcher: failed to start cron runner", "error", err)
		}
		d.mu.Unlock()

		<-ctx.Done()
		logger.Info("dispatcher: releasing leader lock")
		d.Stop()
		d.cluster.UnlockScheduler() //nolint:errcheck
		return
	}
}

// Reload rebuilds the cron runner from the current set of enabled
// scheduled triggers. Call after creating, updating, or deleting one.
func (d *TriggerDispatcher) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reload()
}

// Stop stops the dispatcher. Safe to call multiple times.
func (d *TriggerDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *TriggerDispatcher) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
}

func (d *TriggerDispatcher) reload() error {
	d.stopLocked()

	if d.ctx == nil {
		return nil
	}

	triggers, err := d.scheduleLookup(d.ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load scheduled triggers: %w", err)
	}
	if len(triggers) == 0 {
		logi.Ctx(d.ctx).Info("dispatcher: no enabled scheduled triggers found")
		return nil
	}

	crons := make([]hardloop.Cron, 0, len(triggers))
	for _, t := range triggers {
		if t.CronSpec == "" {
			logi.Ctx(d.ctx).Warn("dispatcher: trigger has no cron spec, skipping", "triggerId", t.ID)
			continue
		}
		trigger := t
		crons = append(crons, hardloop.Cron{
			Name:  fmt.Sprintf("trigger-%s", trigger.ID),
			Specs: []string{trigger.CronSpec},
			Func:  d.makeCronFunc(trigger),
		})
	}
	if len(crons) == 0 {
		return nil
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("dispatcher: create cron runner: %w", err)
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.cancel = cancel
	d.cron = cronJob

	if err := cronJob.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("dispatcher: start cron runner: %w", err)
	}

	logi.Ctx(d.ctx).Info("dispatcher: started scheduled triggers", "count", len(crons))
	return nil
}

func (d *TriggerDispatcher) makeCronFunc(trigger ScheduledTrigger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logi.Ctx(ctx).Info("dispatcher: scheduled trigger fired", "triggerId", trigger.ID, "workflowId", trigger.WorkflowID)

		wf, err := d.workflowLookup(ctx, trigger.WorkflowID)
		if err != nil {
			logi.Ctx(ctx).Error("dispatcher: load workflow failed", "triggerId", trigger.ID, "error", err)
			return nil
		}

		now := time.Now().UTC()
		executionID := newRunID()
		_, err = d.runtime.Run(ctx, Params{
			Workflow:       wf,
			OrganizationID: trigger.OrganizationID,
			ScheduledTime:  &now,
		}, executionID)
		if err != nil {
			logi.Ctx(ctx).Error("dispatcher: run failed", "triggerId", trigger.ID, "executionId", executionID, "error", err)
		}
		return nil
	}
}

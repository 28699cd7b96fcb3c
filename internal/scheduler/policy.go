// Package scheduler implements the FIFO + data-locality dispatch policy
// of spec.md §4.3: selecting the next Ready task for a requesting
// worker, with safe concurrent access by multiple scheduler instances
// (each dispatch is one serializable storage transaction).
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

// Policy selects the next ready task for a requesting worker and commits
// the Ready->Running transition. One Policy may be shared by any number
// of scheduler processes pointed at the same store; correctness relies
// entirely on the store's transaction isolation, not on process-local
// locking.
type Policy struct {
	store storage.Store

	tracer      trace.Tracer
	dispatched  metric.Int64Counter
	noTaskFound metric.Int64Counter
}

// NewPolicy constructs a Policy over store, instrumented via meter
// (grounded on the span+counter idiom of
// services/orchestrator/dag_engine.go and cancellation.go).
func NewPolicy(store storage.Store, meter metric.Meter) *Policy {
	dispatched, _ := meter.Int64Counter("spider_tasks_dispatched_total")
	noTask, _ := meter.Int64Counter("spider_scheduler_empty_polls_total")
	return &Policy{
		store:       store,
		tracer:      otel.Tracer("spider-scheduler"),
		dispatched:  dispatched,
		noTaskFound: noTask,
	}
}

// GetNextTask implements the worker-facing get_next_task RPC (spec.md
// §4.3, §6). Returns (nil, nil, nil) when no task is currently
// dispatchable to this worker.
func (p *Policy) GetNextTask(ctx context.Context, workerID core.ID, workerAddress string, lastFailedTaskID *core.ID) (*core.ID, *core.ID, error) {
	ctx, span := p.tracer.Start(ctx, "scheduler.get_next_task", trace.WithAttributes(
		attribute.String("worker_id", workerID.String()),
		attribute.String("worker_address", workerAddress),
	))
	defer span.End()

	conn, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = conn.Rollback()
		}
	}()

	meta := p.store.Metadata()
	data := p.store.Data()

	if lastFailedTaskID != nil {
		if t, err := meta.GetTask(conn, *lastFailedTaskID); err == nil && t.State == core.TaskRunning {
			// Only reset the task if the reporting worker still holds it.
			if inst, ok, err := meta.GetTaskInstance(conn, *lastFailedTaskID); err == nil && ok && inst.WorkerID == workerID {
				if err := meta.SetTaskState(conn, *lastFailedTaskID, core.TaskRunning, core.TaskReady); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	ready, err := meta.ListReadyTasks(conn)
	if err != nil {
		return nil, nil, err
	}

	chosen, err := selectTask(ready, workerAddress, data, conn)
	if err != nil {
		return nil, nil, err
	}
	if chosen == nil {
		p.noTaskFound.Add(ctx, 1)
		committed = true
		return nil, nil, conn.Commit()
	}

	if err := meta.SetTaskState(conn, chosen.ID, core.TaskReady, core.TaskRunning); err != nil {
		return nil, nil, err
	}
	instance := core.TaskInstance{ID: core.NewID(), TaskID: chosen.ID, WorkerID: workerID, StartedAt: time.Now()}
	if err := meta.AddTaskInstance(conn, instance); err != nil {
		return nil, nil, err
	}
	committed = true
	if err := conn.Commit(); err != nil {
		return nil, nil, err
	}

	span.SetAttributes(attribute.String("task_id", chosen.ID.String()))
	p.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("worker_address", workerAddress)))

	taskID := chosen.ID
	instanceID := instance.ID
	return &taskID, &instanceID, nil
}

// selectTask runs the two-pass FIFO+locality selection over an
// already-ordered (by job submit time, then task id) list of ready
// tasks.
func selectTask(ready []storage.ReadyTask, workerAddress string, data storage.DataStore, conn storage.Connection) (*core.Task, error) {
	// First pass: every data input's locality is empty or contains the
	// worker address (soft locality satisfied; hard locality honored
	// implicitly since a matching address satisfies both).
	for i := range ready {
		t := &ready[i].Task
		ok, err := everyDataInputMatches(t, workerAddress, data, conn)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
	}
	// Second pass: exclude only tasks with a hard-locality data input
	// whose locality does not contain the worker address.
	for i := range ready {
		t := &ready[i].Task
		ok, err := noHardLocalityViolation(t, workerAddress, data, conn)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
	}
	return nil, nil
}

func everyDataInputMatches(t *core.Task, workerAddress string, data storage.DataStore, conn storage.Connection) (bool, error) {
	for _, in := range t.Inputs {
		if in.Kind != core.InputDataRef {
			continue
		}
		d, err := data.GetData(conn, in.DataID)
		if err != nil {
			return false, err
		}
		if len(d.Locality) == 0 {
			continue
		}
		if !d.MatchesWorker(workerAddress) {
			return false, nil
		}
	}
	return true, nil
}

func noHardLocalityViolation(t *core.Task, workerAddress string, data storage.DataStore, conn storage.Connection) (bool, error) {
	for _, in := range t.Inputs {
		if in.Kind != core.InputDataRef {
			continue
		}
		d, err := data.GetData(conn, in.DataID)
		if err != nil {
			return false, err
		}
		if d.HardLocality && len(d.Locality) > 0 && !d.MatchesWorker(workerAddress) {
			return false, nil
		}
	}
	return true, nil
}

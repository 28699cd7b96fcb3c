package client

import (
	"context"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/notify"
	"github.com/swarmgraph/spider/internal/storage"
)

// SubmitJob implements spec.md §4.2 submit_job: open a transaction,
// insert the job/tasks/edges (each task's initial Ready/Pending state is
// computed by the storage binding's AddJob per the "every input-edge
// resolved" rule), and commit. On success it publishes job.submitted
// best-effort (SPEC_FULL.md §4.2) and never fails the submission if the
// publish itself fails.
func SubmitJob(ctx context.Context, store storage.Store, nc *nats.Conn, clientID core.ID, graph *core.TaskGraph) (core.ID, error) {
	jobID := core.NewID()
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		return core.Nil, core.NewClientErr(core.ClientStorageErr, err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = conn.Rollback()
		}
	}()

	if err := store.Metadata().AddJob(conn, jobID, clientID, graph); err != nil {
		if se, ok := err.(*core.StorageErr); ok && se.Kind == core.StorageConstraintViolation {
			return core.Nil, core.NewClientErr(core.ClientDuplicateTask, err, "job %s already exists", jobID)
		}
		return core.Nil, core.NewClientErr(core.ClientStorageErr, err, "add job")
	}
	if err := conn.Commit(); err != nil {
		return core.Nil, core.NewClientErr(core.ClientStorageErr, err, "commit job submission")
	}
	committed = true

	notify.Publish(ctx, nc, notify.SubjectJobSubmitted, []byte(jobID.String()))
	return jobID, nil
}

// TaskStatus is the status of a single task within a JobStatus report.
type TaskStatus struct {
	TaskID     core.ID
	Function   string
	State      core.TaskState
	RetryCount int
}

// JobStatus reports every task in a job and its current state, for the
// CLI's status command.
func JobStatus(ctx context.Context, store storage.Store, jobID core.ID) ([]TaskStatus, error) {
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		return nil, core.NewClientErr(core.ClientStorageErr, err, "begin transaction")
	}
	defer func() { _ = conn.Rollback() }()

	tasks, err := store.Metadata().GetJobTasks(conn, jobID)
	if err != nil {
		if se, ok := err.(*core.StorageErr); ok && se.Kind == core.StorageKeyNotFound {
			return nil, core.NewClientErr(core.ClientTaskNotFound, err, "job %s not found", jobID)
		}
		return nil, core.NewClientErr(core.ClientStorageErr, err, "get job tasks")
	}
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskStatus{TaskID: t.ID, Function: t.FunctionName, State: t.State, RetryCount: t.RetryCount})
	}
	return out, nil
}

// RemoveJob implements spec.md §6's remove_job: cascade-remove a job and
// its tasks/instances/output data.
func RemoveJob(ctx context.Context, store storage.Store, jobID core.ID) error {
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		return core.NewClientErr(core.ClientStorageErr, err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = conn.Rollback()
		}
	}()
	if err := store.Metadata().RemoveJob(conn, jobID); err != nil {
		if se, ok := err.(*core.StorageErr); ok && se.Kind == core.StorageKeyNotFound {
			return core.NewClientErr(core.ClientTaskNotFound, err, "job %s not found", jobID)
		}
		return core.NewClientErr(core.ClientStorageErr, err, "remove job")
	}
	if err := conn.Commit(); err != nil {
		return core.NewClientErr(core.ClientStorageErr, err, "commit job removal")
	}
	committed = true
	return nil
}

// RecoveryReport is the ready/pending partition spec.md §4.4 emits to
// the caller; a job recovery operation never dispatches by itself.
type RecoveryReport struct {
	JobID        core.ID
	ReadyTasks   []core.ID
	PendingTasks []core.ID
	ComputedAt   time.Time
}

// recoveryPlanner is the narrow surface internal/recovery.Planner
// exposes, satisfied by *recovery.Planner; declared here (rather than
// importing internal/recovery directly) to keep this package's
// dependency direction pointing only at storage/core, matching how
// cmd/spider-scheduler wires the two packages together.
type recoveryPlanner = interface {
	ComputeGraph() error
	GetReadyTasks() []core.ID
	GetPendingTasks() []core.ID
	PriorState(id core.ID) core.TaskState
}

// NewRecoveryPlanner is set by cmd/spider-scheduler's wiring to
// recovery.NewPlanner, avoiding an import cycle while keeping Recover's
// signature storage-only.
var NewRecoveryPlanner func(jobID core.ID, conn storage.Connection, meta storage.MetadataStore, data storage.DataStore) recoveryPlanner

// Recover runs the job recovery planner on demand (spec.md §4.4: "driver
// calls recover(job_id)") and returns the ready/pending partition.
func Recover(ctx context.Context, store storage.Store, jobID core.ID) (RecoveryReport, error) {
	if NewRecoveryPlanner == nil {
		return RecoveryReport{}, fmt.Errorf("client.Recover: NewRecoveryPlanner not wired")
	}
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		return RecoveryReport{}, core.NewClientErr(core.ClientStorageErr, err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = conn.Rollback()
		}
	}()

	planner := NewRecoveryPlanner(jobID, conn, store.Metadata(), store.Data())
	if err := planner.ComputeGraph(); err != nil {
		return RecoveryReport{}, core.NewClientErr(core.ClientStorageErr, err, "compute recovery plan")
	}
	report := RecoveryReport{
		JobID:        jobID,
		ReadyTasks:   planner.GetReadyTasks(),
		PendingTasks: planner.GetPendingTasks(),
		ComputedAt:   time.Now(),
	}
	for _, id := range report.ReadyTasks {
		if err := store.Metadata().SetTaskState(conn, id, planner.PriorState(id), core.TaskReady); err != nil {
			return RecoveryReport{}, core.NewClientErr(core.ClientStorageErr, err, "set task %s ready", id)
		}
	}
	for _, id := range report.PendingTasks {
		if err := store.Metadata().SetTaskState(conn, id, planner.PriorState(id), core.TaskPending); err != nil {
			return RecoveryReport{}, core.NewClientErr(core.ClientStorageErr, err, "set task %s pending", id)
		}
	}
	if err := conn.Commit(); err != nil {
		return RecoveryReport{}, core.NewClientErr(core.ClientStorageErr, err, "commit recovery plan")
	}
	committed = true
	return report, nil
}

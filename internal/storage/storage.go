// Package storage defines the narrow capability the scheduling/worker
// core consumes from the persistent store (spec.md §6). The core never
// talks to a database directly; it only ever talks to these interfaces.
package storage

import (
	"context"
	"time"

	"github.com/swarmgraph/spider/internal/core"
)

// Connection is a transaction handle. Isolation is at least
// read-committed, with conflict detection sufficient for scheduler
// dispatch (spec.md §6).
type Connection interface {
	Commit() error
	Rollback() error
}

// ReadyTask is a Ready-state task joined with its owning job's creation
// timestamp, as read by the scheduler's selection query.
type ReadyTask struct {
	Task       core.Task
	JobID      core.ID
	SubmitTime time.Time
}

// MetadataStore is the transactional metadata capability: jobs, tasks,
// task-instances, drivers.
type MetadataStore interface {
	AddDriver(conn Connection, driver core.Driver) error
	UpdateHeartbeat(conn Connection, driverID core.ID) error
	GetDriver(conn Connection, driverID core.ID) (core.Driver, error)
	ListDrivers(conn Connection) ([]core.Driver, error)

	AddJob(conn Connection, jobID, clientID core.ID, graph *core.TaskGraph) error
	RemoveJob(conn Connection, jobID core.ID) error
	GetJobTasks(conn Connection, jobID core.ID) ([]*core.Task, error)
	JobSubmitTime(conn Connection, jobID core.ID) (time.Time, error)

	GetTask(conn Connection, taskID core.ID) (core.Task, error)
	// SetTaskState transitions taskID to state, guarded by a
	// current-state precondition (spec.md §6: "Guarded by current-state
	// precondition"): it fails with StorageConstraintViolation if the
	// task's current state is not expected, so that two callers racing
	// to apply different transitions from the same observed prior state
	// cannot both succeed.
	SetTaskState(conn Connection, taskID core.ID, expected, state core.TaskState) error
	// ListReadyTasks returns every task currently in TaskReady state,
	// ordered ascending by owning-job submit time then task id, matching
	// the scheduler's selection order (spec.md §4.3 step 1).
	ListReadyTasks(conn Connection) ([]ReadyTask, error)

	// TaskFinish transitions instance's task to Succeeded and writes
	// outputs. Rejects (returns a StorageErr) if instance does not match
	// the task's current live instance.
	TaskFinish(conn Connection, instance core.TaskInstance, outputs []core.TaskOutput) error
	// TaskFail transitions instance's task to Failed, or back to Ready if
	// retries remain under the task's MaxRetries.
	TaskFail(conn Connection, instance core.TaskInstance, message string) error

	AddTaskInstance(conn Connection, instance core.TaskInstance) error
	GetTaskInstance(conn Connection, taskID core.ID) (core.TaskInstance, bool, error)
	// ListRunningInstances returns every TaskInstance currently attached
	// to a Running task, for the heartbeat dead-worker sweep.
	ListRunningInstances(conn Connection) ([]core.TaskInstance, error)
}

// DataStore is the transactional blob capability.
type DataStore interface {
	AddDriverData(conn Connection, driverID core.ID, data core.Data) error
	GetData(conn Connection, dataID core.ID) (core.Data, error)
	// RemoveData refuses (StorageConstraintViolation) if the data is
	// still referenced by a live input of a non-terminal task.
	RemoveData(conn Connection, dataID core.ID) error
	SetDataOutput(conn Connection, dataID core.ID, ownerTaskID core.ID) error
}

// Store is the full storage facade: begin transactions, and reach the
// metadata/data capabilities through them.
type Store interface {
	BeginTransaction(ctx context.Context) (Connection, error)
	Metadata() MetadataStore
	Data() DataStore
	Close() error
}

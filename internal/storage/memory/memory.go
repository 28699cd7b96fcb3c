// Package memory is an in-process reference binding of the storage
// capability (internal/storage), backed by plain maps under a mutex. It
// exists for tests and single-process demos; internal/storage/boltstore
// is the durable production binding.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

type taskRecord struct {
	task  core.Task
	jobID core.ID
}

type jobRecord struct {
	id         core.ID
	clientID   core.ID
	submitTime time.Time
	taskIDs    []core.ID
}

// Store is a single shared in-memory database. BeginTransaction acquires
// the store's lock for the lifetime of the connection, matching the
// "single serializable transaction" guarantee spec.md §5 requires of
// scheduler dispatch; it releases it on Commit or Rollback.
type Store struct {
	mu sync.Mutex

	drivers   map[core.ID]core.Driver
	jobs      map[core.ID]*jobRecord
	tasks     map[core.ID]*taskRecord
	instances map[core.ID]core.TaskInstance // keyed by task id: the live instance
	data      map[core.ID]core.Data
}

func New() *Store {
	return &Store{
		drivers:   make(map[core.ID]core.Driver),
		jobs:      make(map[core.ID]*jobRecord),
		tasks:     make(map[core.ID]*taskRecord),
		instances: make(map[core.ID]core.TaskInstance),
		data:      make(map[core.ID]core.Data),
	}
}

// conn is the Connection handle returned by BeginTransaction. It holds
// the store's lock until Commit/Rollback releases it; Rollback discards
// no buffered state because all mutations in this binding are applied
// directly (the lock alone gives the needed isolation for single-process
// use).
type conn struct {
	store *Store
	done  bool
}

func (c *conn) Commit() error {
	if c.done {
		return nil
	}
	c.done = true
	c.store.mu.Unlock()
	return nil
}

func (c *conn) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true
	c.store.mu.Unlock()
	return nil
}

func (s *Store) BeginTransaction(ctx context.Context) (storage.Connection, error) {
	s.mu.Lock()
	return &conn{store: s}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Metadata() storage.MetadataStore { return metadataStore{s} }
func (s *Store) Data() storage.DataStore         { return dataStore{s} }

type metadataStore struct{ s *Store }

func (m metadataStore) AddDriver(c storage.Connection, driver core.Driver) error {
	if driver.Heartbeat.IsZero() {
		driver.Heartbeat = time.Now()
	}
	m.s.drivers[driver.ID] = driver
	return nil
}

func (m metadataStore) UpdateHeartbeat(c storage.Connection, driverID core.ID) error {
	d, ok := m.s.drivers[driverID]
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "UpdateHeartbeat", "driver %s not found", driverID)
	}
	d.Heartbeat = time.Now()
	m.s.drivers[driverID] = d
	return nil
}

func (m metadataStore) GetDriver(c storage.Connection, driverID core.ID) (core.Driver, error) {
	d, ok := m.s.drivers[driverID]
	if !ok {
		return core.Driver{}, core.NewStorageErr(core.StorageKeyNotFound, "GetDriver", "driver %s not found", driverID)
	}
	return d, nil
}

func (m metadataStore) ListDrivers(c storage.Connection) ([]core.Driver, error) {
	out := make([]core.Driver, 0, len(m.s.drivers))
	for _, d := range m.s.drivers {
		out = append(out, d)
	}
	return out, nil
}

func (m metadataStore) AddJob(c storage.Connection, jobID, clientID core.ID, graph *core.TaskGraph) error {
	if _, exists := m.s.jobs[jobID]; exists {
		return core.NewStorageErr(core.StorageConstraintViolation, "AddJob", "job %s already exists", jobID)
	}
	jr := &jobRecord{id: jobID, clientID: clientID, submitTime: time.Now()}
	tasks := graph.Tasks()
	for _, t := range tasks {
		jr.taskIDs = append(jr.taskIDs, t.ID)
	}
	m.s.jobs[jobID] = jr

	succeeded := func(id core.ID) bool {
		rec, ok := m.s.tasks[id]
		return ok && rec.task.State == core.TaskSucceeded
	}
	for _, t := range tasks {
		state := core.TaskPending
		if core.TaskInputsResolved(t, succeeded) {
			state = core.TaskReady
		}
		stored := *t
		stored.State = state
		m.s.tasks[t.ID] = &taskRecord{task: stored, jobID: jobID}
	}
	return nil
}

func (m metadataStore) RemoveJob(c storage.Connection, jobID core.ID) error {
	jr, ok := m.s.jobs[jobID]
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "RemoveJob", "job %s not found", jobID)
	}
	for _, tid := range jr.taskIDs {
		delete(m.s.tasks, tid)
		delete(m.s.instances, tid)
	}
	delete(m.s.jobs, jobID)
	return nil
}

func (m metadataStore) GetJobTasks(c storage.Connection, jobID core.ID) ([]*core.Task, error) {
	jr, ok := m.s.jobs[jobID]
	if !ok {
		return nil, core.NewStorageErr(core.StorageKeyNotFound, "GetJobTasks", "job %s not found", jobID)
	}
	out := make([]*core.Task, 0, len(jr.taskIDs))
	for _, tid := range jr.taskIDs {
		rec := m.s.tasks[tid]
		if rec == nil {
			continue
		}
		t := rec.task
		out = append(out, &t)
	}
	return out, nil
}

func (m metadataStore) JobSubmitTime(c storage.Connection, jobID core.ID) (time.Time, error) {
	jr, ok := m.s.jobs[jobID]
	if !ok {
		return time.Time{}, core.NewStorageErr(core.StorageKeyNotFound, "JobSubmitTime", "job %s not found", jobID)
	}
	return jr.submitTime, nil
}

func (m metadataStore) GetTask(c storage.Connection, taskID core.ID) (core.Task, error) {
	rec, ok := m.s.tasks[taskID]
	if !ok {
		return core.Task{}, core.NewStorageErr(core.StorageKeyNotFound, "GetTask", "task %s not found", taskID)
	}
	return rec.task, nil
}

func (m metadataStore) SetTaskState(c storage.Connection, taskID core.ID, expected, state core.TaskState) error {
	rec, ok := m.s.tasks[taskID]
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "SetTaskState", "task %s not found", taskID)
	}
	if rec.task.State != expected {
		return core.NewStorageErr(core.StorageConstraintViolation, "SetTaskState",
			"task %s is %s, not %s", taskID, rec.task.State, expected)
	}
	rec.task.State = state
	return nil
}

func (m metadataStore) ListReadyTasks(c storage.Connection) ([]storage.ReadyTask, error) {
	var out []storage.ReadyTask
	for _, rec := range m.s.tasks {
		if rec.task.State != core.TaskReady {
			continue
		}
		jr := m.s.jobs[rec.jobID]
		if jr == nil {
			continue
		}
		out = append(out, storage.ReadyTask{Task: rec.task, JobID: rec.jobID, SubmitTime: jr.submitTime})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmitTime.Equal(out[j].SubmitTime) {
			return out[i].SubmitTime.Before(out[j].SubmitTime)
		}
		return out[i].Task.ID.String() < out[j].Task.ID.String()
	})
	return out, nil
}

func (m metadataStore) TaskFinish(c storage.Connection, instance core.TaskInstance, outputs []core.TaskOutput) error {
	rec, ok := m.s.tasks[instance.TaskID]
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "TaskFinish", "task %s not found", instance.TaskID)
	}
	live, ok := m.s.instances[instance.TaskID]
	if !ok || live.ID != instance.ID {
		return core.NewStorageErr(core.StorageConstraintViolation, "TaskFinish", "instance %s is not the live instance for task %s", instance.ID, instance.TaskID)
	}
	rec.task.State = core.TaskSucceeded
	rec.task.Outputs = outputs
	delete(m.s.instances, instance.TaskID)

	// Recompute readiness of sibling tasks in the same job that depend on
	// this task's output.
	jr := m.s.jobs[rec.jobID]
	if jr == nil {
		return nil
	}
	succeeded := func(id core.ID) bool {
		r, ok := m.s.tasks[id]
		return ok && r.task.State == core.TaskSucceeded
	}
	for _, tid := range jr.taskIDs {
		sib := m.s.tasks[tid]
		if sib == nil || sib.task.State != core.TaskPending {
			continue
		}
		if core.TaskInputsResolved(&sib.task, succeeded) {
			sib.task.State = core.TaskReady
		}
	}
	return nil
}

func (m metadataStore) TaskFail(c storage.Connection, instance core.TaskInstance, message string) error {
	rec, ok := m.s.tasks[instance.TaskID]
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "TaskFail", "task %s not found", instance.TaskID)
	}
	live, ok := m.s.instances[instance.TaskID]
	if !ok || live.ID != instance.ID {
		return core.NewStorageErr(core.StorageConstraintViolation, "TaskFail", "instance %s is not the live instance for task %s", instance.ID, instance.TaskID)
	}
	delete(m.s.instances, instance.TaskID)
	rec.task.RetryCount++
	if rec.task.RetryCount <= rec.task.MaxRetries {
		rec.task.State = core.TaskReady
	} else {
		rec.task.State = core.TaskFailedState
	}
	return nil
}

func (m metadataStore) AddTaskInstance(c storage.Connection, instance core.TaskInstance) error {
	m.s.instances[instance.TaskID] = instance
	return nil
}

func (m metadataStore) GetTaskInstance(c storage.Connection, taskID core.ID) (core.TaskInstance, bool, error) {
	inst, ok := m.s.instances[taskID]
	return inst, ok, nil
}

func (m metadataStore) ListRunningInstances(c storage.Connection) ([]core.TaskInstance, error) {
	var out []core.TaskInstance
	for tid, inst := range m.s.instances {
		rec := m.s.tasks[tid]
		if rec != nil && rec.task.State == core.TaskRunning {
			out = append(out, inst)
		}
	}
	return out, nil
}

type dataStore struct{ s *Store }

func (d dataStore) AddDriverData(c storage.Connection, driverID core.ID, data core.Data) error {
	data.OwnerDriverID = driverID
	d.s.data[data.ID] = data
	return nil
}

func (d dataStore) GetData(c storage.Connection, dataID core.ID) (core.Data, error) {
	v, ok := d.s.data[dataID]
	if !ok {
		return core.Data{}, core.NewStorageErr(core.StorageKeyNotFound, "GetData", "data %s not found", dataID)
	}
	return v, nil
}

func (d dataStore) RemoveData(c storage.Connection, dataID core.ID) error {
	if _, ok := d.s.data[dataID]; !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "RemoveData", "data %s not found", dataID)
	}
	for _, rec := range d.s.tasks {
		if rec.task.State == core.TaskSucceeded || rec.task.State == core.TaskFailedState || rec.task.State == core.TaskCancelled {
			continue
		}
		for _, in := range rec.task.Inputs {
			if in.Kind == core.InputDataRef && in.DataID == dataID {
				return core.NewStorageErr(core.StorageConstraintViolation, "RemoveData", "data %s still referenced by task %s", dataID, rec.task.ID)
			}
		}
	}
	delete(d.s.data, dataID)
	return nil
}

func (d dataStore) SetDataOutput(c storage.Connection, dataID core.ID, ownerTaskID core.ID) error {
	v, ok := d.s.data[dataID]
	if !ok {
		v = core.Data{ID: dataID}
	}
	v.OwnerDriverID = core.Nil
	d.s.data[dataID] = v
	return nil
}

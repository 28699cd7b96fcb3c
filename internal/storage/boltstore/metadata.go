package boltstore

import (
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

type metadataStore struct{ s *Store }

func (m metadataStore) AddDriver(c storage.Connection, driver core.Driver) error {
	if driver.Heartbeat.IsZero() {
		driver.Heartbeat = time.Now()
	}
	b, err := marshalDriver(driver)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "AddDriver", "marshal: %v", err)
	}
	if err := txOf(c).Bucket(bucketDrivers).Put(idKey(driver.ID), b); err != nil {
		return core.NewStorageErr(core.StorageConnectionErr, "AddDriver", "%v", err)
	}
	return nil
}

func (m metadataStore) UpdateHeartbeat(c storage.Connection, driverID core.ID) error {
	bkt := txOf(c).Bucket(bucketDrivers)
	raw := bkt.Get(idKey(driverID))
	if raw == nil {
		return core.NewStorageErr(core.StorageKeyNotFound, "UpdateHeartbeat", "driver %s not found", driverID)
	}
	var d core.Driver
	if err := unmarshalDriver(raw, &d); err != nil {
		return core.NewStorageErr(core.StorageOther, "UpdateHeartbeat", "unmarshal: %v", err)
	}
	d.Heartbeat = time.Now()
	b, err := marshalDriver(d)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "UpdateHeartbeat", "marshal: %v", err)
	}
	return bkt.Put(idKey(driverID), b)
}

func (m metadataStore) GetDriver(c storage.Connection, driverID core.ID) (core.Driver, error) {
	var d core.Driver
	raw := txOf(c).Bucket(bucketDrivers).Get(idKey(driverID))
	if raw == nil {
		return d, core.NewStorageErr(core.StorageKeyNotFound, "GetDriver", "driver %s not found", driverID)
	}
	if err := unmarshalDriver(raw, &d); err != nil {
		return d, core.NewStorageErr(core.StorageOther, "GetDriver", "unmarshal: %v", err)
	}
	return d, nil
}

func (m metadataStore) ListDrivers(c storage.Connection) ([]core.Driver, error) {
	var out []core.Driver
	err := txOf(c).Bucket(bucketDrivers).ForEach(func(k, v []byte) error {
		var d core.Driver
		if err := unmarshalDriver(v, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (m metadataStore) AddJob(c storage.Connection, jobID, clientID core.ID, graph *core.TaskGraph) error {
	cn := connOf(c)
	if _, exists := cn.getJob(jobID); exists {
		return core.NewStorageErr(core.StorageConstraintViolation, "AddJob", "job %s already exists", jobID)
	}

	jr := jobRecord{ID: jobID, ClientID: clientID, SubmitTime: time.Now()}
	tasks := graph.Tasks()
	for _, t := range tasks {
		jr.TaskIDs = append(jr.TaskIDs, t.ID)
	}

	succeeded := func(id core.ID) bool {
		rec, ok := cn.getTask(id)
		return ok && rec.Task.State == core.TaskSucceeded
	}

	records := make([]taskRecord, 0, len(tasks))
	for _, t := range tasks {
		state := core.TaskPending
		if core.TaskInputsResolved(t, succeeded) {
			state = core.TaskReady
		}
		stored := *t
		stored.State = state
		records = append(records, taskRecord{Task: stored, JobID: jobID})
	}

	tx := cn.tx
	jb, err := marshalJob(jr)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "AddJob", "marshal job: %v", err)
	}
	if err := tx.Bucket(bucketJobs).Put(idKey(jobID), jb); err != nil {
		return err
	}
	for _, rec := range records {
		tb, err := marshalTask(rec)
		if err != nil {
			return core.NewStorageErr(core.StorageOther, "AddJob", "marshal task: %v", err)
		}
		if err := tx.Bucket(bucketTasks).Put(idKey(rec.Task.ID), tb); err != nil {
			return err
		}
		if rec.Task.State == core.TaskReady {
			if err := tx.Bucket(bucketReadyIdx).Put(readyIndexKey(jr.SubmitTime, rec.Task.ID), idKey(rec.Task.ID)); err != nil {
				return err
			}
		}
	}

	cn.putJob(jr)
	for _, rec := range records {
		cn.putTask(rec)
	}
	return nil
}

func (m metadataStore) RemoveJob(c storage.Connection, jobID core.ID) error {
	cn := connOf(c)
	jr, ok := cn.getJob(jobID)
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "RemoveJob", "job %s not found", jobID)
	}

	tx := cn.tx
	for _, tid := range jr.TaskIDs {
		if rec, ok := cn.getTask(tid); ok && rec.Task.State == core.TaskReady {
			if err := tx.Bucket(bucketReadyIdx).Delete(readyIndexKey(jr.SubmitTime, tid)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketTasks).Delete(idKey(tid)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketInstances).Delete(idKey(tid)); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketJobs).Delete(idKey(jobID)); err != nil {
		return err
	}

	for _, tid := range jr.TaskIDs {
		cn.deleteTask(tid)
	}
	cn.deleteJob(jobID)
	return nil
}

func (m metadataStore) GetJobTasks(c storage.Connection, jobID core.ID) ([]*core.Task, error) {
	cn := connOf(c)
	jr, ok := cn.getJob(jobID)
	if !ok {
		return nil, core.NewStorageErr(core.StorageKeyNotFound, "GetJobTasks", "job %s not found", jobID)
	}
	out := make([]*core.Task, 0, len(jr.TaskIDs))
	for _, tid := range jr.TaskIDs {
		rec, ok := cn.getTask(tid)
		if !ok {
			continue
		}
		t := rec.Task
		out = append(out, &t)
	}
	return out, nil
}

func (m metadataStore) JobSubmitTime(c storage.Connection, jobID core.ID) (time.Time, error) {
	jr, ok := connOf(c).getJob(jobID)
	if !ok {
		return time.Time{}, core.NewStorageErr(core.StorageKeyNotFound, "JobSubmitTime", "job %s not found", jobID)
	}
	return jr.SubmitTime, nil
}

func (m metadataStore) GetTask(c storage.Connection, taskID core.ID) (core.Task, error) {
	rec, ok := connOf(c).getTask(taskID)
	if !ok {
		return core.Task{}, core.NewStorageErr(core.StorageKeyNotFound, "GetTask", "task %s not found", taskID)
	}
	return rec.Task, nil
}

// writeTaskLocked persists rec against cn's transaction and keeps the
// ready index and cache overlay in step with the task's state
// transition. Named "Locked" because every caller runs inside a
// BeginTransaction connection, which already holds m.s.mu for the
// connection's whole lifetime.
func (m metadataStore) writeTaskLocked(cn *conn, rec taskRecord, prevState core.TaskState) error {
	tx := cn.tx
	taskBkt := tx.Bucket(bucketTasks)
	if existing := taskBkt.Get(idKey(rec.Task.ID)); existing != nil {
		versionKey := []byte(fmt.Sprintf("%s:%d", rec.Task.ID, time.Now().UnixNano()))
		if err := tx.Bucket(bucketVersions).Put(versionKey, existing); err != nil {
			return err
		}
	}
	tb, err := marshalTask(rec)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "writeTask", "marshal: %v", err)
	}
	if err := taskBkt.Put(idKey(rec.Task.ID), tb); err != nil {
		return err
	}
	jr, ok := cn.getJob(rec.JobID)
	if !ok {
		cn.putTask(rec)
		return nil
	}
	wasReady := prevState == core.TaskReady
	isReady := rec.Task.State == core.TaskReady
	if wasReady && !isReady {
		if err := tx.Bucket(bucketReadyIdx).Delete(readyIndexKey(jr.SubmitTime, rec.Task.ID)); err != nil {
			return err
		}
	} else if isReady && !wasReady {
		if err := tx.Bucket(bucketReadyIdx).Put(readyIndexKey(jr.SubmitTime, rec.Task.ID), idKey(rec.Task.ID)); err != nil {
			return err
		}
	}
	cn.putTask(rec)
	return nil
}

// SetTaskState transitions taskID from expected to state, guarded by a
// current-state precondition (spec.md §6): it fails with
// StorageConstraintViolation if the task's current state is not expected,
// so two connections racing to dispatch the same task cannot both win -
// combined with conn spanning the whole list+transition+instance-insert
// sequence, this is what gives GetNextTask its single-winner guarantee.
func (m metadataStore) SetTaskState(c storage.Connection, taskID core.ID, expected, state core.TaskState) error {
	cn := connOf(c)
	rec, ok := cn.getTask(taskID)
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "SetTaskState", "task %s not found", taskID)
	}
	if rec.Task.State != expected {
		return core.NewStorageErr(core.StorageConstraintViolation, "SetTaskState",
			"task %s is %s, not %s", taskID, rec.Task.State, expected)
	}
	prevState := rec.Task.State
	rec.Task.State = state
	return m.writeTaskLocked(cn, rec, prevState)
}

// ListReadyTasks walks the ready index bucket in key order, which is
// already the submit-time-then-task-id ordering the scheduler needs
// (spec.md §4.3 step 1), instead of scanning every task and sorting as
// storage/memory does.
func (m metadataStore) ListReadyTasks(c storage.Connection) ([]storage.ReadyTask, error) {
	cn := connOf(c)
	var ids []core.ID
	err := cn.tx.Bucket(bucketReadyIdx).ForEach(func(k, v []byte) error {
		id, err := core.ParseID(string(v))
		if err != nil {
			return nil
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]storage.ReadyTask, 0, len(ids))
	for _, id := range ids {
		rec, ok := cn.getTask(id)
		if !ok || rec.Task.State != core.TaskReady {
			continue
		}
		jr, ok := cn.getJob(rec.JobID)
		if !ok {
			continue
		}
		out = append(out, storage.ReadyTask{Task: rec.Task, JobID: rec.JobID, SubmitTime: jr.SubmitTime})
	}
	// bucketReadyIdx.ForEach already walks in ascending key order
	// (submitTime:taskID), but guard against any drift with an explicit
	// sort matching storage/memory's tie-break.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmitTime.Equal(out[j].SubmitTime) {
			return out[i].SubmitTime.Before(out[j].SubmitTime)
		}
		return out[i].Task.ID.String() < out[j].Task.ID.String()
	})
	return out, nil
}

func (m metadataStore) TaskFinish(c storage.Connection, instance core.TaskInstance, outputs []core.TaskOutput) error {
	cn := connOf(c)
	rec, ok := cn.getTask(instance.TaskID)
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "TaskFinish", "task %s not found", instance.TaskID)
	}
	if err := m.checkLiveInstanceLocked(cn.tx, instance, "TaskFinish"); err != nil {
		return err
	}

	prevState := rec.Task.State
	rec.Task.State = core.TaskSucceeded
	rec.Task.Outputs = outputs

	touched := []taskRecord{rec}
	succeeded := func(id core.ID) bool {
		if id == rec.Task.ID {
			return true
		}
		r, ok := cn.getTask(id)
		return ok && r.Task.State == core.TaskSucceeded
	}
	if jr, ok := cn.getJob(rec.JobID); ok {
		for _, tid := range jr.TaskIDs {
			sib, ok := cn.getTask(tid)
			if !ok || sib.Task.State != core.TaskPending {
				continue
			}
			if core.TaskInputsResolved(&sib.Task, succeeded) {
				sib.Task.State = core.TaskReady
				touched = append(touched, sib)
			}
		}
	}

	if err := m.writeTaskLocked(cn, taskRecord{Task: rec.Task, JobID: rec.JobID}, prevState); err != nil {
		return err
	}
	for _, sib := range touched[1:] {
		if err := m.writeTaskLocked(cn, sib, core.TaskPending); err != nil {
			return err
		}
	}
	if err := cn.tx.Bucket(bucketInstances).Delete(idKey(instance.TaskID)); err != nil {
		return err
	}
	return nil
}

func (m metadataStore) TaskFail(c storage.Connection, instance core.TaskInstance, message string) error {
	cn := connOf(c)
	rec, ok := cn.getTask(instance.TaskID)
	if !ok {
		return core.NewStorageErr(core.StorageKeyNotFound, "TaskFail", "task %s not found", instance.TaskID)
	}
	if err := m.checkLiveInstanceLocked(cn.tx, instance, "TaskFail"); err != nil {
		return err
	}

	prevState := rec.Task.State
	rec.Task.RetryCount++
	if rec.Task.RetryCount <= rec.Task.MaxRetries {
		rec.Task.State = core.TaskReady
	} else {
		rec.Task.State = core.TaskFailedState
	}

	if err := m.writeTaskLocked(cn, rec, prevState); err != nil {
		return err
	}
	return cn.tx.Bucket(bucketInstances).Delete(idKey(instance.TaskID))
}

// checkLiveInstanceLocked verifies instance is still the live attempt for
// its task, against tx.
func (m metadataStore) checkLiveInstanceLocked(tx *bbolt.Tx, instance core.TaskInstance, funcName string) error {
	raw := tx.Bucket(bucketInstances).Get(idKey(instance.TaskID))
	if raw == nil {
		return core.NewStorageErr(core.StorageConstraintViolation, funcName, "instance %s is not the live instance for task %s", instance.ID, instance.TaskID)
	}
	var live core.TaskInstance
	if err := unmarshalInstance(raw, &live); err != nil {
		return core.NewStorageErr(core.StorageOther, funcName, "read instance: %v", err)
	}
	if live.ID != instance.ID {
		return core.NewStorageErr(core.StorageConstraintViolation, funcName, "instance %s is not the live instance for task %s", instance.ID, instance.TaskID)
	}
	return nil
}

func (m metadataStore) AddTaskInstance(c storage.Connection, instance core.TaskInstance) error {
	b, err := marshalInstance(instance)
	if err != nil {
		return core.NewStorageErr(core.StorageOther, "AddTaskInstance", "marshal: %v", err)
	}
	return txOf(c).Bucket(bucketInstances).Put(idKey(instance.TaskID), b)
}

func (m metadataStore) GetTaskInstance(c storage.Connection, taskID core.ID) (core.TaskInstance, bool, error) {
	var inst core.TaskInstance
	raw := txOf(c).Bucket(bucketInstances).Get(idKey(taskID))
	if raw == nil {
		return inst, false, nil
	}
	if err := unmarshalInstance(raw, &inst); err != nil {
		return inst, false, core.NewStorageErr(core.StorageOther, "GetTaskInstance", "unmarshal: %v", err)
	}
	return inst, true, nil
}

func (m metadataStore) ListRunningInstances(c storage.Connection) ([]core.TaskInstance, error) {
	cn := connOf(c)
	var out []core.TaskInstance
	err := cn.tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
		taskID, err := core.ParseID(string(k))
		if err != nil {
			return nil
		}
		rec, ok := cn.getTask(taskID)
		if !ok || rec.Task.State != core.TaskRunning {
			return nil
		}
		var inst core.TaskInstance
		if err := unmarshalInstance(v, &inst); err != nil {
			return err
		}
		out = append(out, inst)
		return nil
	})
	return out, err
}

package core

import "time"

// Job is a submitted TaskGraph plus owning client and submission time.
type Job struct {
	ID         ID
	ClientID   ID
	Graph      *TaskGraph
	SubmitTime time.Time
}

func NewJob(clientID ID, graph *TaskGraph) Job {
	return Job{ID: NewID(), ClientID: clientID, Graph: graph, SubmitTime: time.Now()}
}

// KVStore is the narrow key-value surface a TaskContext exposes to user
// task functions, layered over the Data storage capability rather than a
// new storage primitive (see SPEC_FULL.md §3).
type KVStore interface {
	InsertKV(jobID ID, key, value string) error
	GetKV(jobID ID, key string) (string, bool, error)
}

// TaskContext is handed to a user task function: scoped storage access,
// task identity, and the running instance.
type TaskContext struct {
	JobID      ID
	TaskID     ID
	InstanceID ID
	KV         KVStore
}

// InsertKV stores a value under key, namespaced to this context's job.
func (c *TaskContext) InsertKV(key, value string) error {
	if c.KV == nil {
		return NewStorageErr(StorageOther, "TaskContext.InsertKV", "no kv store configured")
	}
	return c.KV.InsertKV(c.JobID, key, value)
}

// GetKV reads a value previously stored under key for this context's job.
func (c *TaskContext) GetKV(key string) (string, bool, error) {
	if c.KV == nil {
		return "", false, NewStorageErr(StorageOther, "TaskContext.GetKV", "no kv store configured")
	}
	return c.KV.GetKV(c.JobID, key)
}

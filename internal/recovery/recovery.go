// Package recovery implements the Job Recovery Planner of spec.md §4.4:
// given a job in a mixed state, it partitions tasks into ready-to-run-now
// and pending-on-dependencies. It never dispatches; the caller
// (client.Recover, serving an on-demand driver request) decides what to
// do with the two lists. The heartbeat sweep does not use the planner.
package recovery

import (
	"time"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

// DeadThreshold is the default heartbeat staleness beyond which a
// worker's driver row is considered dead (spec.md §4.7: N >= 5 periods,
// period ~1s).
const DeadThreshold = 5 * time.Second

// Planner computes a recovery plan for a single job.
type Planner struct {
	JobID      core.ID
	Conn       storage.Connection
	Meta       storage.MetadataStore
	Data       storage.DataStore
	Now        time.Time
	DeadAfter  time.Duration

	ready   []core.ID
	pending []core.ID

	// priorState is each recovered task's state as actually read from
	// storage, captured before any in-memory mutation (e.g. the upstream
	// transitive-Failed propagation below) can change it - it is the
	// "expected" value the caller's SetTaskState compare-and-swap must
	// pass to land the plan.
	priorState map[core.ID]core.TaskState
}

func NewPlanner(jobID core.ID, conn storage.Connection, meta storage.MetadataStore, data storage.DataStore) *Planner {
	return &Planner{JobID: jobID, Conn: conn, Meta: meta, Data: data, Now: time.Now(), DeadAfter: DeadThreshold}
}

// ComputeGraph runs the recovery algorithm of spec.md §4.4 steps 1-3.
func (p *Planner) ComputeGraph() error {
	tasks, err := p.Meta.GetJobTasks(p.Conn, p.JobID)
	if err != nil {
		return err
	}
	byID := make(map[core.ID]*core.Task, len(tasks))
	p.priorState = make(map[core.ID]core.TaskState, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		p.priorState[t.ID] = t.State
	}

	needsRecovery := make(map[core.ID]bool)
	for _, t := range tasks {
		if t.State == core.TaskFailedState {
			needsRecovery[t.ID] = true
			continue
		}
		if t.State == core.TaskRunning {
			dead, err := p.instanceOwnerDead(t.ID)
			if err != nil {
				return err
			}
			if dead {
				needsRecovery[t.ID] = true
			}
		}
	}

	// Step 2a: transitively mark upstream tasks Failed when a
	// non-persisted data output they produced has been garbage
	// collected, until fixpoint.
	for changed := true; changed; {
		changed = false
		for id := range needsRecovery {
			t := byID[id]
			for _, in := range t.Inputs {
				if in.Kind != core.InputTaskOutputEdge {
					continue
				}
				upstream, ok := byID[in.UpstreamTaskID]
				if !ok || upstream.State != core.TaskSucceeded {
					continue
				}
				if in.UpstreamSlot < 0 || in.UpstreamSlot >= len(upstream.Outputs) {
					continue
				}
				out := upstream.Outputs[in.UpstreamSlot]
				if out.Kind != core.OutputDataResult {
					continue
				}
				gcd, err := p.dataGarbageCollected(out.DataID)
				if err != nil {
					return err
				}
				if gcd {
					upstream.State = core.TaskFailedState
					if !needsRecovery[upstream.ID] {
						needsRecovery[upstream.ID] = true
						changed = true
					}
				}
			}
		}
	}

	succeeded := func(id core.ID) bool {
		t, ok := byID[id]
		return ok && t.State == core.TaskSucceeded
	}

	p.ready = p.ready[:0]
	p.pending = p.pending[:0]
	for id := range needsRecovery {
		t := byID[id]
		if core.TaskInputsResolved(t, succeeded) {
			p.ready = append(p.ready, id)
		} else {
			p.pending = append(p.pending, id)
		}
	}
	return nil
}

// instanceOwnerDead reports whether taskID's live TaskInstance's worker
// driver has a stale heartbeat.
func (p *Planner) instanceOwnerDead(taskID core.ID) (bool, error) {
	inst, ok, err := p.Meta.GetTaskInstance(p.Conn, taskID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	driver, err := p.Meta.GetDriver(p.Conn, inst.WorkerID)
	if err != nil {
		if se, ok := err.(*core.StorageErr); ok && se.Kind == core.StorageKeyNotFound {
			return true, nil
		}
		return false, err
	}
	return driver.IsDead(p.Now, p.DeadAfter), nil
}

// dataGarbageCollected reports whether a data id that used to be a task
// output is no longer retrievable and was not persisted - i.e. it was
// garbage collected after its owning (dead) driver was reaped. A
// persisted data item is never considered garbage collected (spec.md
// §4.4: "A task that references a persisted data survives data-storage
// eviction").
func (p *Planner) dataGarbageCollected(dataID core.ID) (bool, error) {
	d, err := p.Data.GetData(p.Conn, dataID)
	if err != nil {
		if se, ok := err.(*core.StorageErr); ok && se.Kind == core.StorageKeyNotFound {
			return true, nil
		}
		return false, err
	}
	if d.Persisted {
		return false, nil
	}
	return false, nil
}

// GetReadyTasks returns the task ids computed ready by the last
// ComputeGraph call.
func (p *Planner) GetReadyTasks() []core.ID { return p.ready }

// GetPendingTasks returns the task ids computed pending by the last
// ComputeGraph call.
func (p *Planner) GetPendingTasks() []core.ID { return p.pending }

// PriorState returns id's state as read from storage by the last
// ComputeGraph call, for use as the expected argument of a
// SetTaskState compare-and-swap landing this plan.
func (p *Planner) PriorState(id core.ID) core.TaskState { return p.priorState[id] }

package worker

import (
	"context"
	"testing"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
	"github.com/swarmgraph/spider/internal/storage/memory"
)

func newTestWorker(store *memory.Store) *Worker {
	return NewWorker(core.NewID(), "", store, nil, "mem://", nil)
}

func TestAssembleArgsLiteralAndDataRef(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	ctx := context.Background()

	dataID := core.NewID()
	conn, _ := store.BeginTransaction(ctx)
	if err := store.Data().AddDriverData(conn, core.NewID(), core.Data{ID: dataID, Value: []byte("blob")}); err != nil {
		t.Fatalf("AddDriverData: %v", err)
	}
	conn.Commit()

	task := core.NewTask("noop")
	task.AddInput(core.NewLiteralInput("7", "int"))
	task.AddInput(core.NewDataRefInput(dataID))

	args, err := w.assembleArgs(ctx, task)
	if err != nil {
		t.Fatalf("assembleArgs: %v", err)
	}
	if len(args) != 2 || string(args[0]) != "7" || string(args[1]) != "blob" {
		t.Fatalf("args = %v, want [7 blob]", args)
	}
}

func TestAssembleArgsEdgeFromSucceededUpstream(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	ctx := context.Background()

	upstream := core.NewTask("noop")
	downstream := core.NewTask("noop")
	downstream.AddInput(core.NewEdgeInput(upstream.ID, 0))

	g := core.NewTaskGraph()
	if err := g.AddTask(upstream); err != nil {
		t.Fatalf("AddTask(upstream): %v", err)
	}
	if err := g.AddTask(downstream); err != nil {
		t.Fatalf("AddTask(downstream): %v", err)
	}
	conn, _ := store.BeginTransaction(ctx)
	if err := store.Metadata().AddJob(conn, core.NewID(), core.NewID(), g); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	conn.Commit()

	inst := core.TaskInstance{ID: core.NewID(), TaskID: upstream.ID, WorkerID: w.ID}
	conn, _ = store.BeginTransaction(ctx)
	if err := store.Metadata().AddTaskInstance(conn, inst); err != nil {
		t.Fatalf("AddTaskInstance: %v", err)
	}
	conn.Commit()

	outputs := []core.TaskOutput{{Kind: core.OutputLiteralResult, Type: "int", Bytes: []byte("42")}}
	conn, _ = store.BeginTransaction(ctx)
	if err := store.Metadata().TaskFinish(conn, inst, outputs); err != nil {
		t.Fatalf("TaskFinish: %v", err)
	}
	conn.Commit()

	conn, _ = store.BeginTransaction(ctx)
	downstreamTask, err := store.Metadata().GetTask(conn, downstream.ID)
	conn.Rollback()
	if err != nil {
		t.Fatalf("GetTask(downstream): %v", err)
	}

	args, err := w.assembleArgs(ctx, downstreamTask)
	if err != nil {
		t.Fatalf("assembleArgs: %v", err)
	}
	if len(args) != 1 || string(args[0]) != "42" {
		t.Fatalf("args = %v, want [42]", args)
	}
}

func TestAssembleArgsEdgeFromPendingUpstreamFails(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	ctx := context.Background()

	upstream := core.NewTask("noop")
	downstream := core.NewTask("noop")
	downstream.AddInput(core.NewEdgeInput(upstream.ID, 0))

	g := core.NewTaskGraph()
	if err := g.AddTask(upstream); err != nil {
		t.Fatalf("AddTask(upstream): %v", err)
	}
	if err := g.AddTask(downstream); err != nil {
		t.Fatalf("AddTask(downstream): %v", err)
	}
	conn, _ := store.BeginTransaction(ctx)
	if err := store.Metadata().AddJob(conn, core.NewID(), core.NewID(), g); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	conn.Commit()

	conn, _ = store.BeginTransaction(ctx)
	downstreamTask, err := store.Metadata().GetTask(conn, downstream.ID)
	conn.Rollback()
	if err != nil {
		t.Fatalf("GetTask(downstream): %v", err)
	}

	if _, err := w.assembleArgs(ctx, downstreamTask); err == nil {
		t.Fatal("expected assembleArgs to fail when the upstream task has not succeeded yet")
	}
}

func TestParseOutputsLiteralAndDataTag(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	ctx := context.Background()

	dataID := core.NewID()
	task := core.Task{
		Outputs: []core.TaskOutput{
			{Type: "int"},
			{Type: core.DataTypeTag},
		},
	}
	buffers := [][]byte{[]byte("9"), []byte(dataID.String())}

	outputs, err := w.parseOutputs(ctx, task, buffers)
	if err != nil {
		t.Fatalf("parseOutputs: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("len(outputs) = %d, want 2", len(outputs))
	}
	if outputs[0].Kind != core.OutputLiteralResult || string(outputs[0].Bytes) != "9" {
		t.Fatalf("outputs[0] = %+v, want a literal result of 9", outputs[0])
	}
	if outputs[1].Kind != core.OutputDataResult || outputs[1].DataID != dataID {
		t.Fatalf("outputs[1] = %+v, want a data result naming %v", outputs[1], dataID)
	}
}

func TestParseOutputsCountMismatch(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	task := core.Task{Outputs: []core.TaskOutput{{Type: "int"}, {Type: "int"}}}
	if _, err := w.parseOutputs(context.Background(), task, [][]byte{[]byte("1")}); err == nil {
		t.Fatal("expected parseOutputs to reject a buffer count mismatch")
	}
}

func TestParseOutputsInvalidDataID(t *testing.T) {
	store := memory.New()
	w := newTestWorker(store)
	task := core.Task{Outputs: []core.TaskOutput{{Type: core.DataTypeTag}}}
	if _, err := w.parseOutputs(context.Background(), task, [][]byte{[]byte("not-a-uuid")}); err == nil {
		t.Fatal("expected parseOutputs to reject a malformed data id")
	}
}

// flakyMetadata wraps a real storage.MetadataStore and reports a
// StorageDeadlockErr from TaskFinish/TaskFail for its first
// failsRemaining calls, so commitFinish/commitFail's
// internal/resilience.Retry wiring has something real to retry against.
type flakyMetadata struct {
	storage.MetadataStore
	failsRemaining int
}

func (f *flakyMetadata) TaskFinish(conn storage.Connection, instance core.TaskInstance, outputs []core.TaskOutput) error {
	if f.failsRemaining > 0 {
		f.failsRemaining--
		return core.NewStorageErr(core.StorageDeadlockErr, "TaskFinish", "simulated deadlock")
	}
	return f.MetadataStore.TaskFinish(conn, instance, outputs)
}

func (f *flakyMetadata) TaskFail(conn storage.Connection, instance core.TaskInstance, message string) error {
	if f.failsRemaining > 0 {
		f.failsRemaining--
		return core.NewStorageErr(core.StorageDeadlockErr, "TaskFail", "simulated deadlock")
	}
	return f.MetadataStore.TaskFail(conn, instance, message)
}

type flakyStore struct {
	storage.Store
	meta *flakyMetadata
}

func (f *flakyStore) Metadata() storage.MetadataStore { return f.meta }

func TestCommitFinishRetriesThenSucceedsOnDeadlock(t *testing.T) {
	backing := memory.New()
	flaky := &flakyStore{Store: backing, meta: &flakyMetadata{MetadataStore: backing.Metadata(), failsRemaining: 2}}
	w := NewWorker(core.NewID(), "", flaky, nil, "mem://", nil)

	ctx := context.Background()
	g := core.NewTaskGraph()
	task := core.NewTask("noop")
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	conn, _ := backing.BeginTransaction(ctx)
	if err := backing.Metadata().AddJob(conn, core.NewID(), core.NewID(), g); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	conn.Commit()

	instance := core.TaskInstance{ID: core.NewID(), TaskID: task.ID, WorkerID: w.ID}
	conn, _ = backing.BeginTransaction(ctx)
	if err := backing.Metadata().AddTaskInstance(conn, instance); err != nil {
		t.Fatalf("AddTaskInstance: %v", err)
	}
	conn.Commit()

	if err := w.commitFinish(ctx, instance, nil); err != nil {
		t.Fatalf("commitFinish: %v, want the deadlock retries to eventually succeed", err)
	}
	if flaky.meta.failsRemaining != 0 {
		t.Fatalf("failsRemaining = %d, want 0 (all simulated deadlocks consumed by retries)", flaky.meta.failsRemaining)
	}

	conn, _ = backing.BeginTransaction(ctx)
	got, err := backing.Metadata().GetTask(conn, task.ID)
	conn.Rollback()
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != core.TaskSucceeded {
		t.Fatalf("state = %v, want TaskSucceeded once the retried commit lands", got.State)
	}
}

func TestCommitFinishGivesUpOnNonDeadlockError(t *testing.T) {
	backing := memory.New()
	flaky := &flakyStore{Store: backing, meta: &flakyMetadata{MetadataStore: backing.Metadata()}}
	w := NewWorker(core.NewID(), "", flaky, nil, "mem://", nil)

	// No task/instance registered, so TaskFinish fails with
	// StorageKeyNotFound - not retryable, must surface on the first
	// attempt rather than exhausting FinishRetryCount.
	instance := core.TaskInstance{ID: core.NewID(), TaskID: core.NewID(), WorkerID: w.ID}
	err := w.commitFinish(context.Background(), instance, nil)
	if err == nil {
		t.Fatal("expected commitFinish to surface a non-deadlock error")
	}
	if se, ok := err.(*core.StorageErr); !ok || se.Kind != core.StorageKeyNotFound {
		t.Fatalf("got %v, want a StorageKeyNotFound StorageErr surfaced without retrying", err)
	}
}

func TestIsDeadlockDistinguishesErrorKind(t *testing.T) {
	if isDeadlock(core.NewStorageErr(core.StorageKeyNotFound, "op", "not found")) {
		t.Fatal("expected a non-deadlock storage error to report false")
	}
	if !isDeadlock(core.NewStorageErr(core.StorageDeadlockErr, "op", "deadlock")) {
		t.Fatal("expected a deadlock-kind storage error to report true")
	}
}

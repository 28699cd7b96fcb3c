package scheduler

import (
	"context"
	"testing"
	"time"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage/memory"
)

func newTestPolicy() (*Policy, *memory.Store) {
	store := memory.New()
	meter := noopmetric.MeterProvider{}.Meter("test")
	return NewPolicy(store, meter), store
}

// submitOneTaskJob submits a job made of a single task with no inputs
// other than the optional data refs given, returning the task id.
func submitOneTaskJob(t *testing.T, store *memory.Store, dataInputs ...core.ID) core.ID {
	t.Helper()
	g := core.NewTaskGraph()
	task := core.NewTask("noop")
	for _, id := range dataInputs {
		task.AddInput(core.NewDataRefInput(id))
	}
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	conn, err := store.BeginTransaction(context.Background())
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := store.Metadata().AddJob(conn, core.NewID(), core.NewID(), g); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return task.ID
}

func addData(t *testing.T, store *memory.Store, id core.ID, hardLocality bool, locality []string) {
	t.Helper()
	conn, err := store.BeginTransaction(context.Background())
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	data := core.Data{ID: id, HardLocality: hardLocality, Locality: locality}
	if err := store.Data().AddDriverData(conn, core.NewID(), data); err != nil {
		t.Fatalf("AddDriverData: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestGetNextTaskUniqueness(t *testing.T) {
	// spec.md §8: "concurrent get_next_task from two workers over the
	// same Ready task yields exactly one (task_id, instance_id); the
	// other returns None or a different task."
	policy, store := newTestPolicy()
	taskID := submitOneTaskJob(t, store)

	ctx := context.Background()
	gotTaskID, gotInstanceID, err := policy.GetNextTask(ctx, core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask (worker 1): %v", err)
	}
	if gotTaskID == nil || *gotTaskID != taskID {
		t.Fatalf("worker 1 expected task %v, got %v", taskID, gotTaskID)
	}
	if gotInstanceID == nil {
		t.Fatal("worker 1 expected a non-nil instance id")
	}

	secondTaskID, secondInstanceID, err := policy.GetNextTask(ctx, core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask (worker 2): %v", err)
	}
	if secondTaskID != nil {
		t.Fatalf("worker 2 expected no task (already Running), got %v", secondTaskID)
	}
	if secondInstanceID != nil {
		t.Fatalf("worker 2 expected no instance id, got %v", secondInstanceID)
	}
}

func TestGetNextTaskFIFOAcrossJobs(t *testing.T) {
	// spec.md §8 scenario 3: J1 submitted at t, J2 1s later; two
	// successive get_next_task calls return task_1 then task_2.
	policy, store := newTestPolicy()

	g1 := core.NewTaskGraph()
	task1 := core.NewTask("noop")
	if err := g1.AddTask(task1); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	ctx := context.Background()
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := store.Metadata().AddJob(conn, core.NewID(), core.NewID(), g1); err != nil {
		t.Fatalf("AddJob(J1): %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	time.Sleep(10 * time.Millisecond) // ensure a strictly later submit timestamp

	g2 := core.NewTaskGraph()
	task2 := core.NewTask("noop")
	if err := g2.AddTask(task2); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	conn, err = store.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := store.Metadata().AddJob(conn, core.NewID(), core.NewID(), g2); err != nil {
		t.Fatalf("AddJob(J2): %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	workerID := core.NewID()
	first, _, err := policy.GetNextTask(ctx, workerID, "", nil)
	if err != nil {
		t.Fatalf("GetNextTask 1: %v", err)
	}
	if first == nil || *first != task1.ID {
		t.Fatalf("expected first dispatched task to be J1's task %v, got %v", task1.ID, first)
	}

	second, _, err := policy.GetNextTask(ctx, workerID, "", nil)
	if err != nil {
		t.Fatalf("GetNextTask 2: %v", err)
	}
	if second == nil || *second != task2.ID {
		t.Fatalf("expected second dispatched task to be J2's task %v, got %v", task2.ID, second)
	}
}

func TestGetNextTaskHardLocality(t *testing.T) {
	// spec.md §8 scenario 4: hard-locality data restricted to 127.0.0.1.
	policy, store := newTestPolicy()
	dataID := core.NewID()
	addData(t, store, dataID, true, []string{"127.0.0.1"})
	taskID := submitOneTaskJob(t, store, dataID)

	ctx := context.Background()
	got, _, err := policy.GetNextTask(ctx, core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask(worker_address=\"\"): %v", err)
	}
	if got != nil {
		t.Fatalf("expected no task dispatched to non-local worker, got %v", got)
	}

	got, _, err = policy.GetNextTask(ctx, core.NewID(), "127.0.0.1", nil)
	if err != nil {
		t.Fatalf("GetNextTask(worker_address=127.0.0.1): %v", err)
	}
	if got == nil || *got != taskID {
		t.Fatalf("expected task %v dispatched to the local worker, got %v", taskID, got)
	}
}

func TestGetNextTaskSoftLocality(t *testing.T) {
	// spec.md §8 scenario 5: same data but hard=false - any worker may
	// take it immediately.
	policy, store := newTestPolicy()
	dataID := core.NewID()
	addData(t, store, dataID, false, []string{"127.0.0.1"})
	taskID := submitOneTaskJob(t, store, dataID)

	ctx := context.Background()
	got, _, err := policy.GetNextTask(ctx, core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if got == nil || *got != taskID {
		t.Fatalf("expected soft-locality task dispatched to a remote worker, got %v", got)
	}
}

func TestGetNextTaskLastFailedRequeuesPromptly(t *testing.T) {
	// spec.md §4.3 step 5: reporting last_failed_task_id resets a
	// Running task this worker holds back to Ready before selection, so
	// it can be redispatched without waiting for heartbeat timeout.
	policy, store := newTestPolicy()
	taskID := submitOneTaskJob(t, store)
	ctx := context.Background()
	workerID := core.NewID()

	first, _, err := policy.GetNextTask(ctx, workerID, "", nil)
	if err != nil || first == nil || *first != taskID {
		t.Fatalf("expected first dispatch to succeed with task %v, got %v, err %v", taskID, first, err)
	}

	second, secondInstance, err := policy.GetNextTask(ctx, workerID, "", &taskID)
	if err != nil {
		t.Fatalf("GetNextTask with last_failed_task_id: %v", err)
	}
	if second == nil || *second != taskID {
		t.Fatalf("expected the failed task to be redispatched, got %v", second)
	}
	if secondInstance == nil {
		t.Fatal("expected a fresh instance id on redispatch")
	}
}

func TestGetNextTaskNoneWhenNothingReady(t *testing.T) {
	policy, _ := newTestPolicy()
	got, instance, err := policy.GetNextTask(context.Background(), core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if got != nil || instance != nil {
		t.Fatalf("expected (nil, nil) when no task is ready, got (%v, %v)", got, instance)
	}
}

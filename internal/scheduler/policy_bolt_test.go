package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage/boltstore"
)

// TestGetNextTaskUniquenessBoltstore is TestGetNextTaskUniqueness run
// against the durable boltstore binding instead of storage/memory: it
// exercises the real cross-call transaction boundary BeginTransaction
// now holds, not just the in-process map lock memory.Store uses.
func TestGetNextTaskUniquenessBoltstore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spider.db")
	store, err := boltstore.Open(path)
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	defer store.Close()

	meter := noopmetric.MeterProvider{}.Meter("test")
	policy := NewPolicy(store, meter)

	g := core.NewTaskGraph()
	task := core.NewTask("noop")
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

	ctx := context.Background()
	const workers = 8
	type result struct {
		taskID     *core.ID
		instanceID *core.ID
	}
	results := make([]result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taskID, instanceID, err := policy.GetNextTask(ctx, core.NewID(), "", nil)
			if err != nil {
				t.Errorf("GetNextTask: %v", err)
				return
			}
			results[i] = result{taskID, instanceID}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.taskID != nil {
			if *r.taskID != task.ID {
				t.Fatalf("dispatched unexpected task %v", *r.taskID)
			}
			if r.instanceID == nil {
				t.Fatal("a dispatched task must carry a non-nil instance id")
			}
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one worker to be dispatched the task, got %d", wins)
	}
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmgraph/spider/internal/cache"
	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/notify"
	"github.com/swarmgraph/spider/internal/resilience"
	"github.com/swarmgraph/spider/internal/storage"
)

// FinishRetryCount bounds the deadlock-class retry on task_finish/
// task_fail (spec.md §4.5: "retries up to a small fixed count (e.g., 5)
// on deadlock-class errors").
const FinishRetryCount = 5

// finishRetryBaseDelay is the base delay resilience.Retry backs off from
// between deadlock-class commitFinish/commitFail attempts.
const finishRetryBaseDelay = 20 * time.Millisecond

// HeartbeatInterval is how often the heartbeat loop writes a liveness
// timestamp (spec.md §4.7: "every ~1 s").
const HeartbeatInterval = time.Second

// PollInterval is the worker's scheduler polling cadence (spec.md §4.5,
// §5: "100 ms between scheduler queries").
const PollInterval = 100 * time.Millisecond

// Worker is a single worker process: the fetch-execute task_loop plus a
// parallel heartbeat_loop, matching spec.md §4.5's two-thread model.
type Worker struct {
	ID      core.ID
	Address string

	Store      storage.Store
	Scheduler  *SchedulerClient
	StorageURL string
	Libs       []string
	NATS       *nats.Conn

	// recentTasks is the process-local, single-thread-owned LRU of
	// recently-seen task lookups (spec.md §5); runOneTask records each
	// successfully finished task's state in it. Nothing reads it back:
	// fetchTaskDetail always calls GetTask.
	recentTasks *cache.LRU

	tracer trace.Tracer
}

// NewWorker constructs a Worker. The caller is responsible for inserting
// the worker's Driver row before calling Run.
func NewWorker(id core.ID, address string, store storage.Store, scheduler *SchedulerClient, storageURL string, libs []string) *Worker {
	return &Worker{
		ID:          id,
		Address:     address,
		Store:       store,
		Scheduler:   scheduler,
		StorageURL:  storageURL,
		Libs:        libs,
		recentTasks: cache.NewLRU(256),
		tracer:      otel.Tracer("spider-worker"),
	}
}

// Run blocks until StopFlag is set, running heartbeat_loop and task_loop
// concurrently and returning once task_loop has exited cleanly (spec.md
// §4.5, §5).
func (w *Worker) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.heartbeatLoop(ctx)
	}()

	err := w.taskLoop(ctx)
	<-done
	return err
}

// heartbeatLoop periodically writes the worker's liveness timestamp.
// Grounded on worker.cpp's heartbeat_loop: cRetryCount-1 consecutive
// failures trips the stop flag (spec.md §4.8's fail-streak policy
// applied to heartbeat writes specifically).
func (w *Worker) heartbeatLoop(ctx context.Context) {
	failCount := 0
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for !IsStopRequested() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.Scheduler.Heartbeat(ctx, w.ID); err != nil {
			slog.Error("heartbeat failed", "worker_id", w.ID, "error", err)
			failCount++
		} else {
			failCount = 0
		}
		if failCount >= FinishRetryCount-1 {
			slog.Error("heartbeat fail streak exceeded threshold, stopping", "worker_id", w.ID)
			RequestStop()
			return
		}
	}
}

// taskLoop is the worker's steady-state fetch-execute loop (spec.md
// §4.5).
func (w *Worker) taskLoop(ctx context.Context) error {
	var failTaskID *core.ID
	for !IsStopRequested() {
		taskID, instanceID, err := w.fetchTask(ctx, failTaskID)
		if err != nil {
			slog.Error("fetch task failed", "error", err)
			time.Sleep(PollInterval)
			continue
		}
		if taskID == nil {
			continue // stop requested or poll loop already slept
		}
		failTaskID = nil

		instance := core.TaskInstance{ID: *instanceID, TaskID: *taskID, WorkerID: w.ID, StartedAt: time.Now()}
		ok := w.runOneTask(ctx, instance)
		if !ok {
			id := *taskID
			failTaskID = &id
		}
	}
	return nil
}

// fetchTask polls the scheduler every PollInterval until a task arrives
// or a stop is requested (spec.md §4.5's "poll scheduler every 100 ms").
func (w *Worker) fetchTask(ctx context.Context, failTaskID *core.ID) (*core.ID, *core.ID, error) {
	for !IsStopRequested() {
		taskID, instanceID, err := w.Scheduler.GetNextTask(ctx, w.ID, w.Address, failTaskID)
		if err != nil {
			return nil, nil, err
		}
		if taskID != nil {
			return taskID, instanceID, nil
		}
		// Only the first request after a failure carries the failed
		// task id; later polls omit it (spec.md §4.3 step 5).
		failTaskID = nil
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
	return nil, nil, nil
}

// runOneTask fetches task detail, assembles argument buffers, spawns the
// task executor child, and commits the result. Returns false if the task
// should be retried immediately on the next poll (task failed).
func (w *Worker) runOneTask(ctx context.Context, instance core.TaskInstance) bool {
	ctx, span := w.tracer.Start(ctx, "worker.run_task", trace.WithAttributes(
		attribute.String("task_id", instance.TaskID.String()),
		attribute.String("instance_id", instance.ID.String()),
	))
	defer span.End()

	task, err := w.fetchTaskDetail(ctx, instance.TaskID)
	if err != nil {
		slog.Error("fetch task detail failed", "task_id", instance.TaskID, "error", err)
		w.commitFail(ctx, instance, fmt.Sprintf("fetch task detail: %v", err))
		return false
	}

	argBuffers, err := w.assembleArgs(ctx, task)
	if err != nil {
		slog.Error("assemble args failed", "task_id", instance.TaskID, "error", err)
		w.commitFail(ctx, instance, fmt.Sprintf("assemble args: %v", err))
		return false
	}

	child, err := Spawn(ctx, task, w.StorageURL, w.Libs, argBuffers)
	if err != nil {
		slog.Error("spawn task executor failed", "task_id", instance.TaskID, "error", err)
		w.commitFail(ctx, instance, fmt.Sprintf("spawn task executor: %v", err))
		return false
	}
	if IsStopRequested() {
		child.Terminate()
	}

	resultBuffers, execErr := child.Result()
	if execErr != nil {
		slog.Warn("task failed", "task_id", instance.TaskID, "error", execErr)
		w.commitFail(ctx, instance, execErr.Error())
		return false
	}

	outputs, err := w.parseOutputs(ctx, task, resultBuffers)
	if err != nil {
		slog.Error("parse outputs failed", "task_id", instance.TaskID, "error", err)
		w.commitFail(ctx, instance, fmt.Sprintf("parse outputs: %v", err))
		return false
	}

	if err := w.commitFinish(ctx, instance, outputs); err != nil {
		slog.Error("commit task_finish failed", "task_id", instance.TaskID, "error", err)
		return false
	}
	notify.Publish(ctx, w.NATS, notify.SubjectTaskReady, []byte(instance.TaskID.String()))
	w.recentTasks.Put(instance.TaskID.String(), task.State)
	return true
}

func (w *Worker) fetchTaskDetail(ctx context.Context, taskID core.ID) (core.Task, error) {
	conn, err := w.Store.BeginTransaction(ctx)
	if err != nil {
		return core.Task{}, err
	}
	task, err := w.Store.Metadata().GetTask(conn, taskID)
	if err != nil {
		_ = conn.Rollback()
		return core.Task{}, err
	}
	return task, conn.Commit()
}

// assembleArgs resolves every input of task into a serialized argument
// buffer: literal bytes, the blob bytes of a referenced Data, or the
// output bytes of an already-Succeeded upstream task (spec.md §4.5).
func (w *Worker) assembleArgs(ctx context.Context, task core.Task) ([][]byte, error) {
	conn, err := w.Store.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Rollback() }()

	meta := w.Store.Metadata()
	data := w.Store.Data()

	args := make([][]byte, len(task.Inputs))
	for i, in := range task.Inputs {
		switch in.Kind {
		case core.InputLiteral:
			args[i] = in.Bytes
		case core.InputDataRef:
			d, err := data.GetData(conn, in.DataID)
			if err != nil {
				return nil, fmt.Errorf("read data %s: %w", in.DataID, err)
			}
			args[i] = d.Value
		case core.InputTaskOutputEdge:
			upstream, err := meta.GetTask(conn, in.UpstreamTaskID)
			if err != nil {
				return nil, fmt.Errorf("read upstream task %s: %w", in.UpstreamTaskID, err)
			}
			if upstream.State != core.TaskSucceeded || in.UpstreamSlot >= len(upstream.Outputs) {
				return nil, core.NewTaskExecutionErr(core.TaskOutputUnavailable, "upstream task %s output %d not available", in.UpstreamTaskID, in.UpstreamSlot)
			}
			out := upstream.Outputs[in.UpstreamSlot]
			switch out.Kind {
			case core.OutputLiteralResult:
				args[i] = out.Bytes
			case core.OutputDataResult:
				d, err := data.GetData(conn, out.DataID)
				if err != nil {
					return nil, fmt.Errorf("read upstream data %s: %w", out.DataID, err)
				}
				args[i] = d.Value
			default:
				return nil, core.NewTaskExecutionErr(core.TaskOutputUnavailable, "upstream task %s output %d still pending", in.UpstreamTaskID, in.UpstreamSlot)
			}
		}
	}
	return args, nil
}

// parseOutputs converts the executor's raw result buffers into typed
// TaskOutputs, per declared output type (spec.md §4.5): a declared type
// of core.DataTypeTag means the buffer is a UUID naming a Data blob the
// task already wrote; anything else is a literal result.
func (w *Worker) parseOutputs(ctx context.Context, task core.Task, buffers [][]byte) ([]core.TaskOutput, error) {
	if len(buffers) != len(task.Outputs) {
		return nil, core.NewTaskExecutionErr(core.TaskOutputInvalid, "expected %d outputs, got %d", len(task.Outputs), len(buffers))
	}
	outputs := make([]core.TaskOutput, len(buffers))
	for i, declared := range task.Outputs {
		if declared.Type == core.DataTypeTag {
			id, err := core.ParseID(string(buffers[i]))
			if err != nil {
				return nil, core.NewTaskExecutionErr(core.TaskOutputInvalid, "output %d: invalid data id: %v", i, err)
			}
			outputs[i] = core.TaskOutput{Kind: core.OutputDataResult, Type: declared.Type, DataID: id}
		} else {
			outputs[i] = core.TaskOutput{Kind: core.OutputLiteralResult, Type: declared.Type, Bytes: buffers[i]}
		}
	}
	return outputs, nil
}

// commitFinish writes task_finish, retrying up to FinishRetryCount times
// only on a deadlock-class storage error; any other storage error is
// surfaced immediately (spec.md §4.5, §4.8, §7). The bounded backoff
// itself is internal/resilience.Retry, not a hand-rolled loop.
func (w *Worker) commitFinish(ctx context.Context, instance core.TaskInstance, outputs []core.TaskOutput) error {
	_, err := resilience.Retry(ctx, FinishRetryCount, finishRetryBaseDelay, isDeadlock, func() (struct{}, error) {
		conn, err := w.Store.BeginTransaction(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if err := w.Store.Metadata().TaskFinish(conn, instance, outputs); err != nil {
			_ = conn.Rollback()
			return struct{}{}, err
		}
		return struct{}{}, conn.Commit()
	})
	return err
}

// commitFail writes task_fail with the same bounded deadlock retry as
// commitFinish.
func (w *Worker) commitFail(ctx context.Context, instance core.TaskInstance, message string) {
	_, err := resilience.Retry(ctx, FinishRetryCount, finishRetryBaseDelay, isDeadlock, func() (struct{}, error) {
		conn, err := w.Store.BeginTransaction(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if err := w.Store.Metadata().TaskFail(conn, instance, message); err != nil {
			_ = conn.Rollback()
			return struct{}{}, err
		}
		return struct{}{}, conn.Commit()
	})
	if err != nil {
		slog.Error("commit task_fail failed after retries", "task_id", instance.TaskID, "error", err)
	}
}

func isDeadlock(err error) bool {
	se, ok := err.(*core.StorageErr)
	return ok && se.Kind == core.StorageDeadlockErr
}

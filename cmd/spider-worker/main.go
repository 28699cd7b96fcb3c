// Command spider-worker runs the worker runtime of spec.md §4.5: it
// registers a driver row, then alternates fetch_task/spawn-executor/
// commit cycles against the scheduler's RPC surface while heartbeating
// concurrently. Exit codes follow
// original_source/src/spider/worker/worker.cpp's convention (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/obs"
	"github.com/swarmgraph/spider/internal/obslog"
	"github.com/swarmgraph/spider/internal/resilience"
	"github.com/swarmgraph/spider/internal/storage"
	"github.com/swarmgraph/spider/internal/storage/boltstore"
	"github.com/swarmgraph/spider/internal/storage/memory"
	"github.com/swarmgraph/spider/internal/worker"
)

const (
	exitOK                = 0
	exitBadCLI            = 1
	exitStorageSetupError = 4
	exitStorageError      = 5
)

// libList implements flag.Value so -libs can be repeated, matching
// worker.cpp's parse_args "--libs" repeatable argument.
type libList []string

func (l *libList) String() string { return fmt.Sprint([]string(*l)) }
func (l *libList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "", "this worker's advertised host:port, used for data-locality matching")
	schedulerAddr := flag.String("scheduler_addr", "http://127.0.0.1:7000", "scheduler base URL")
	storageKind := flag.String("storage", "bolt", "storage backend: bolt or memory")
	dbPath := flag.String("db", "spider-scheduler.db", "bolt database path, shared with the scheduler")
	natsURL := flag.String("nats_url", "", "NATS server URL for advisory job-lifecycle events (disabled if empty)")
	var libs libList
	flag.Var(&libs, "libs", "path to a task-providing library (repeatable); recorded for the spawned executor's --libs")
	flag.Parse()
	if flag.NArg() > 0 || *addr == "" {
		fmt.Fprintln(os.Stderr, "spider-worker: -addr is required")
		return exitBadCLI
	}

	obslog.Init("spider-worker")
	ctx, stopCtx := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stopCtx()

	stopSig := worker.InstallSignalHandler()
	defer stopSig()

	shutdownTrace := obs.InitTracer(ctx, "spider-worker")
	shutdownMetrics, _, _ := obs.InitMetrics(ctx, "spider-worker")
	defer obs.Flush(context.Background(), shutdownTrace)
	defer func() { _ = shutdownMetrics(context.Background()) }()

	store, err := openStoreResilient(*storageKind, *dbPath)
	if err != nil {
		slog.Error("open storage failed", "error", err, "backend", *storageKind)
		return exitStorageSetupError
	}
	defer store.Close()

	workerID := core.NewID()
	driver := core.Driver{ID: workerID, Address: *addr, Heartbeat: time.Now()}
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		slog.Error("begin transaction for driver registration failed", "error", err)
		return exitStorageError
	}
	if err := store.Metadata().AddDriver(conn, driver); err != nil {
		_ = conn.Rollback()
		slog.Error("register worker driver failed", "error", err)
		return exitStorageError
	}
	if err := conn.Commit(); err != nil {
		slog.Error("commit worker driver registration failed", "error", err)
		return exitStorageError
	}

	storageURL := *storageKind + ":" + *dbPath
	w := worker.NewWorker(workerID, *addr, store, worker.NewSchedulerClient(*schedulerAddr), storageURL, libs)
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Timeout(2*time.Second))
		if err != nil {
			slog.Warn("nats connect failed, task.ready notifications disabled", "error", err)
		} else {
			defer nc.Close()
			w.NATS = nc
		}
	}
	slog.Info("spider-worker started", "worker_id", workerID, "addr", *addr, "scheduler", *schedulerAddr)

	go func() {
		<-ctx.Done()
		worker.RequestStop()
	}()

	if err := w.Run(ctx); err != nil {
		slog.Error("worker run loop exited with error", "error", err)
		return exitStorageError
	}
	slog.Info("spider-worker stopped")
	return exitOK
}

func openStore(kind, dbPath string) (storage.Store, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "bolt", "":
		return boltstore.Open(dbPath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// openStoreResilient opens the storage backend behind an
// internal/resilience.CircuitBreaker guarding connection-establishment
// failures (spec.md §4.8): a streak of failed opens trips the breaker so
// later attempts fail fast instead of each paying a fresh bbolt-file-lock
// timeout against a store that is not coming back up.
func openStoreResilient(kind, dbPath string) (storage.Store, error) {
	const maxAttempts = 5
	breaker := resilience.NewCircuitBreaker(30*time.Second, 6, 3, 0.5, 5*time.Second, 1)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !breaker.Allow() {
			return nil, fmt.Errorf("open storage: circuit breaker open after repeated failures: %w", lastErr)
		}
		store, err := openStore(kind, dbPath)
		breaker.RecordResult(err == nil)
		if err == nil {
			return store, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return nil, lastErr
}


// Command spider-scheduler runs the scheduler<->worker RPC surface
// (spec.md §6) plus a periodic dead-driver sweep, grounded on
// services/orchestrator/main.go's flag/signal/otel/http wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/swarmgraph/spider/internal/client"
	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/maintenance"
	"github.com/swarmgraph/spider/internal/obs"
	"github.com/swarmgraph/spider/internal/obslog"
	"github.com/swarmgraph/spider/internal/recovery"
	"github.com/swarmgraph/spider/internal/resilience"
	"github.com/swarmgraph/spider/internal/scheduler"
	"github.com/swarmgraph/spider/internal/storage"
	"github.com/swarmgraph/spider/internal/storage/boltstore"
	"github.com/swarmgraph/spider/internal/storage/memory"
)

func init() {
	// Wires internal/client's on-demand Recover to internal/recovery's
	// Planner without internal/client importing internal/recovery
	// directly (that import would point the wrong way: recovery is a
	// leaf over storage/core, client is the thing that calls it).
	client.NewRecoveryPlanner = func(jobID core.ID, conn storage.Connection, meta storage.MetadataStore, data storage.DataStore) interface {
		ComputeGraph() error
		GetReadyTasks() []core.ID
		GetPendingTasks() []core.ID
		PriorState(id core.ID) core.TaskState
	} {
		return recovery.NewPlanner(jobID, conn, meta, data)
	}
}

// Exit codes mirror the worker's convention (spec.md §6): 0 clean exit,
// 1 bad CLI usage, 4 storage bootstrap failure.
const (
	exitOK           = 0
	exitBadCLI       = 1
	exitStorageSetup = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":7000", "scheduler listen address")
	dbPath := flag.String("db", "spider-scheduler.db", "bolt database path (ignored with -storage=memory)")
	storageKind := flag.String("storage", "bolt", "storage backend: bolt or memory")
	sweepSpec := flag.String("sweep_cron", "*/5 * * * * *", "cron spec for the dead-driver heartbeat sweep")
	compactSpec := flag.String("compact_cron", "0 */10 * * * *", "cron spec for task-version-history compaction")
	compactAfter := flag.Duration("compact_after", 24*time.Hour, "age beyond which a task's superseded version rows are compacted")
	natsURL := flag.String("nats_url", "", "NATS server URL for advisory job-lifecycle events (disabled if empty)")
	flag.Parse()
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "spider-scheduler: unexpected arguments: %v\n", flag.Args())
		return exitBadCLI
	}

	obslog.Init("spider-scheduler")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace := obs.InitTracer(ctx, "spider-scheduler")
	shutdownMetrics, promHandler, _ := obs.InitMetrics(ctx, "spider-scheduler")
	defer obs.Flush(context.Background(), shutdownTrace)
	defer func() { _ = shutdownMetrics(context.Background()) }()

	store, err := openStoreResilient(*storageKind, *dbPath)
	if err != nil {
		slog.Error("open storage failed", "error", err, "backend", *storageKind)
		return exitStorageSetup
	}
	defer store.Close()

	meter := otel.GetMeterProvider().Meter("spider-scheduler")
	policy := scheduler.NewPolicy(store, meter)
	server := scheduler.NewServer(policy, store)
	if h, ok := promHandler.(http.Handler); ok {
		server.SetMetricsHandler(h)
	}
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Timeout(2*time.Second))
		if err != nil {
			slog.Warn("nats connect failed, job-lifecycle notifications disabled", "error", err)
		} else {
			defer nc.Close()
			server.SetNATS(nc)
		}
	}

	sweeper := maintenance.NewScheduler()
	if err := sweeper.AddJob("dead-driver-sweep", *sweepSpec, func(ctx context.Context) {
		sweepDeadDrivers(ctx, store)
	}); err != nil {
		slog.Error("schedule dead-driver sweep failed", "error", err)
		return exitStorageSetup
	}
	if bs, ok := store.(*boltstore.Store); ok {
		if err := sweeper.AddJob("version-compaction", *compactSpec, func(ctx context.Context) {
			compactVersions(ctx, bs, *compactAfter)
		}); err != nil {
			slog.Error("schedule version compaction failed", "error", err)
			return exitStorageSetup
		}
	} else {
		slog.Info("version compaction skipped: in-memory backend keeps no version history", "backend", *storageKind)
	}
	sweeper.Start()
	defer sweeper.Stop(context.Background())

	httpSrv := &http.Server{Addr: *addr, Handler: server.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("spider-scheduler started", "addr", *addr, "storage", *storageKind)
	<-ctx.Done()
	slog.Info("spider-scheduler shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
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

// compactVersions trims task_versions rows older than olderThan
// (SPEC_FULL.md §2: "result-cache/version-history compaction"), grounded
// on services/orchestrator/persistence.go's WorkflowStore.Compact.
func compactVersions(ctx context.Context, bs *boltstore.Store, olderThan time.Duration) {
	removed, err := bs.Compact(ctx, olderThan)
	if err != nil {
		slog.Error("version compaction failed", "error", err)
		return
	}
	slog.Info("version compaction complete", "removed", removed)
}

// sweepDeadDrivers reclaims tasks still Running under a driver whose
// heartbeat has gone stale (spec.md §4.7), putting each back to Ready so
// the next worker poll can pick it up. Full upstream-Failed propagation
// for a specific job is handled on demand by spider-cli's recover
// command, where the job id is already known.
func sweepDeadDrivers(ctx context.Context, store storage.Store) {
	conn, err := store.BeginTransaction(ctx)
	if err != nil {
		slog.Error("sweep: begin transaction failed", "error", err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = conn.Rollback()
		}
	}()

	meta := store.Metadata()
	running, err := meta.ListRunningInstances(conn)
	if err != nil {
		slog.Error("sweep: list running instances failed", "error", err)
		return
	}
	now := time.Now()
	for _, inst := range running {
		driver, err := meta.GetDriver(conn, inst.WorkerID)
		if err != nil {
			continue
		}
		if !driver.IsDead(now, recovery.DeadThreshold) {
			continue
		}
		if err := meta.SetTaskState(conn, inst.TaskID, core.TaskRunning, core.TaskReady); err != nil {
			slog.Warn("sweep: reclaim task failed", "task_id", inst.TaskID, "error", err)
		} else {
			slog.Info("sweep: reclaimed task from dead driver", "task_id", inst.TaskID, "driver_id", inst.WorkerID)
		}
	}
	committed = true
	if err := conn.Commit(); err != nil {
		slog.Error("sweep: commit failed", "error", err)
	}
}

package scheduler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmgraph/spider/internal/client"
	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/storage"
)

// Server exposes the scheduler<->worker RPC (spec.md §6) over plain
// HTTP/JSON, matching the http.ServeMux-based surface of
// services/orchestrator/main.go rather than introducing a new transport.
// SPEC_FULL.md §6 additionally routes the submission-CLI's job
// submit/status/remove/recover operations through this same surface
// rather than a second transport.
type Server struct {
	policy     *Policy
	store      storage.Store
	nats       *nats.Conn
	metricsMux http.Handler

	mu        sync.Mutex
	cancelled map[core.ID]bool
}

func NewServer(policy *Policy, store storage.Store) *Server {
	return &Server{policy: policy, store: store, cancelled: make(map[core.ID]bool)}
}

// SetNATS attaches an optional NATS connection used to publish advisory
// job.submitted events on job submission (SPEC_FULL.md §4.2). A nil
// connection (the default) makes Publish a silent no-op.
func (s *Server) SetNATS(nc *nats.Conn) { s.nats = nc }

// SetMetricsHandler mirrors services/orchestrator/main.go's promHandler
// wiring: main.go obtains an any from obs.InitMetrics and mounts it at
// /metrics only when it is a non-nil http.Handler. obs.InitMetrics never
// produces one (this module has no Prometheus scrape bridge, only OTLP
// push), so in practice this is never called with a non-nil handler; the
// seam exists so adding one later is a one-line change in main.go, not a
// change to this server.
func (s *Server) SetMetricsHandler(h http.Handler) { s.metricsMux = h }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/tasks/next", s.handleNextTask)
	mux.HandleFunc("/v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/v1/tasks/cancel", s.handleCancel)
	mux.HandleFunc("/v1/jobs", s.handleJobs)
	mux.HandleFunc("/v1/jobs/", s.handleJobByID)
	if s.metricsMux != nil {
		mux.Handle("/metrics", s.metricsMux)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type nextTaskRequest struct {
	WorkerID        string  `json:"worker_id"`
	WorkerAddress   string  `json:"worker_address"`
	LastFailedTask  *string `json:"last_failed_task_id,omitempty"`
}

type nextTaskResponse struct {
	TaskID     *string `json:"task_id,omitempty"`
	InstanceID *string `json:"instance_id,omitempty"`
}

func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req nextTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	workerID, err := core.ParseID(req.WorkerID)
	if err != nil {
		http.Error(w, "invalid worker_id", http.StatusBadRequest)
		return
	}
	var lastFailed *core.ID
	if req.LastFailedTask != nil {
		id, err := core.ParseID(*req.LastFailedTask)
		if err != nil {
			http.Error(w, "invalid last_failed_task_id", http.StatusBadRequest)
			return
		}
		lastFailed = &id
	}

	taskID, instanceID, err := s.policy.GetNextTask(r.Context(), workerID, req.WorkerAddress, lastFailed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := nextTaskResponse{}
	if taskID != nil {
		ts := taskID.String()
		is := instanceID.String()
		resp.TaskID = &ts
		resp.InstanceID = &is
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type heartbeatRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	driverID, err := core.ParseID(req.DriverID)
	if err != nil {
		http.Error(w, "invalid driver_id", http.StatusBadRequest)
		return
	}
	conn, err := s.store.BeginTransaction(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.Metadata().UpdateHeartbeat(conn, driverID); err != nil {
		_ = conn.Rollback()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := conn.Commit(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	TaskID string `json:"task_id"`
}

// handleCancel records a best-effort cancellation request (spec.md §6:
// "cancel(task_id) (scheduler->worker, best effort)"). The request is held
// in this Server only: IsCancelled reads it, but no route exposes it and
// the worker runtime never asks, so a running task is not interrupted.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	taskID, err := core.ParseID(req.TaskID)
	if err != nil {
		http.Error(w, "invalid task_id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.cancelled[taskID] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

// IsCancelled reports and clears a pending best-effort cancellation for
// taskID.
func (s *Server) IsCancelled(taskID core.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled[taskID] {
		delete(s.cancelled, taskID)
		return true
	}
	return false
}

type submitJobRequest struct {
	ClientID string          `json:"client_id"`
	Graph    client.GraphDoc `json:"graph"`
}

type submitJobResponse struct {
	JobID string            `json:"job_id"`
	Tasks map[string]string `json:"tasks"` // document task name -> assigned task id
}

// handleJobs serves POST /v1/jobs: submit_job (spec.md §4.2), driven by
// cmd/spider-cli's submit command.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientID, err := core.ParseID(req.ClientID)
	if err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}
	graph, nameToID, err := req.Graph.Build()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jobID, err := client.SubmitJob(r.Context(), s.store, s.nats, clientID, graph)
	if err != nil {
		writeClientErr(w, err)
		return
	}
	resp := submitJobResponse{JobID: jobID.String(), Tasks: make(map[string]string, len(nameToID))}
	for name, id := range nameToID {
		resp.Tasks[name] = id.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleJobByID routes the /v1/jobs/{id}[/recover] family: GET
// for status, DELETE for remove_job, POST .../recover for the on-demand
// recovery pass (spec.md §4.4).
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	rest = strings.Trim(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	jobID, err := core.ParseID(parts[0])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleJobStatus(w, r, jobID)
	case sub == "" && r.Method == http.MethodDelete:
		s.handleJobRemove(w, r, jobID)
	case sub == "recover" && r.Method == http.MethodPost:
		s.handleJobRecover(w, r, jobID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type taskStatusResponse struct {
	TaskID     string `json:"task_id"`
	Function   string `json:"function"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, jobID core.ID) {
	statuses, err := client.JobStatus(r.Context(), s.store, jobID)
	if err != nil {
		writeClientErr(w, err)
		return
	}
	resp := make([]taskStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, taskStatusResponse{
			TaskID:     st.TaskID.String(),
			Function:   st.Function,
			State:      st.State.String(),
			RetryCount: st.RetryCount,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleJobRemove(w http.ResponseWriter, r *http.Request, jobID core.ID) {
	if err := client.RemoveJob(r.Context(), s.store, jobID); err != nil {
		writeClientErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recoverResponse struct {
	ReadyTasks   []string `json:"ready_tasks"`
	PendingTasks []string `json:"pending_tasks"`
}

func (s *Server) handleJobRecover(w http.ResponseWriter, r *http.Request, jobID core.ID) {
	report, err := client.Recover(r.Context(), s.store, jobID)
	if err != nil {
		writeClientErr(w, err)
		return
	}
	resp := recoverResponse{
		ReadyTasks:   idsToStrings(report.ReadyTasks),
		PendingTasks: idsToStrings(report.PendingTasks),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func idsToStrings(ids []core.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// writeClientErr maps a core.ClientErr's kind to an HTTP status,
// defaulting to 500 for an unrecognized error.
func writeClientErr(w http.ResponseWriter, err error) {
	if ce, ok := err.(*core.ClientErr); ok {
		switch ce.Kind {
		case core.ClientTaskNotFound:
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case core.ClientDuplicateTask:
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

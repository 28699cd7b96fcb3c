package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmgraph/spider/internal/core"
)

func TestSchedulerClientGetNextTaskDispatched(t *testing.T) {
	wantTask := core.NewID()
	wantInstance := core.NewID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nextTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.WorkerAddress != "127.0.0.1:9000" {
			t.Fatalf("WorkerAddress = %q, want 127.0.0.1:9000", req.WorkerAddress)
		}
		taskID, instanceID := wantTask.String(), wantInstance.String()
		json.NewEncoder(w).Encode(nextTaskResponse{TaskID: &taskID, InstanceID: &instanceID})
	}))
	defer srv.Close()

	c := NewSchedulerClient(srv.URL)
	gotTask, gotInstance, err := c.GetNextTask(context.Background(), core.NewID(), "127.0.0.1:9000", nil)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if gotTask == nil || *gotTask != wantTask {
		t.Fatalf("task = %v, want %v", gotTask, wantTask)
	}
	if gotInstance == nil || *gotInstance != wantInstance {
		t.Fatalf("instance = %v, want %v", gotInstance, wantInstance)
	}
}

func TestSchedulerClientGetNextTaskNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(nextTaskResponse{})
	}))
	defer srv.Close()

	c := NewSchedulerClient(srv.URL)
	gotTask, gotInstance, err := c.GetNextTask(context.Background(), core.NewID(), "", nil)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if gotTask != nil || gotInstance != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", gotTask, gotInstance)
	}
}

func TestSchedulerClientGetNextTaskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSchedulerClient(srv.URL)
	_, _, err := c.GetNextTask(context.Background(), core.NewID(), "", nil)
	if err == nil {
		t.Fatal("expected an error when the scheduler returns a non-200 status")
	}
}

func TestSchedulerClientHeartbeat(t *testing.T) {
	var gotDriverID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DriverID string `json:"driver_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotDriverID = body.DriverID
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	driverID := core.NewID()
	c := NewSchedulerClient(srv.URL)
	if err := c.Heartbeat(context.Background(), driverID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if gotDriverID != driverID.String() {
		t.Fatalf("server saw driver_id %q, want %q", gotDriverID, driverID.String())
	}
}

func TestSchedulerClientHeartbeatUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSchedulerClient(srv.URL)
	if err := c.Heartbeat(context.Background(), core.NewID()); err == nil {
		t.Fatal("expected an error when the scheduler does not return 204")
	}
}

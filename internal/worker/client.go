package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmgraph/spider/internal/core"
)

// SchedulerClient is the worker's view of the scheduler<->worker RPC
// (spec.md §6), implemented over the plain HTTP/JSON surface
// internal/scheduler.Server exposes.
type SchedulerClient struct {
	baseURL string
	http    *http.Client
}

func NewSchedulerClient(baseURL string) *SchedulerClient {
	return &SchedulerClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type nextTaskRequest struct {
	WorkerID       string  `json:"worker_id"`
	WorkerAddress  string  `json:"worker_address"`
	LastFailedTask *string `json:"last_failed_task_id,omitempty"`
}

type nextTaskResponse struct {
	TaskID     *string `json:"task_id,omitempty"`
	InstanceID *string `json:"instance_id,omitempty"`
}

// GetNextTask implements the worker side of get_next_task. Returns
// (nil, nil, nil) when the scheduler has no dispatchable task.
func (c *SchedulerClient) GetNextTask(ctx context.Context, workerID core.ID, workerAddress string, lastFailedTaskID *core.ID) (*core.ID, *core.ID, error) {
	req := nextTaskRequest{WorkerID: workerID.String(), WorkerAddress: workerAddress}
	if lastFailedTaskID != nil {
		s := lastFailedTaskID.String()
		req.LastFailedTask = &s
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks/next", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("scheduler returned status %d", resp.StatusCode)
	}
	var out nextTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, err
	}
	if out.TaskID == nil {
		return nil, nil, nil
	}
	taskID, err := core.ParseID(*out.TaskID)
	if err != nil {
		return nil, nil, err
	}
	instanceID, err := core.ParseID(*out.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	return &taskID, &instanceID, nil
}

// Heartbeat implements the worker side of heartbeat(worker_id).
func (c *SchedulerClient) Heartbeat(ctx context.Context, driverID core.ID) error {
	body, _ := json.Marshal(struct {
		DriverID string `json:"driver_id"`
	}{DriverID: driverID.String()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}

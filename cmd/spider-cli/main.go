// Command spider-cli is a thin submission client for the scheduler's
// HTTP surface (SPEC_FULL.md §6): submit a job from a JSON graph
// document, query job/task status, remove a job, or request an
// on-demand recovery pass. It is not the user-facing client-side DSL
// spec.md §1 places out of scope - that surface is registration macros
// and generated bindings; this is the minimal wire client the §8
// end-to-end scenarios need to actually submit something.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/swarmgraph/spider/internal/client"
	"github.com/swarmgraph/spider/internal/core"
)

const (
	exitOK       = 0
	exitBadCLI   = 1
	exitRPCError = 5
	exitNotFound = 6
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitBadCLI
	}

	fs := flag.NewFlagSet("spider-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	schedulerAddr := fs.String("scheduler_addr", envDefault("SPIDER_SCHEDULER_ADDR", "http://127.0.0.1:7000"), "scheduler base URL")

	sub := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return exitBadCLI
	}

	c := &cliClient{baseURL: *schedulerAddr, http: &http.Client{Timeout: 10 * time.Second}}

	switch sub {
	case "submit":
		return cmdSubmit(c, fs.Args(), stdout, stderr)
	case "status":
		return cmdStatus(c, fs.Args(), stdout, stderr)
	case "remove":
		return cmdRemove(c, fs.Args(), stdout, stderr)
	case "recover":
		return cmdRecover(c, fs.Args(), stdout, stderr)
	default:
		usage(stderr)
		return exitBadCLI
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: spider-cli [-scheduler_addr url] <submit|status|remove|recover> <args>")
	fmt.Fprintln(w, "  submit <graph.json> [client_id]   submit a job from a JSON graph document")
	fmt.Fprintln(w, "  status <job_id>                   print every task's state")
	fmt.Fprintln(w, "  remove <job_id>                   cascade-remove a job")
	fmt.Fprintln(w, "  recover <job_id>                  run the recovery pass, print ready/pending tasks")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cliClient is the CLI's own thin HTTP wrapper over the scheduler's job
// endpoints - distinct from internal/worker.SchedulerClient, which talks
// the get_next_task/heartbeat/cancel worker RPC, not the job endpoints.
type cliClient struct {
	baseURL string
	http    *http.Client
}

func (c *cliClient) do(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type submitJobRequest struct {
	ClientID string          `json:"client_id"`
	Graph    client.GraphDoc `json:"graph"`
}

type submitJobResponse struct {
	JobID string            `json:"job_id"`
	Tasks map[string]string `json:"tasks"`
}

func cmdSubmit(c *cliClient, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: spider-cli submit <graph.json> [client_id]")
		return exitBadCLI
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(stderr, "read graph document:", err)
		return exitBadCLI
	}
	doc, err := client.ParseGraphDoc(raw)
	if err != nil {
		fmt.Fprintln(stderr, "parse graph document:", err)
		return exitBadCLI
	}
	// Validate locally before round-tripping to the scheduler, so a
	// malformed graph document fails fast with the same GraphErr the
	// scheduler would otherwise return over HTTP.
	if _, _, err := doc.Build(); err != nil {
		fmt.Fprintln(stderr, "invalid graph document:", err)
		return exitBadCLI
	}

	clientID := core.NewID()
	if len(args) >= 2 {
		id, err := core.ParseID(args[1])
		if err != nil {
			fmt.Fprintln(stderr, "invalid client_id:", err)
			return exitBadCLI
		}
		clientID = id
	}

	var resp submitJobResponse
	if _, err := c.do(http.MethodPost, "/v1/jobs", submitJobRequest{ClientID: clientID.String(), Graph: *doc}, &resp); err != nil {
		fmt.Fprintln(stderr, err)
		return exitRPCError
	}
	fmt.Fprintln(stdout, "job:", resp.JobID)
	for name, id := range resp.Tasks {
		fmt.Fprintf(stdout, "  task %s -> %s\n", name, id)
	}
	return exitOK
}

type taskStatusResponse struct {
	TaskID     string `json:"task_id"`
	Function   string `json:"function"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
}

func cmdStatus(c *cliClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: spider-cli status <job_id>")
		return exitBadCLI
	}
	var resp []taskStatusResponse
	status, err := c.do(http.MethodGet, "/v1/jobs/"+args[0], nil, &resp)
	if err != nil {
		fmt.Fprintln(stderr, err)
		if status == http.StatusNotFound {
			return exitNotFound
		}
		return exitRPCError
	}
	for _, t := range resp {
		fmt.Fprintf(stdout, "%s  %-20s  %-10s  retries=%d\n", t.TaskID, t.Function, t.State, t.RetryCount)
	}
	return exitOK
}

func cmdRemove(c *cliClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: spider-cli remove <job_id>")
		return exitBadCLI
	}
	status, err := c.do(http.MethodDelete, "/v1/jobs/"+args[0], nil, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		if status == http.StatusNotFound {
			return exitNotFound
		}
		return exitRPCError
	}
	fmt.Fprintln(stdout, "removed job", args[0])
	return exitOK
}

type recoverResponse struct {
	ReadyTasks   []string `json:"ready_tasks"`
	PendingTasks []string `json:"pending_tasks"`
}

func cmdRecover(c *cliClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: spider-cli recover <job_id>")
		return exitBadCLI
	}
	var resp recoverResponse
	status, err := c.do(http.MethodPost, "/v1/jobs/"+args[0]+"/recover", nil, &resp)
	if err != nil {
		fmt.Fprintln(stderr, err)
		if status == http.StatusNotFound {
			return exitNotFound
		}
		return exitRPCError
	}
	fmt.Fprintln(stdout, "ready:", resp.ReadyTasks)
	fmt.Fprintln(stdout, "pending:", resp.PendingTasks)
	return exitOK
}

// Package plugins registers a small set of built-in task functions
// beyond bare arithmetic, so the domain stack gets exercised end to end
// (SPEC_FULL.md §4.6 expansion). Grounded on the plugin-registry shape of
// services/orchestrator/plugins.go (interface + constructor-per-kind +
// central registry) adapted to the one-shot Task contract: no long-lived
// plugin state, no workflow templating context, just a TaskFunc
// registered the same way any user task function is.
package plugins

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
)

// httpClient is a single pooled client shared by every http.fetch
// invocation in this process, grounded on HTTPPlugin's
// MaxIdleConns/MaxIdleConnsPerHost/IdleConnTimeout tuning in
// services/orchestrator/plugins.go.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// maxHTTPResponseBytes bounds the response body read, matching the 10MB
// cap in HTTPPlugin.Execute.
const maxHTTPResponseBytes = 10 << 20

func init() {
	executor.Register("http.fetch", httpFetch)
}

// httpFetch issues an HTTP request against a URL literal input. Args:
// [0] method ("GET"/"POST"/...), [1] url, [2] optional request body.
// Returns one output: the response body bytes.
func httpFetch(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) < 2 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "http.fetch requires method and url arguments")
	}
	method := string(args[0])
	url := string(args[1])
	var body io.Reader
	if len(args) > 2 && len(args[2]) > 0 {
		body = bytes.NewReader(args[2])
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "build request: %v", err)
	}
	req.Header.Set("X-Spider-Task-Id", ctx.TaskID.String())

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "http request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, core.NewTaskExecutionErr(core.TaskFailed, "http %d: %s", resp.StatusCode, respBody)
	}
	return [][]byte{respBody}, nil
}

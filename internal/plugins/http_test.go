package plugins

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmgraph/spider/internal/core"
)

func TestHTTPFetchGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Spider-Task-Id") == "" {
			t.Error("expected X-Spider-Task-Id header to be set")
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	ctx := &core.TaskContext{TaskID: core.NewID()}
	out, err := httpFetch(ctx, [][]byte{[]byte("GET"), []byte(srv.URL)})
	if err != nil {
		t.Fatalf("httpFetch: %v", err)
	}
	if len(out) != 1 || string(out[0]) != "hello" {
		t.Fatalf("httpFetch output = %q, want [hello]", out)
	}
}

func TestHTTPFetchPostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	ctx := &core.TaskContext{TaskID: core.NewID()}
	out, err := httpFetch(ctx, [][]byte{[]byte("POST"), []byte(srv.URL), []byte("payload")})
	if err != nil {
		t.Fatalf("httpFetch: %v", err)
	}
	if len(out) != 1 || string(out[0]) != "payload" {
		t.Fatalf("httpFetch output = %q, want [payload]", out)
	}
}

func TestHTTPFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx := &core.TaskContext{TaskID: core.NewID()}
	if _, err := httpFetch(ctx, [][]byte{[]byte("GET"), []byte(srv.URL)}); err == nil {
		t.Fatal("expected httpFetch to return an error on a 404 response")
	}
}

func TestHTTPFetchMissingArgs(t *testing.T) {
	ctx := &core.TaskContext{TaskID: core.NewID()}
	if _, err := httpFetch(ctx, [][]byte{[]byte("GET")}); err == nil {
		t.Fatal("expected httpFetch to reject a missing url argument")
	}
}

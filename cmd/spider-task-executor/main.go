// Command spider-task-executor is the one-shot child process spawned by
// spider-worker for a single task attempt (spec.md §4.6). It reads a
// framed Args message from stdin, looks up the named function in the
// explicit registry (internal/executor.Lookup), runs it, and writes a
// framed Result or Error message to stdout before exiting. Blank imports
// of internal/plugins register the built-in task functions; a real
// deployment would additionally import whatever --libs name via a
// plugin-loading mechanism this corpus has no precedent for (Go has no
// dlopen-equivalent shared-library loading the way the original
// FunctionNameManager relied on), so --libs is accepted for CLI parity
// but only in-registry functions are reachable.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
	_ "github.com/swarmgraph/spider/internal/plugins"
)

// libsFlag accumulates repeated -libs arguments; see the package doc for
// why they are currently inert.
type libsFlag []string

func (l *libsFlag) String() string { return fmt.Sprint([]string(*l)) }
func (l *libsFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	function := flag.String("function", "", "registered task function name")
	taskID := flag.String("task_id", "", "task id, for diagnostics and TaskContext")
	storageURL := flag.String("storage_url", "", "storage backend connection string (unused: all inputs arrive pre-resolved over the pipe)")
	var libs libsFlag
	flag.Var(&libs, "libs", "task-providing library path (repeatable, currently inert - see package doc)")
	flag.Parse()
	_ = storageURL

	if *function == "" {
		fmt.Fprintln(os.Stderr, "spider-task-executor: -function is required")
		return 1
	}
	tid, err := core.ParseID(*taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: invalid -task_id: %v\n", err)
		return 1
	}

	fn, ok := executor.Lookup(*function)
	if !ok {
		writeError(core.TaskFailed, fmt.Sprintf("function %q is not registered", *function))
		return 1
	}

	msg, err := executor.ReceiveMessage(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: read args: %v\n", err)
		return 1
	}
	if msg.Type != executor.MessageArgs {
		writeError(core.TaskArgumentInvalid, fmt.Sprintf("expected Args message, got %s", msg.Type))
		return 1
	}
	payload, err := executor.DecodeArgs(msg.Body)
	if err != nil {
		writeError(core.TaskArgumentInvalid, fmt.Sprintf("decode args: %v", err))
		return 1
	}

	taskCtx := &core.TaskContext{TaskID: tid}
	outputs, err := fn(taskCtx, payload.Args)
	if err != nil {
		kind := core.TaskFailed
		if te, ok := err.(*core.TaskExecutionErr); ok {
			kind = te.Kind
		}
		writeError(kind, err.Error())
		return 1
	}

	body, err := executor.EncodeResult(outputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: encode result: %v\n", err)
		return 1
	}
	if err := executor.SendMessage(os.Stdout, executor.Message{Type: executor.MessageResult, Body: body}); err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: write result: %v\n", err)
		return 1
	}
	return 0
}

func writeError(kind core.TaskExecutionErrKind, message string) {
	body, err := executor.EncodeError(kind, message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: encode error frame: %v\n", err)
		return
	}
	if err := executor.SendMessage(os.Stdout, executor.Message{Type: executor.MessageError, Body: body}); err != nil {
		fmt.Fprintf(os.Stderr, "spider-task-executor: write error frame: %v\n", err)
	}
}

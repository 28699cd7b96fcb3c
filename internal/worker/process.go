package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
)

// ExecutorPath is the path (or PATH-resolved name) of the
// spider-task-executor binary spawned for every task, grounded on
// boost::dll::program_location()'s "look next to the running binary"
// default in worker.cpp; overridable for tests.
var ExecutorPath = "spider-task-executor"

// TaskExecutor supervises one child task-executor process for the
// duration of a single task execution (original_source
// src/spider/worker/Process.hpp/cpp +
// src/spider/worker/TaskExecutor.hpp): it spawns the child, writes the
// framed argument message to its stdin, reads the framed result from its
// stdout, and exposes Wait/Kill so the caller can register the pid with
// ChildPID before signals might arrive.
type TaskExecutor struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr bytes.Buffer
}

// Spawn starts the task executor child process for task against
// storageURL and libs (registered-task-providing arguments, carried
// for parity with the CLI surface; this Go runtime uses an in-process
// registry rather than shared libraries - see internal/executor).
func Spawn(ctx context.Context, task core.Task, storageURL string, libs []string, argBuffers [][]byte) (*TaskExecutor, error) {
	args := []string{
		"--function", task.FunctionName,
		"--task_id", task.ID.String(),
		"--storage_url", storageURL,
	}
	for _, l := range libs {
		args = append(args, "--libs", l)
	}

	cmd := exec.CommandContext(ctx, ExecutorPath, args...)
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	te := &TaskExecutor{cmd: cmd}
	cmd.Stderr = &te.stderr

	if err := cmd.Start(); err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("start task executor: %w", err)
	}
	// The parent only ever touches its own ends of the pipes; the
	// child's ends were duped into the child process by Start.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	te.stdin = stdinW
	te.stdout = stdoutR

	SetChildPID(cmd.Process.Pid)
	if IsStopRequested() {
		// Double-check after registering the pid, in case SIGTERM
		// arrived between the fork and SetChildPID (worker.cpp does the
		// same re-check around ChildPid::set_pid).
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	body, err := executor.EncodeArgs(argBuffers)
	if err != nil {
		_ = te.stdin.Close()
		return te, fmt.Errorf("encode args: %w", err)
	}
	if err := executor.SendMessage(te.stdin, executor.Message{Type: executor.MessageArgs, Body: body}); err != nil {
		_ = te.stdin.Close()
		return te, fmt.Errorf("write args to child: %w", err)
	}
	_ = te.stdin.Close()

	return te, nil
}

// Result reads the framed result or error message from the child's
// stdout, then waits for process exit. A pipe EOF before any message is
// received is reported as ProtocolPipeEOF (spec.md §4.6: "EOF on the
// pipe = child died; parent converts to a task failure").
func (te *TaskExecutor) Result() ([][]byte, error) {
	msg, readErr := executor.ReceiveMessage(te.stdout)
	waitErr := te.cmd.Wait()
	SetChildPID(0)

	if readErr != nil {
		if waitErr != nil {
			if code, signaled := exitSignalCode(waitErr); signaled {
				return nil, fmt.Errorf("%w (exit %d, stderr: %s)", core.NewProtocolErr(core.ProtocolPipeEOF, "task executor killed"), code, te.stderr.String())
			}
			return nil, fmt.Errorf("%w (wait: %v, stderr: %s)", core.NewProtocolErr(core.ProtocolPipeEOF, "task executor exited without a result"), waitErr, te.stderr.String())
		}
		return nil, fmt.Errorf("%w: %v", core.NewProtocolErr(core.ProtocolPipeEOF, "child pipe closed unexpectedly"), readErr)
	}

	switch msg.Type {
	case executor.MessageResult:
		payload, err := executor.DecodeResult(msg.Body)
		if err != nil {
			return nil, core.NewProtocolErr(core.ProtocolBadFrame, "decode result: %v", err)
		}
		return payload.Outputs, nil
	case executor.MessageError:
		payload, err := executor.DecodeError(msg.Body)
		if err != nil {
			return nil, core.NewProtocolErr(core.ProtocolBadFrame, "decode error frame: %v", err)
		}
		return nil, core.NewTaskExecutionErr(payload.Kind, "%s", payload.Message)
	default:
		return nil, core.NewProtocolErr(core.ProtocolBadFrame, "unexpected message type %s", msg.Type)
	}
}

// Terminate sends SIGTERM to the child, matching the SIGTERM handler's
// kill(ChildPid::get_pid(), SIGTERM).
func (te *TaskExecutor) Terminate() {
	if te.cmd.Process != nil {
		_ = te.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// exitSignalCode converts a process signal-termination exit into the
// 128+signum convention used by the CLI surface (spec.md §6).
func exitSignalCode(err error) (int, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return 128 + int(status.Signal()), true
}

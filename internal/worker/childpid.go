package worker

import "sync/atomic"

// childPID holds the OS process id of the currently running task
// executor child, or 0 if none. It is the only other piece of state the
// signal handler touches (spec.md §5: "the StopFlag and current-child-PID
// are atomic singletons, the only mutable state shared between the
// signal handler and normal threads"), grounded on ChildPid.hpp/cpp.
var childPID atomic.Int32

// SetChildPID records the pid of the task executor currently running, or
// 0 once it has exited.
func SetChildPID(pid int) {
	childPID.Store(int32(pid))
}

// GetChildPID returns the pid recorded by the most recent SetChildPID
// call.
func GetChildPID() int {
	return int(childPID.Load())
}

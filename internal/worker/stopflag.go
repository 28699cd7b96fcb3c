// Package worker implements the worker runtime of spec.md §4.5: a
// steady-state fetch-execute loop that isolates each task in a child
// executor process. StopFlag and ChildPID below are the signal-safe
// singletons of spec.md §4.5/§9, grounded on
// original_source/src/spider/utils/StopFlag.hpp and
// original_source/src/spider/worker/ChildPid.hpp - re-architected per
// §9 as atomic state objects behind a narrow API rather than C++
// singletons, since Go has no process-wide static-initialization-order
// hazard to route around.
package worker

import "sync/atomic"

// StopFlag is a process-wide, signal-safe flag requesting cooperative
// shutdown. A SIGTERM handler calls RequestStop; task_loop and
// heartbeat_loop poll IsStopRequested between iterations.
type StopFlag struct {
	stop atomic.Bool
}

// globalStopFlag is the single instance shared between the signal
// handler and the worker's threads, matching StopFlag::m_stop.
var globalStopFlag StopFlag

// RequestStop sets the stop flag.
func RequestStop() {
	globalStopFlag.stop.Store(true)
}

// IsStopRequested reports whether a stop has been requested.
func IsStopRequested() bool {
	return globalStopFlag.stop.Load()
}

// ResetStopFlag clears the stop flag. Exposed for tests that run
// multiple worker lifecycles in one process.
func ResetStopFlag() {
	globalStopFlag.stop.Store(false)
}

package worker

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandler registers a SIGTERM handler matching worker.cpp's
// stop_task_handler: it sets the stop flag and forwards SIGTERM to the
// currently registered child pid, never touching the pipes itself
// (spec.md §9: "the signal handler only sets an atomic flag and forwards
// the signal to the child PID, never touches the pipe"). Returns a stop
// function to deregister the handler.
func InstallSignalHandler() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				RequestStop()
				if pid := GetChildPID(); pid > 0 {
					_ = syscall.Kill(pid, syscall.SIGTERM)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

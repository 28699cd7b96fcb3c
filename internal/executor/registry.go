package executor

import (
	"fmt"
	"sync"

	"github.com/swarmgraph/spider/internal/core"
)

// TaskFunc is a registered task function: it receives a TaskContext and
// the serialized argument tuple, and returns serialized output buffers.
type TaskFunc func(ctx *core.TaskContext, args [][]byte) ([][]byte, error)

// registry is the explicit, process-wide function-name table called for
// by spec.md §9 in place of FunctionNameManager's shared-library
// side-effect registration: task-providing packages call Register from
// an init() function at process start, a well-known registration point
// rather than hidden static-initialization order.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]TaskFunc)
)

// Register binds name to fn. Calling Register twice for the same name is
// a programming error and panics at process start, the same way a
// duplicate BOOST_DLL_ALIAS symbol would fail to link.
func Register(name string, fn TaskFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("executor: task function %q already registered", name))
	}
	registry[name] = fn
}

// Lookup returns the function registered under name, if any.
func Lookup(name string) (TaskFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Registered returns the names currently registered, for diagnostics.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

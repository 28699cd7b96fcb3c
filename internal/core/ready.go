package core

// InputResolved reports whether a single TaskInput is resolved: literals
// and data references are always resolved; a task-output edge is
// resolved once upstreamSucceeded reports true for its upstream task.
func InputResolved(in TaskInput, upstreamSucceeded func(ID) bool) bool {
	switch in.Kind {
	case InputLiteral, InputDataRef:
		return true
	case InputTaskOutputEdge:
		return upstreamSucceeded(in.UpstreamTaskID)
	default:
		return false
	}
}

// TaskInputsResolved reports whether every input of t is resolved
// (spec.md §4.2: "A task is Ready iff, for every input of kind
// task-output-edge, the upstream task is Succeeded AND its corresponding
// output has been written").
func TaskInputsResolved(t *Task, upstreamSucceeded func(ID) bool) bool {
	for _, in := range t.Inputs {
		if !InputResolved(in, upstreamSucceeded) {
			return false
		}
	}
	return true
}

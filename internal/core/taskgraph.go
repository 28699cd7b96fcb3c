package core

// TaskGraph is a DAG of tasks with distinguished input/output subsets.
// Edges are implicit in task-input/task-output wiring (InputTaskOutputEdge).
type TaskGraph struct {
	tasks       map[ID]*Task
	order       []ID // insertion order, for deterministic iteration
	inputTasks  map[ID]bool
	outputTasks map[ID]bool
}

// NewTaskGraph returns an empty graph ready for construction.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		tasks:       make(map[ID]*Task),
		inputTasks:  make(map[ID]bool),
		outputTasks: make(map[ID]bool),
	}
}

// AddTask inserts a task into the graph. Fails with GraphDuplicateTaskId
// if a task with the same id is already present.
func (g *TaskGraph) AddTask(t Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return NewGraphErr(GraphDuplicateTaskId, "task %s already in graph", t.ID)
	}
	stored := t
	g.tasks[t.ID] = &stored
	g.order = append(g.order, t.ID)
	return nil
}

// Task returns the task with the given id, if present.
func (g *TaskGraph) Task(id ID) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *TaskGraph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// AddTaskInput appends an input to an existing task. For edge inputs the
// upstream task and output slot must already exist and type-match; use
// BindTaskOutputToTaskInput for that case instead, which performs the
// cycle check this method does not.
func (g *TaskGraph) AddTaskInput(taskID ID, input TaskInput) error {
	t, ok := g.tasks[taskID]
	if !ok {
		return NewGraphErr(GraphUnknownSource, "task %s not in graph", taskID)
	}
	t.AddInput(input)
	return nil
}

// AddTaskOutput appends a declared output slot to an existing task.
func (g *TaskGraph) AddTaskOutput(taskID ID, output TaskOutput) error {
	t, ok := g.tasks[taskID]
	if !ok {
		return NewGraphErr(GraphUnknownSource, "task %s not in graph", taskID)
	}
	t.AddOutput(output)
	return nil
}

// MarkInputTask marks a task as a graph input task. Only a task with no
// incoming task-output edges may be marked.
func (g *TaskGraph) MarkInputTask(taskID ID) error {
	t, ok := g.tasks[taskID]
	if !ok {
		return NewGraphErr(GraphUnknownSource, "task %s not in graph", taskID)
	}
	for _, in := range t.Inputs {
		if in.Kind == InputTaskOutputEdge {
			return NewGraphErr(GraphNotInputEligible, "task %s has an incoming edge", taskID)
		}
	}
	g.inputTasks[taskID] = true
	return nil
}

// MarkOutputTask marks a task as a graph output task. Only a task with no
// outgoing task-output edges (no downstream task reads one of its
// outputs) may be marked.
func (g *TaskGraph) MarkOutputTask(taskID ID) error {
	if _, ok := g.tasks[taskID]; !ok {
		return NewGraphErr(GraphUnknownSource, "task %s not in graph", taskID)
	}
	for _, t := range g.tasks {
		for _, in := range t.Inputs {
			if in.Kind == InputTaskOutputEdge && in.UpstreamTaskID == taskID {
				return NewGraphErr(GraphNotOutputEligible, "task %s has an outgoing edge", taskID)
			}
		}
	}
	g.outputTasks[taskID] = true
	return nil
}

// InputTasks returns the ids marked as graph input tasks.
func (g *TaskGraph) InputTasks() []ID {
	return idSetToSlice(g.inputTasks)
}

// OutputTasks returns the ids marked as graph output tasks.
func (g *TaskGraph) OutputTasks() []ID {
	return idSetToSlice(g.outputTasks)
}

func idSetToSlice(m map[ID]bool) []ID {
	out := make([]ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// BindTaskOutputToTaskInput wires srcTask's output slot srcSlot to
// dstTask's existing input slot dstSlot, replacing whatever input that
// slot held. Validates: both tasks exist, both slots in range, declared
// types match (an untyped destination slot accepts any type), and the
// new edge does not introduce a cycle.
func (g *TaskGraph) BindTaskOutputToTaskInput(srcTask ID, srcSlot int, dstTask ID, dstSlot int) error {
	src, ok := g.tasks[srcTask]
	if !ok {
		return NewGraphErr(GraphUnknownSource, "source task %s not in graph", srcTask)
	}
	if srcSlot < 0 || srcSlot >= len(src.Outputs) {
		return NewGraphErr(GraphUnknownSource, "source task %s has no output slot %d", srcTask, srcSlot)
	}
	dst, ok := g.tasks[dstTask]
	if !ok {
		return NewGraphErr(GraphUnknownSource, "destination task %s not in graph", dstTask)
	}
	if dstSlot < 0 || dstSlot >= len(dst.Inputs) {
		return NewGraphErr(GraphUnknownSource, "destination task %s has no input slot %d", dstTask, dstSlot)
	}
	if dst.Inputs[dstSlot].Type != "" && dst.Inputs[dstSlot].Type != src.Outputs[srcSlot].Type {
		return NewGraphErr(GraphTypeMismatch, "output %d of %s is %s, input %d of %s is %s",
			srcSlot, srcTask, src.Outputs[srcSlot].Type, dstSlot, dstTask, dst.Inputs[dstSlot].Type)
	}

	edge := TaskInput{Kind: InputTaskOutputEdge, Type: src.Outputs[srcSlot].Type, UpstreamTaskID: srcTask, UpstreamSlot: srcSlot}
	if g.wouldCreateCycle(dstTask, srcTask, edge) {
		return NewGraphErr(GraphCycleDetected, "edge %s -> %s introduces a cycle", srcTask, dstTask)
	}

	dst.Inputs[dstSlot] = edge
	return nil
}

// wouldCreateCycle checks, via DFS over the edges currently present,
// whether adding dst<-src (dst now depends on src) would close a cycle.
func (g *TaskGraph) wouldCreateCycle(dst, src ID, candidate TaskInput) bool {
	visited := make(map[ID]bool)
	var dfs func(ID) bool
	dfs = func(cur ID) bool {
		if cur == dst {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		t, ok := g.tasks[cur]
		if !ok {
			return false
		}
		for _, in := range t.Inputs {
			if in.Kind == InputTaskOutputEdge {
				if dfs(in.UpstreamTaskID) {
					return true
				}
			}
		}
		return false
	}
	// A cycle exists only if dst is already an (transitive) ancestor of
	// src - i.e. src already depends on dst, so adding dst <- src would
	// close a loop.
	return dfs(src)
}

// Acyclic reports whether the current graph (including all bound edges)
// is free of cycles, via DFS over InputTaskOutputEdge edges.
func (g *TaskGraph) Acyclic() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ID]int, len(g.tasks))
	var dfs func(ID) bool
	dfs = func(id ID) bool {
		color[id] = gray
		t := g.tasks[id]
		for _, in := range t.Inputs {
			if in.Kind != InputTaskOutputEdge {
				continue
			}
			switch color[in.UpstreamTaskID] {
			case gray:
				return false
			case white:
				if !dfs(in.UpstreamTaskID) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}
	for _, id := range g.order {
		if color[id] == white {
			if !dfs(id) {
				return false
			}
		}
	}
	return true
}

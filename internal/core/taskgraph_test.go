package core

import "testing"

func mustAddTask(t *testing.T, g *TaskGraph, fn string) Task {
	t.Helper()
	task := NewTask(fn)
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask(%s): %v", fn, err)
	}
	return task
}

func TestAddTaskDuplicateId(t *testing.T) {
	g := NewTaskGraph()
	task := mustAddTask(t, g, "sum")
	if err := g.AddTask(task); err == nil {
		t.Fatal("expected DuplicateTaskId error")
	} else if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphDuplicateTaskId {
		t.Fatalf("expected GraphDuplicateTaskId, got %v", err)
	}
}

func TestBindTaskOutputToTaskInputUnknownSource(t *testing.T) {
	g := NewTaskGraph()
	dst := mustAddTask(t, g, "sqrt")
	g.AddTaskInput(dst.ID, NewLiteralInput("", "int"))

	err := g.BindTaskOutputToTaskInput(NewID(), 0, dst.ID, 0)
	if err == nil {
		t.Fatal("expected UnknownSource error")
	}
	if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphUnknownSource {
		t.Fatalf("expected GraphUnknownSource, got %v", err)
	}
}

func TestBindTaskOutputToTaskInputOutOfRangeSlot(t *testing.T) {
	g := NewTaskGraph()
	src := mustAddTask(t, g, "square")
	g.AddTaskOutput(src.ID, NewPendingOutput("int"))
	dst := mustAddTask(t, g, "sqrt")
	g.AddTaskInput(dst.ID, NewLiteralInput("", "int"))

	if err := g.BindTaskOutputToTaskInput(src.ID, 3, dst.ID, 0); err == nil {
		t.Fatal("expected UnknownSource error for out-of-range output slot")
	}
	if err := g.BindTaskOutputToTaskInput(src.ID, 0, dst.ID, 7); err == nil {
		t.Fatal("expected UnknownSource error for out-of-range input slot")
	}
}

func TestBindTaskOutputToTaskInputTypeMismatch(t *testing.T) {
	g := NewTaskGraph()
	src := mustAddTask(t, g, "square")
	g.AddTaskOutput(src.ID, NewPendingOutput("int"))
	dst := mustAddTask(t, g, "sqrt")
	g.AddTaskInput(dst.ID, NewLiteralInput("", "float"))

	err := g.BindTaskOutputToTaskInput(src.ID, 0, dst.ID, 0)
	if err == nil {
		t.Fatal("expected TypeMismatch error")
	}
	if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphTypeMismatch {
		t.Fatalf("expected GraphTypeMismatch, got %v", err)
	}
}

func TestBindTaskOutputToTaskInputCycleDetected(t *testing.T) {
	g := NewTaskGraph()
	a := mustAddTask(t, g, "square")
	g.AddTaskOutput(a.ID, NewPendingOutput("int"))
	g.AddTaskInput(a.ID, NewLiteralInput("", "int"))

	b := mustAddTask(t, g, "sqrt")
	g.AddTaskOutput(b.ID, NewPendingOutput("int"))
	g.AddTaskInput(b.ID, NewLiteralInput("", "int"))

	// a's output -> b's input 0 (overwriting the literal placeholder).
	if err := g.BindTaskOutputToTaskInput(a.ID, 0, b.ID, 0); err != nil {
		t.Fatalf("bind a->b: %v", err)
	}
	// b's output -> a's input 0 would close a cycle a->b->a.
	err := g.BindTaskOutputToTaskInput(b.ID, 0, a.ID, 0)
	if err == nil {
		t.Fatal("expected CycleDetected error")
	}
	if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphCycleDetected {
		t.Fatalf("expected GraphCycleDetected, got %v", err)
	}
}

func TestAcyclicChainIsAcyclic(t *testing.T) {
	g := NewTaskGraph()
	a := mustAddTask(t, g, "square")
	g.AddTaskOutput(a.ID, NewPendingOutput("int"))

	b := mustAddTask(t, g, "square")
	g.AddTaskOutput(b.ID, NewPendingOutput("int"))
	g.AddTaskInput(b.ID, NewLiteralInput("", "int"))

	c := mustAddTask(t, g, "sqrt")
	g.AddTaskInput(c.ID, NewLiteralInput("", "int"))

	if err := g.BindTaskOutputToTaskInput(a.ID, 0, b.ID, 0); err != nil {
		t.Fatalf("bind a->b: %v", err)
	}
	if err := g.BindTaskOutputToTaskInput(b.ID, 0, c.ID, 0); err != nil {
		t.Fatalf("bind b->c: %v", err)
	}
	if !g.Acyclic() {
		t.Fatal("expected graph to be acyclic")
	}
}

func TestMarkInputOutputTasks(t *testing.T) {
	g := NewTaskGraph()
	a := mustAddTask(t, g, "square")
	g.AddTaskOutput(a.ID, NewPendingOutput("int"))
	g.AddTaskInput(a.ID, NewLiteralInput("4", "int"))

	b := mustAddTask(t, g, "sqrt")
	g.AddTaskInput(b.ID, NewLiteralInput("", "int"))
	if err := g.BindTaskOutputToTaskInput(a.ID, 0, b.ID, 0); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := g.MarkInputTask(a.ID); err != nil {
		t.Fatalf("MarkInputTask(a): %v", err)
	}
	if err := g.MarkInputTask(b.ID); err == nil {
		t.Fatal("expected NotInputEligible for b (has an incoming edge)")
	} else if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphNotInputEligible {
		t.Fatalf("expected GraphNotInputEligible, got %v", err)
	}

	if err := g.MarkOutputTask(b.ID); err != nil {
		t.Fatalf("MarkOutputTask(b): %v", err)
	}
	if err := g.MarkOutputTask(a.ID); err == nil {
		t.Fatal("expected NotOutputEligible for a (has an outgoing edge)")
	} else if ge, ok := err.(*GraphErr); !ok || ge.Kind != GraphNotOutputEligible {
		t.Fatalf("expected GraphNotOutputEligible, got %v", err)
	}

	if got := g.InputTasks(); len(got) != 1 || got[0] != a.ID {
		t.Fatalf("InputTasks() = %v, want [%v]", got, a.ID)
	}
	if got := g.OutputTasks(); len(got) != 1 || got[0] != b.ID {
		t.Fatalf("OutputTasks() = %v, want [%v]", got, b.ID)
	}
}

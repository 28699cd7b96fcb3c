package client

import (
	"strings"
	"testing"
)

func TestGraphDocBuildSimpleSum(t *testing.T) {
	doc, err := ParseGraphDoc([]byte(`{
		"tasks": [
			{"name": "sum", "function": "sum",
			 "inputs": [{"kind":"literal","type":"int","value":"2"}, {"kind":"literal","type":"int","value":"3"}],
			 "outputs": [{"type":"int"}]}
		],
		"input_tasks": ["sum"],
		"output_tasks": ["sum"]
	}`))
	if err != nil {
		t.Fatalf("ParseGraphDoc: %v", err)
	}
	graph, names, err := doc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sumID := names["sum"]
	task, ok := graph.Task(sumID)
	if !ok {
		t.Fatalf("task %q not found in built graph", "sum")
	}
	if task.FunctionName != "sum" {
		t.Errorf("FunctionName = %q, want sum", task.FunctionName)
	}
	if len(task.Inputs) != 2 || len(task.Outputs) != 1 {
		t.Errorf("got %d inputs / %d outputs, want 2/1", len(task.Inputs), len(task.Outputs))
	}
	if len(graph.InputTasks()) != 1 || len(graph.OutputTasks()) != 1 {
		t.Errorf("input/output task marking not applied")
	}
}

func TestGraphDocBuildHypotenuseEdges(t *testing.T) {
	doc, err := ParseGraphDoc([]byte(`{
		"tasks": [
			{"name": "sqa", "function": "square", "inputs": [{"kind":"literal","type":"int","value":"4"}], "outputs": [{"type":"int"}]},
			{"name": "sqb", "function": "square", "inputs": [{"kind":"literal","type":"int","value":"5"}], "outputs": [{"type":"int"}]},
			{"name": "sum", "function": "sum", "inputs": [], "outputs": [{"type":"int"}]},
			{"name": "root", "function": "sqrt", "inputs": [], "outputs": [{"type":"float"}]}
		],
		"edges": [
			{"src_task":"sqa","src_slot":0,"dst_task":"sum","dst_slot":0},
			{"src_task":"sqb","src_slot":0,"dst_task":"sum","dst_slot":1},
			{"src_task":"sum","src_slot":0,"dst_task":"root","dst_slot":0}
		],
		"input_tasks": ["sqa", "sqb"],
		"output_tasks": ["root"]
	}`))
	if err != nil {
		t.Fatalf("ParseGraphDoc: %v", err)
	}

	// sum/root declare no inputs up front; EdgeDoc binds into an existing
	// input slot, so give them untyped placeholder slots to bind into.
	for i := range doc.Tasks {
		if doc.Tasks[i].Name == "sum" {
			doc.Tasks[i].Inputs = []InputDoc{{}, {}}
		}
		if doc.Tasks[i].Name == "root" {
			doc.Tasks[i].Inputs = []InputDoc{{}}
		}
	}

	graph, names, err := doc.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	root, _ := graph.Task(names["root"])
	sum, _ := graph.Task(names["sum"])
	if root.Inputs[0].UpstreamTaskID != names["sum"] {
		t.Errorf("root's input not wired to sum's output")
	}
	if sum.Inputs[0].UpstreamTaskID != names["sqa"] || sum.Inputs[1].UpstreamTaskID != names["sqb"] {
		t.Errorf("sum's edge inputs not wired to sqa/sqb")
	}
	if !graph.Acyclic() {
		t.Errorf("hypotenuse graph reported as cyclic")
	}
}

func TestGraphDocBuildDuplicateTaskName(t *testing.T) {
	doc, err := ParseGraphDoc([]byte(`{"tasks": [
		{"name": "a", "function": "noop"},
		{"name": "a", "function": "noop"}
	]}`))
	if err != nil {
		t.Fatalf("ParseGraphDoc: %v", err)
	}
	if _, _, err := doc.Build(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("Build() = %v, want a duplicate_task_id GraphErr", err)
	}
}

func TestGraphDocBuildUnknownEdgeSource(t *testing.T) {
	doc, err := ParseGraphDoc([]byte(`{"tasks": [
		{"name": "a", "function": "noop", "inputs": [{"kind":"edge","src_task":"ghost","src_slot":0}]}
	]}`))
	if err != nil {
		t.Fatalf("ParseGraphDoc: %v", err)
	}
	if _, _, err := doc.Build(); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("Build() = %v, want an unknown_source GraphErr", err)
	}
}

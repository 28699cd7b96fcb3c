// Package client implements the job-submission protocol of spec.md §4.2
// and the JSON task-graph format the cmd/spider-cli submission command
// reads, grounded on original_source/src/spider/client/TaskGraph.hpp's
// builder surface and Error.hpp's client error taxonomy
// (internal/core.ClientErr).
package client

import (
	"encoding/json"
	"fmt"

	"github.com/swarmgraph/spider/internal/core"
)

// GraphDoc is the on-disk JSON shape a client authors to describe a task
// graph: tasks named by a local string key (rather than a UUID, which
// does not exist until the graph is built) plus edges and input/output
// task markers referencing those same local names.
type GraphDoc struct {
	Tasks       []TaskDoc `json:"tasks"`
	Edges       []EdgeDoc `json:"edges"`
	InputTasks  []string  `json:"input_tasks"`
	OutputTasks []string  `json:"output_tasks"`
}

// TaskDoc describes one task: its registered function name, inputs, and
// declared output type tags.
type TaskDoc struct {
	Name    string         `json:"name"`
	Func    string         `json:"function"`
	Inputs  []InputDoc     `json:"inputs"`
	Outputs []OutputTagDoc `json:"outputs"`
}

// InputDoc is a tagged union mirroring core.TaskInput: exactly one of
// Value/Data should be set, unless Kind is "edge".
type InputDoc struct {
	Kind  string `json:"kind"` // "literal", "data", or "edge"
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"` // literal kind: raw ASCII bytes
	Data  string `json:"data,omitempty"`  // data kind: data UUID

	// edge kind
	SrcTask string `json:"src_task,omitempty"`
	SrcSlot int    `json:"src_slot,omitempty"`
}

// OutputTagDoc declares one output slot's type tag.
type OutputTagDoc struct {
	Type string `json:"type"`
}

// EdgeDoc binds a source task's output slot to a destination task's
// input slot. Included as an alternative to inline "edge"-kind inputs so
// a graph author can wire edges after declaring every task's input list
// in literal/data form, matching the two-step add-then-bind shape of
// spec.md §4.1.
type EdgeDoc struct {
	SrcTask string `json:"src_task"`
	SrcSlot int    `json:"src_slot"`
	DstTask string `json:"dst_task"`
	DstSlot int    `json:"dst_slot"`
}

// ParseGraphDoc decodes a GraphDoc from JSON bytes.
func ParseGraphDoc(data []byte) (*GraphDoc, error) {
	var doc GraphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse graph document: %w", err)
	}
	return &doc, nil
}

// Build constructs a core.TaskGraph from the document, performing the
// same validation spec.md §4.1 requires of direct graph-builder API
// calls (duplicate ids, unknown sources, type mismatch, cycles,
// input/output eligibility) - the JSON front-end is sugar over that API,
// not a bypass of it.
func (doc *GraphDoc) Build() (*core.TaskGraph, map[string]core.ID, error) {
	graph := core.NewTaskGraph()
	nameToID := make(map[string]core.ID, len(doc.Tasks))

	for _, td := range doc.Tasks {
		if _, exists := nameToID[td.Name]; exists {
			return nil, nil, core.NewGraphErr(core.GraphDuplicateTaskId, "task name %q used twice in document", td.Name)
		}
		t := core.NewTask(td.Func)
		nameToID[td.Name] = t.ID
		if err := graph.AddTask(t); err != nil {
			return nil, nil, err
		}
		for _, od := range td.Outputs {
			if err := graph.AddTaskOutput(t.ID, core.NewPendingOutput(od.Type)); err != nil {
				return nil, nil, err
			}
		}
	}

	// Second pass: inputs, now that every task id is known (edge-kind
	// inputs and standalone EdgeDoc entries may reference a task declared
	// later in the document).
	for _, td := range doc.Tasks {
		taskID := nameToID[td.Name]
		for slot, in := range td.Inputs {
			switch in.Kind {
			case "literal", "":
				if err := graph.AddTaskInput(taskID, core.NewLiteralInput(in.Value, in.Type)); err != nil {
					return nil, nil, err
				}
			case "data":
				dataID, err := core.ParseID(in.Data)
				if err != nil {
					return nil, nil, fmt.Errorf("task %q input %d: invalid data id %q: %w", td.Name, slot, in.Data, err)
				}
				if err := graph.AddTaskInput(taskID, core.NewDataRefInput(dataID)); err != nil {
					return nil, nil, err
				}
			case "edge":
				srcID, ok := nameToID[in.SrcTask]
				if !ok {
					return nil, nil, core.NewGraphErr(core.GraphUnknownSource, "task %q input %d references unknown task %q", td.Name, slot, in.SrcTask)
				}
				// Reserve the input slot with a declared-type placeholder
				// input, then bind it - BindTaskOutputToTaskInput both
				// type-checks and cycle-checks the edge.
				if err := graph.AddTaskInput(taskID, core.TaskInput{Kind: core.InputLiteral, Type: in.Type}); err != nil {
					return nil, nil, err
				}
				if err := graph.BindTaskOutputToTaskInput(srcID, in.SrcSlot, taskID, slot); err != nil {
					return nil, nil, err
				}
			default:
				return nil, nil, fmt.Errorf("task %q input %d: unknown input kind %q", td.Name, slot, in.Kind)
			}
		}
	}

	for _, e := range doc.Edges {
		srcID, ok := nameToID[e.SrcTask]
		if !ok {
			return nil, nil, core.NewGraphErr(core.GraphUnknownSource, "edge references unknown source task %q", e.SrcTask)
		}
		dstID, ok := nameToID[e.DstTask]
		if !ok {
			return nil, nil, core.NewGraphErr(core.GraphUnknownSource, "edge references unknown destination task %q", e.DstTask)
		}
		if err := graph.BindTaskOutputToTaskInput(srcID, e.SrcSlot, dstID, e.DstSlot); err != nil {
			return nil, nil, err
		}
	}

	for _, name := range doc.InputTasks {
		id, ok := nameToID[name]
		if !ok {
			return nil, nil, core.NewGraphErr(core.GraphUnknownSource, "input_tasks references unknown task %q", name)
		}
		if err := graph.MarkInputTask(id); err != nil {
			return nil, nil, err
		}
	}
	for _, name := range doc.OutputTasks {
		id, ok := nameToID[name]
		if !ok {
			return nil, nil, core.NewGraphErr(core.GraphUnknownSource, "output_tasks references unknown task %q", name)
		}
		if err := graph.MarkOutputTask(id); err != nil {
			return nil, nil, err
		}
	}

	if !graph.Acyclic() {
		return nil, nil, core.NewGraphErr(core.GraphCycleDetected, "graph document describes a cycle")
	}

	return graph, nameToID, nil
}

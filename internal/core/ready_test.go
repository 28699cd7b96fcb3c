package core

import "testing"

func TestTaskInputsResolved(t *testing.T) {
	upstream := NewID()
	succeeded := map[ID]bool{upstream: true}
	isSucceeded := func(id ID) bool { return succeeded[id] }

	t.Run("literal and data-ref always resolved", func(t *testing.T) {
		task := &Task{Inputs: []TaskInput{
			NewLiteralInput("1", "int"),
			NewDataRefInput(NewID()),
		}}
		if !TaskInputsResolved(task, isSucceeded) {
			t.Fatal("expected literal/data-ref inputs to be resolved")
		}
	})

	t.Run("edge resolved once upstream succeeded", func(t *testing.T) {
		task := &Task{Inputs: []TaskInput{NewEdgeInput(upstream, 0)}}
		if !TaskInputsResolved(task, isSucceeded) {
			t.Fatal("expected edge input to be resolved when upstream succeeded")
		}
	})

	t.Run("edge unresolved before upstream succeeds", func(t *testing.T) {
		other := NewID()
		task := &Task{Inputs: []TaskInput{NewEdgeInput(other, 0)}}
		if TaskInputsResolved(task, isSucceeded) {
			t.Fatal("expected edge input to be unresolved before upstream succeeds")
		}
	})

	t.Run("mixed inputs require every edge resolved", func(t *testing.T) {
		other := NewID()
		task := &Task{Inputs: []TaskInput{
			NewLiteralInput("1", "int"),
			NewEdgeInput(upstream, 0),
			NewEdgeInput(other, 0),
		}}
		if TaskInputsResolved(task, isSucceeded) {
			t.Fatal("expected overall resolution to fail when any edge is unresolved")
		}
	})
}

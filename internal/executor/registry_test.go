package executor

import (
	"testing"

	"github.com/swarmgraph/spider/internal/core"
)

func TestRegisterAndLookup(t *testing.T) {
	name := "executor-test-echo"
	fn := func(ctx *core.TaskContext, args [][]byte) ([][]byte, error) { return args, nil }
	Register(name, fn)

	got, ok := Lookup(name)
	if !ok {
		t.Fatalf("expected %q to be registered", name)
	}
	out, err := got(nil, [][]byte{[]byte("x")})
	if err != nil || len(out) != 1 || string(out[0]) != "x" {
		t.Fatalf("Lookup returned a function that did not behave like echo: %v %v", out, err)
	}

	if _, ok := Lookup("executor-test-does-not-exist"); ok {
		t.Fatal("expected lookup of an unregistered name to fail")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "executor-test-dup"
	Register(name, func(ctx *core.TaskContext, args [][]byte) ([][]byte, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic on a duplicate name")
		}
	}()
	Register(name, func(ctx *core.TaskContext, args [][]byte) ([][]byte, error) { return nil, nil })
}

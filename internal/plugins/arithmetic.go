package plugins

import (
	"math"
	"strconv"

	"github.com/swarmgraph/spider/internal/core"
	"github.com/swarmgraph/spider/internal/executor"
)

// Arithmetic type tags used by the quick-start/hypotenuse scenarios of
// spec.md §8: literal int/float values are carried as their decimal
// ASCII string form, matching the literal-bytes TaskInput/TaskOutput
// shape of spec.md §3 without inventing a binary numeric encoding the
// spec never specifies.
const (
	TypeInt   = "int"
	TypeFloat = "float"
)

func init() {
	executor.Register("sum", sum)
	executor.Register("square", square)
	executor.Register("sqrt", sqrt)
}

// sum implements spec.md §8 scenario 1: sum(a, b) -> int.
func sum(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) != 2 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sum requires exactly 2 arguments")
	}
	a, err := strconv.ParseInt(string(args[0]), 10, 64)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sum: arg 0: %v", err)
	}
	b, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sum: arg 1: %v", err)
	}
	return [][]byte{[]byte(strconv.FormatInt(a+b, 10))}, nil
}

// square implements spec.md §8 scenario 2's square(x) -> int.
func square(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) != 1 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "square requires exactly 1 argument")
	}
	x, err := strconv.ParseInt(string(args[0]), 10, 64)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "square: arg 0: %v", err)
	}
	return [][]byte{[]byte(strconv.FormatInt(x*x, 10))}, nil
}

// sqrt implements spec.md §8 scenario 2's sqrt(x) -> float.
func sqrt(ctx *core.TaskContext, args [][]byte) ([][]byte, error) {
	if len(args) != 1 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sqrt requires exactly 1 argument")
	}
	x, err := strconv.ParseFloat(string(args[0]), 64)
	if err != nil {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sqrt: arg 0: %v", err)
	}
	if x < 0 {
		return nil, core.NewTaskExecutionErr(core.TaskArgumentInvalid, "sqrt: negative argument %v", x)
	}
	return [][]byte{[]byte(strconv.FormatFloat(math.Sqrt(x), 'f', -1, 64))}, nil
}

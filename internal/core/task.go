package core

import "time"

// TaskState is the lifecycle state of a task within a job.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskReady
	TaskRunning
	TaskSucceeded
	TaskFailedState
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailedState:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// InputKind tags the union variant of a TaskInput.
type InputKind int

const (
	InputLiteral InputKind = iota
	InputDataRef
	InputTaskOutputEdge
)

// TaskInput is a tagged union: a literal value, a reference to a Data
// blob, or an edge to an upstream task's output slot.
type TaskInput struct {
	Kind InputKind

	// InputLiteral
	Type  string
	Bytes []byte

	// InputDataRef
	DataID ID

	// InputTaskOutputEdge
	UpstreamTaskID ID
	UpstreamSlot   int
}

// NewLiteralInput constructs a literal-kind TaskInput. Mirrors the
// two-argument TaskInput{value, type} constructor used throughout the
// reference test suite.
func NewLiteralInput(value, typ string) TaskInput {
	return TaskInput{Kind: InputLiteral, Type: typ, Bytes: []byte(value)}
}

func NewDataRefInput(dataID ID) TaskInput {
	return TaskInput{Kind: InputDataRef, DataID: dataID}
}

func NewEdgeInput(upstreamTaskID ID, upstreamSlot int) TaskInput {
	return TaskInput{Kind: InputTaskOutputEdge, UpstreamTaskID: upstreamTaskID, UpstreamSlot: upstreamSlot}
}

// OutputKind tags the union variant of a TaskOutput.
type OutputKind int

const (
	OutputPending OutputKind = iota
	OutputLiteralResult
	OutputDataResult
)

// TaskOutput is a tagged union: a declared-but-unproduced slot, a literal
// result, or a reference to a Data blob produced by the task.
type TaskOutput struct {
	Kind OutputKind
	Type string // declared type tag, always set

	// OutputLiteralResult
	Bytes []byte

	// OutputDataResult
	DataID ID
}

// NewPendingOutput declares an output slot of the given type, not yet
// produced.
func NewPendingOutput(typ string) TaskOutput {
	return TaskOutput{Kind: OutputPending, Type: typ}
}

// Task is one node in a TaskGraph.
type Task struct {
	ID           ID
	FunctionName string
	Inputs       []TaskInput
	Outputs      []TaskOutput
	State        TaskState
	RetryCount   int
	MaxRetries   int
}

// NewTask constructs a task bound to the given registered function name,
// in state Pending with no inputs/outputs yet.
func NewTask(functionName string) Task {
	return Task{ID: NewID(), FunctionName: functionName, State: TaskPending, MaxRetries: 3}
}

func (t *Task) AddInput(in TaskInput) {
	t.Inputs = append(t.Inputs, in)
}

func (t *Task) AddOutput(out TaskOutput) {
	t.Outputs = append(t.Outputs, out)
}

// TaskInstance is a specific execution attempt of a task.
type TaskInstance struct {
	ID        ID
	TaskID    ID
	WorkerID  ID
	StartedAt time.Time
}

package boltstore

import (
	"encoding/json"

	"github.com/swarmgraph/spider/internal/core"
)

// Every record is JSON-encoded, the same choice services/orchestrator
// makes for Workflow/WorkflowExecution; core.ID's MarshalText/UnmarshalText
// (added for this purpose) keeps ids readable in the encoded form instead
// of falling back to encoding/json's default array-of-bytes rendering.

func marshalJob(jr jobRecord) ([]byte, error) { return json.Marshal(jr) }
func unmarshalJob(b []byte, jr *jobRecord) error {
	return json.Unmarshal(b, jr)
}

func marshalTask(tr taskRecord) ([]byte, error) { return json.Marshal(tr) }
func unmarshalTask(b []byte, tr *taskRecord) error {
	return json.Unmarshal(b, tr)
}

func marshalDriver(d core.Driver) ([]byte, error) { return json.Marshal(d) }
func unmarshalDriver(b []byte, d *core.Driver) error {
	return json.Unmarshal(b, d)
}

func marshalInstance(inst core.TaskInstance) ([]byte, error) { return json.Marshal(inst) }
func unmarshalInstance(b []byte, inst *core.TaskInstance) error {
	return json.Unmarshal(b, inst)
}

func marshalDataRecord(d core.Data) ([]byte, error) { return json.Marshal(d) }
func unmarshalDataRecord(b []byte, d *core.Data) error {
	return json.Unmarshal(b, d)
}

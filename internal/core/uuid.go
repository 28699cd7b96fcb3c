// Package core holds the task-graph entity model: identifiers, data,
// tasks, task graphs, jobs, and the error taxonomies they raise.
package core

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier shared by drivers, tasks, task
// instances, data, and jobs. It wraps google/uuid so equality and string
// form are stable across process boundaries.
type ID uuid.UUID

// Nil is the zero-value ID, never assigned to a real entity.
var Nil = ID(uuid.Nil)

// NewID generates a fresh random identifier.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalText renders the canonical string form, so ID round-trips
// through encoding/json (and anything else keyed on TextMarshaler) as a
// readable string rather than a raw byte array.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical string form.
func (id *ID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

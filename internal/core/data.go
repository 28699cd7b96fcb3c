package core

import "time"

// DataTypeTag is the declared output/input type name a task graph author
// uses to mean "this slot carries a Data reference" rather than a
// literal value. The worker's output-parsing step (spec.md §4.5) checks
// a declared type against this tag to decide whether to interpret the
// executor's result buffer as a UUID (Data) or as opaque literal bytes.
const DataTypeTag = "spider.Data"

// Driver represents a client, worker, or scheduler process registered in
// storage. Its heartbeat timestamp is updated roughly once per second by
// the owning process; a driver whose heartbeat is stale beyond the
// configured threshold is considered dead.
type Driver struct {
	ID        ID
	Address   string // host:port, empty for clients
	Heartbeat time.Time
}

// IsDead reports whether the driver's last heartbeat is older than
// threshold as of now.
func (d Driver) IsDead(now time.Time, threshold time.Duration) bool {
	return now.Sub(d.Heartbeat) >= threshold
}

// Data is a user-supplied opaque byte blob identified by a UUID.
type Data struct {
	ID   ID
	Name string
	// Value holds the blob bytes. Nil when the value has not been
	// materialized locally (read lazily from the blob store).
	Value []byte
	// OwnerDriverID is either the client driver that created this data
	// (via AddDriverData) or the zero ID if it was produced as a task
	// output (owned transitively by the task's job).
	OwnerDriverID ID
	// Persisted data survives the owning driver's death and is never
	// garbage collected by the heartbeat sweep.
	Persisted bool
	// HardLocality, when true, restricts scheduling of any task reading
	// this data to a worker whose address is in Locality. When false,
	// Locality is advisory only (soft locality).
	HardLocality bool
	Locality     []string
}

// MatchesWorker reports whether a worker at the given address is
// permitted to run a task that reads this data under hard-locality rules.
func (d Data) MatchesWorker(workerAddress string) bool {
	if len(d.Locality) == 0 {
		return true
	}
	for _, addr := range d.Locality {
		if addr == workerAddress {
			return true
		}
	}
	return false
}

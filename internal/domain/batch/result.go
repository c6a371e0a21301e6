package batch

// ItemStatus is the write outcome of a single record in a batch.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of writing one record of a batch.
// Writers return results in the same order as their input.
type Result struct {
	sourceID string
	targetID string
	status   ItemStatus
	created  bool
	err      error
}

// NewOK creates a successful result. targetID is the id the target stored the record under.
func NewOK(sourceID, targetID string) Result {
	return Result{sourceID: sourceID, targetID: targetID, status: StatusOK}
}

// NewCreated creates a successful result for a record that did not exist in the
// target before this write. Only created records may be removed on rollback.
func NewCreated(sourceID, targetID string) Result {
	return Result{sourceID: sourceID, targetID: targetID, status: StatusOK, created: true}
}

// NewError creates a failed result.
func NewError(sourceID string, err error) Result {
	return Result{sourceID: sourceID, status: StatusError, err: err}
}

// FailAll returns one error result per source id, in order.
func FailAll(sourceIDs []string, err error) []Result {
	out := make([]Result, len(sourceIDs))
	for i, id := range sourceIDs {
		out[i] = NewError(id, err)
	}
	return out
}

// SourceID returns the record id in the source backend.
func (r Result) SourceID() string { return r.sourceID }

// TargetID returns the id assigned by the target. Empty on error.
func (r Result) TargetID() string { return r.targetID }

// Remapped reports whether the target stored the record under a different id.
func (r Result) Remapped() bool {
	return r.status == StatusOK && r.targetID != "" && r.targetID != r.sourceID
}

// Created reports whether the write added a new record rather than replacing one.
func (r Result) Created() bool { return r.created }

// Status returns the write outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

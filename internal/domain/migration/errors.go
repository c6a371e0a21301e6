package migration

// ErrorKind classifies an accumulated error.
type ErrorKind string

// Error kinds. Only read errors abort a run.
const (
	ErrorRead       ErrorKind = "read"
	ErrorWrite      ErrorKind = "write"
	ErrorValidation ErrorKind = "validation"
	ErrorTransform  ErrorKind = "transform"
)

// Error is one failure recorded in the Result. It never aborts the run by itself.
type Error struct {
	Kind     ErrorKind `json:"type"`
	Message  string    `json:"message"`
	SourceID string    `json:"source_id,omitempty"`
}

// NewError builds an Error from a Go error.
func NewError(kind ErrorKind, sourceID string, err error) Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Error{Kind: kind, Message: msg, SourceID: sourceID}
}

func (e Error) Error() string {
	if e.SourceID != "" {
		return string(e.Kind) + " error (id " + e.SourceID + "): " + e.Message
	}
	return string(e.Kind) + " error: " + e.Message
}

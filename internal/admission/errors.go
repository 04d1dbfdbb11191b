package admission

import "fmt"

// Kind classifies why an admission attempt was rejected.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindIdentityMismatch   Kind = "identity_mismatch"
	KindOutsideWindow      Kind = "outside_window"
	KindDuplicate          Kind = "duplicate_attendance"
	KindLocationOutOfRange Kind = "location_out_of_range"
	KindCommitFailed       Kind = "commit_failed"
)

// Error is a categorized admission rejection. Every gate failure carries its
// own kind so the client can render an actionable message; collaborator
// failures are wrapped with KindCommitFailed rather than swallowed.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the caller may usefully re-submit the same
// request. Window and geofence rejections clear once conditions change;
// infrastructure failures clear on their own. Bad input, identity mismatch
// and a duplicate record are terminal.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindOutsideWindow, KindLocationOutOfRange, KindCommitFailed:
		return true
	}
	return false
}

func reject(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// infra wraps a collaborator failure as a retryable commit-class error.
func infra(msg string, err error) *Error {
	return &Error{Kind: KindCommitFailed, Message: msg, cause: err}
}

package types

import "errors"

// Status is the closed error taxonomy shared by storage, encryption and
// cloud sync. It is deliberately small: every new value must be added to
// statusNames and classified in IsPermanent, and the fixed-size array makes
// forgetting the first a compile error.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusIOError
	StatusInternalError
	StatusNetworkError
	StatusAuthError
	StatusInvalidArgument

	numStatuses
)

var statusNames = [numStatuses]string{
	StatusOK:              "OK",
	StatusNotFound:        "NOT_FOUND",
	StatusIOError:         "IO_ERROR",
	StatusInternalError:   "INTERNAL_ERROR",
	StatusNetworkError:    "NETWORK_ERROR",
	StatusAuthError:       "AUTH_ERROR",
	StatusInvalidArgument: "INVALID_ARGUMENT",
}

func (s Status) String() string {
	if s < 0 || s >= numStatuses {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// IsPermanent reports whether an operation that returned this status must
// not be retried. Transient statuses (network, auth) are expected to succeed
// after a backoff or re-auth; permanent ones indicate a logic or data fault.
func (s Status) IsPermanent() bool {
	switch s {
	case StatusOK:
		return false
	case StatusNotFound:
		return false
	case StatusNetworkError:
		return false
	case StatusAuthError:
		return false
	case StatusIOError:
		return true
	case StatusInternalError:
		return true
	case StatusInvalidArgument:
		return true
	}
	return true
}

// Error carries a Status together with context. All errors crossing a
// package boundary in TidemarkDB are either nil or unwrap to an *Error.
type Error struct {
	Status  Status
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Status.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Status.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a status-typed error.
func NewError(status Status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WrapError builds a status-typed error around a cause.
func WrapError(status Status, message string, cause error) *Error {
	return &Error{Status: status, Message: message, Cause: cause}
}

// StatusOf extracts the Status from an error chain. A nil error is StatusOK;
// an error that never passed through this package is an internal fault.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return StatusInternalError
}

// IsPermanentError is the classification other components use to decide
// whether to retry or give up.
func IsPermanentError(err error) bool {
	return StatusOf(err).IsPermanent()
}

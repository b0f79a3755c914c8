package engine

import (
	"errors"
	"fmt"
)

// UnreachableError reports a transport failure talking to the engine: the
// request never produced an answer.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("engine %s: unreachable: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// RejectedError reports that the engine answered and refused.
type RejectedError struct {
	Op     string
	Reason string
	Status int
}

func (e *RejectedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("engine %s: rejected (status %d): %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("engine %s: rejected: %s", e.Op, e.Reason)
}

// IsUnreachable reports whether err is an UnreachableError.
func IsUnreachable(err error) bool {
	var target *UnreachableError
	return errors.As(err, &target)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

// UserMessage renders err as operator-facing banner text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		if rejected.Reason != "" {
			return "Engine refused to " + rejected.Op + ": " + rejected.Reason
		}
		return "Engine refused to " + rejected.Op + "."
	}
	var unreachable *UnreachableError
	if errors.As(err, &unreachable) {
		return "Could not reach the try-on engine. Check that it is running."
	}
	return "Engine error: " + err.Error()
}

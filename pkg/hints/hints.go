// Package hints labels errors that mean "skipped" rather than "failed".
//
// A locked job, an empty hook list or a quarantine that does not exist yet all
// surface as errors so callers can log them, but none of them should fail a
// run. Callers check IsHint instead of importing every sentinel.
package hints

import "errors"

type hint struct {
	cause error
}

func (h *hint) Error() string {
	if h == nil || h.cause == nil {
		return "unknown hint"
	}
	return h.cause.Error()
}

func (h *hint) Unwrap() error { return h.cause }

// IsHint marks the error; IsHint below looks for this method.
func (h *hint) IsHint() bool { return true }

// New returns a hint with the given message.
func New(msg string) error {
	return &hint{cause: errors.New(msg)}
}

// Wrap marks err as a hint. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &hint{cause: err}
}

// IsHint reports whether any error in err's chain is a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is reports whether err is a hint and matches target.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}

package trade

import "fmt"

// Reject is a recoverable, per-message protocol violation: the offending
// message is refused, the session (if any) keeps its prior state, and only
// the sender hears about it.
type Reject struct {
	Code    string
	Message string
}

func (r *Reject) Error() string { return r.Code + ": " + r.Message }

func reject(code, format string, args ...any) *Reject {
	return &Reject{Code: code, Message: fmt.Sprintf(format, args...)}
}

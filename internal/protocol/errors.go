package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request/routing layer.
	ErrAlreadyTrading    = "E_ALREADY_TRADING"
	ErrNoSuchRequest     = "E_NO_SUCH_REQUEST"
	ErrTargetUnreachable = "E_TARGET_UNREACHABLE"
	ErrNotInThisSession  = "E_NOT_IN_THIS_SESSION"

	// Session state machine.
	ErrBadRequest           = "E_BAD_REQUEST"
	ErrInvalidState         = "E_INVALID_STATE"
	ErrInsufficientHoldings = "E_INSUFFICIENT_HOLDINGS"
	ErrBounds               = "E_BOUNDS"

	// Commit.
	ErrCommitConflict = "E_COMMIT_CONFLICT"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:      {},
	ErrAlreadyTrading:       {},
	ErrNoSuchRequest:        {},
	ErrTargetUnreachable:    {},
	ErrNotInThisSession:     {},
	ErrBadRequest:           {},
	ErrInvalidState:         {},
	ErrInsufficientHoldings: {},
	ErrBounds:               {},
	ErrCommitConflict:       {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

package protocol

// Session snapshots are always full state for both sides. Accepted mutations
// rebroadcast the whole thing; clients render, they never reconcile diffs.

// Cancellation reasons.
const (
	ReasonPlayerCancelled = "PLAYER_CANCELLED"
	ReasonDisconnected    = "DISCONNECTED"
	ReasonTimeout         = "TIMEOUT"
	ReasonShutdown        = "SHUTDOWN"
	ReasonExpired         = "EXPIRED"
)

// Session states as seen on the wire.
const (
	StateNegotiating = "NEGOTIATING"
	StateCommitting  = "COMMITTING"
	StateCompleted   = "COMPLETED"
	StateCancelled   = "CANCELLED"
)

type SideSnapshot struct {
	PlayerID  string         `json:"player_id"`
	Items     map[string]int `json:"items"`
	Gold      int            `json:"gold"`
	Locked    bool           `json:"locked"`
	Confirmed bool           `json:"confirmed"`
}

type SessionSnapshot struct {
	State string         `json:"state"`
	Sides []SideSnapshot `json:"sides"`
}

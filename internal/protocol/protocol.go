package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	// participant -> server
	TypeTradeRequest    = "TRADE_REQUEST"
	TypeTradeAccept     = "TRADE_ACCEPT"
	TypeTradeDecline    = "TRADE_DECLINE"
	TypeTradeAddItem    = "TRADE_ADD_ITEM"
	TypeTradeRemoveItem = "TRADE_REMOVE_ITEM"
	TypeTradeSetGold    = "TRADE_SET_GOLD"
	TypeTradeLock       = "TRADE_LOCK"
	TypeTradeUnlock     = "TRADE_UNLOCK"
	TypeTradeConfirm    = "TRADE_CONFIRM"
	TypeTradeCancel     = "TRADE_CANCEL"

	// server -> participant
	TypeTradeRequested = "TRADE_REQUESTED"
	TypeTradeDeclined  = "TRADE_DECLINED"
	TypeTradeStarted   = "TRADE_STARTED"
	TypeTradeUpdated   = "TRADE_UPDATED"
	TypeTradeCompleted = "TRADE_COMPLETED"
	TypeTradeCancelled = "TRADE_CANCELLED"
	TypeTradeError     = "TRADE_ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

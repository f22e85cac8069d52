package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerID        string            `json:"player_id"`
	PlayerName      string            `json:"player_name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PlayerID        string      `json:"player_id"`
	Limits          TradeLimits `json:"limits"`
}

// TradeLimits echoes the server-side offer bounds so clients can reject
// oversized offers before sending them. Zero means unlimited.
type TradeLimits struct {
	MaxGoldPerTrade int `json:"max_gold_per_trade,omitempty"`
	MaxItemStacks   int `json:"max_item_stacks,omitempty"`
	MaxQtyPerItem   int `json:"max_qty_per_item,omitempty"`
}

// TRADE_REQUEST (client -> server)
type TradeRequestMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	TargetID        string `json:"target_id"`
}

// TRADE_ACCEPT / TRADE_DECLINE (client -> server)
type TradeAnswerMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	InitiatorID     string `json:"initiator_id"`
}

// TradeActMsg carries every in-session message. Type selects the operation;
// required fields are validated per type at the boundary, before the state
// machine sees the message.
type TradeActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ItemID          string `json:"item_id,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	Amount          int    `json:"amount"`
}

// TRADE_REQUESTED (server -> target)
type TradeRequestedMsg struct {
	Type      string `json:"type"`
	FromID    string `json:"from_id"`
	FromName  string `json:"from_name,omitempty"`
	ExpiresIn int    `json:"expires_in_s,omitempty"`
}

// TRADE_DECLINED (server -> initiator)
type TradeDeclinedMsg struct {
	Type   string `json:"type"`
	ByID   string `json:"by_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TRADE_STARTED / TRADE_UPDATED (server -> both sides)
type TradeStateMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Snapshot  SessionSnapshot `json:"snapshot"`
}

// TRADE_COMPLETED (server -> both sides)
type TradeCompletedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// TRADE_CANCELLED (server -> both sides)
type TradeCancelledMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// TRADE_ERROR (server -> offending side only)
type TradeErrorMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

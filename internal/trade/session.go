package trade

import (
	"time"

	"tradepost.gg/internal/ledger"
	"tradepost.gg/internal/protocol"
	"tradepost.gg/internal/tuning"
)

type State string

const (
	StateNegotiating State = protocol.StateNegotiating
	StateCommitting  State = protocol.StateCommitting
	StateCompleted   State = protocol.StateCompleted
	StateCancelled   State = protocol.StateCancelled
)

// Side is one participant's offer within a session. Only messages from that
// participant ever mutate it.
type Side struct {
	PlayerID  string
	Items     map[string]int
	Gold      int
	Locked    bool
	Confirmed bool
}

// Session is the state machine for one negotiation between exactly two
// participants. It holds no locks and knows nothing about transports; the
// registry serializes access and fans out the snapshots. Methods return
// *Reject for refused messages and leave state untouched in that case.
type Session struct {
	ID           string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time

	sides  [2]*Side
	limits tuning.Limits
}

func newSession(id, initiatorID, targetID string, limits tuning.Limits, now time.Time) *Session {
	return &Session{
		ID:           id,
		State:        StateNegotiating,
		CreatedAt:    now,
		LastActivity: now,
		sides: [2]*Side{
			{PlayerID: initiatorID, Items: map[string]int{}},
			{PlayerID: targetID, Items: map[string]int{}},
		},
		limits: limits,
	}
}

func (s *Session) side(playerID string) *Side {
	for _, sd := range s.sides {
		if sd.PlayerID == playerID {
			return sd
		}
	}
	return nil
}

// Other returns the counterpart of playerID, or "" if playerID is not a side.
func (s *Session) Other(playerID string) string {
	switch playerID {
	case s.sides[0].PlayerID:
		return s.sides[1].PlayerID
	case s.sides[1].PlayerID:
		return s.sides[0].PlayerID
	}
	return ""
}

// SideIDs returns both participant ids in creation order (initiator first).
func (s *Session) SideIDs() (string, string) {
	return s.sides[0].PlayerID, s.sides[1].PlayerID
}

func (s *Session) Snapshot() protocol.SessionSnapshot {
	snap := protocol.SessionSnapshot{State: string(s.State)}
	for _, sd := range s.sides {
		items := make(map[string]int, len(sd.Items))
		for item, qty := range sd.Items {
			items[item] = qty
		}
		snap.Sides = append(snap.Sides, protocol.SideSnapshot{
			PlayerID:  sd.PlayerID,
			Items:     items,
			Gold:      sd.Gold,
			Locked:    sd.Locked,
			Confirmed: sd.Confirmed,
		})
	}
	return snap
}

// Offers returns both sides' offers (initiator side first), copied so the
// commit works on data the session can no longer mutate.
func (s *Session) Offers() (ledger.Offer, ledger.Offer) {
	mk := func(sd *Side) ledger.Offer {
		items := make(map[string]int, len(sd.Items))
		for item, qty := range sd.Items {
			items[item] = qty
		}
		return ledger.Offer{Items: items, Gold: sd.Gold}
	}
	return mk(s.sides[0]), mk(s.sides[1])
}

// mutableSide gates every offer mutation: session negotiating, sender is a
// side, sender's offer not locked.
func (s *Session) mutableSide(playerID string) (*Side, *Reject) {
	if s.State != StateNegotiating {
		return nil, reject(protocol.ErrInvalidState, "session is %s", s.State)
	}
	sd := s.side(playerID)
	if sd == nil {
		return nil, reject(protocol.ErrNotInThisSession, "not a side of this session")
	}
	if sd.Locked {
		return nil, reject(protocol.ErrInvalidState, "offer is locked")
	}
	return sd, nil
}

// clearConfirms drops both sides' consent. Any accepted offer change or
// unlock voids whatever either side previously agreed to.
func (s *Session) clearConfirms() {
	s.sides[0].Confirmed = false
	s.sides[1].Confirmed = false
}

func (s *Session) touch(now time.Time) { s.LastActivity = now }

func (s *Session) AddItem(playerID, itemID string, qty int, view ledger.View, now time.Time) error {
	sd, rej := s.mutableSide(playerID)
	if rej != nil {
		return rej
	}
	if qty <= 0 {
		return reject(protocol.ErrBadRequest, "quantity must be positive")
	}
	merged := sd.Items[itemID] + qty
	if merged < sd.Items[itemID] { // overflow
		return reject(protocol.ErrBounds, "quantity too large")
	}
	if s.limits.MaxQtyPerItem > 0 && merged > s.limits.MaxQtyPerItem {
		return reject(protocol.ErrBounds, "max %d of one item per trade", s.limits.MaxQtyPerItem)
	}
	if _, offered := sd.Items[itemID]; !offered {
		if s.limits.MaxItemStacks > 0 && len(sd.Items) >= s.limits.MaxItemStacks {
			return reject(protocol.ErrBounds, "max %d item stacks per trade", s.limits.MaxItemStacks)
		}
	}
	held, err := view.Holdings(playerID, itemID)
	if err != nil {
		return err
	}
	if merged > held {
		return reject(protocol.ErrInsufficientHoldings, "holds %d of %s, offered %d", held, itemID, merged)
	}
	sd.Items[itemID] = merged
	s.clearConfirms()
	s.touch(now)
	return nil
}

// RemoveItem decrements the stack by qty; qty <= 0 removes it entirely.
func (s *Session) RemoveItem(playerID, itemID string, qty int, now time.Time) error {
	sd, rej := s.mutableSide(playerID)
	if rej != nil {
		return rej
	}
	cur, offered := sd.Items[itemID]
	if !offered {
		return reject(protocol.ErrBadRequest, "%s is not on the table", itemID)
	}
	if qty <= 0 || qty >= cur {
		delete(sd.Items, itemID)
	} else {
		sd.Items[itemID] = cur - qty
	}
	s.clearConfirms()
	s.touch(now)
	return nil
}

func (s *Session) SetGold(playerID string, amount int, view ledger.View, now time.Time) error {
	sd, rej := s.mutableSide(playerID)
	if rej != nil {
		return rej
	}
	if amount < 0 {
		return reject(protocol.ErrBadRequest, "amount must be non-negative")
	}
	if s.limits.MaxGoldPerTrade > 0 && amount > s.limits.MaxGoldPerTrade {
		return reject(protocol.ErrBounds, "max %d gold per trade", s.limits.MaxGoldPerTrade)
	}
	held, err := view.Currency(playerID)
	if err != nil {
		return err
	}
	if amount > held {
		return reject(protocol.ErrInsufficientHoldings, "holds %d gold, offered %d", held, amount)
	}
	sd.Gold = amount
	s.clearConfirms()
	s.touch(now)
	return nil
}

func (s *Session) Lock(playerID string, now time.Time) error {
	if s.State != StateNegotiating {
		return reject(protocol.ErrInvalidState, "session is %s", s.State)
	}
	sd := s.side(playerID)
	if sd == nil {
		return reject(protocol.ErrNotInThisSession, "not a side of this session")
	}
	if sd.Locked {
		return reject(protocol.ErrInvalidState, "already locked")
	}
	sd.Locked = true
	s.touch(now)
	return nil
}

func (s *Session) Unlock(playerID string, now time.Time) error {
	if s.State != StateNegotiating {
		return reject(protocol.ErrInvalidState, "session is %s", s.State)
	}
	sd := s.side(playerID)
	if sd == nil {
		return reject(protocol.ErrNotInThisSession, "not a side of this session")
	}
	if !sd.Locked {
		return reject(protocol.ErrInvalidState, "not locked")
	}
	sd.Locked = false
	s.clearConfirms()
	s.touch(now)
	return nil
}

// Confirm records playerID's final consent. When the second consent lands
// the session moves to COMMITTING in the same step, so both-confirmed is
// never observable under NEGOTIATING.
func (s *Session) Confirm(playerID string, now time.Time) (bothConfirmed bool, err error) {
	if s.State != StateNegotiating {
		return false, reject(protocol.ErrInvalidState, "session is %s", s.State)
	}
	sd := s.side(playerID)
	if sd == nil {
		return false, reject(protocol.ErrNotInThisSession, "not a side of this session")
	}
	if !sd.Locked {
		return false, reject(protocol.ErrInvalidState, "lock before confirming")
	}
	other := s.side(s.Other(playerID))
	if !other.Locked {
		return false, reject(protocol.ErrInvalidState, "counterpart has not locked")
	}
	if sd.Confirmed {
		return false, reject(protocol.ErrInvalidState, "already confirmed")
	}
	sd.Confirmed = true
	s.touch(now)
	if other.Confirmed {
		s.State = StateCommitting
		return true, nil
	}
	return false, nil
}

// AbortCommit reverts a failed commit to NEGOTIATING with both consents
// cleared. Locks stay; the players renegotiate from where they were.
func (s *Session) AbortCommit(now time.Time) {
	if s.State != StateCommitting {
		return
	}
	s.State = StateNegotiating
	s.clearConfirms()
	s.touch(now)
}

func (s *Session) CompleteCommit(now time.Time) {
	if s.State != StateCommitting {
		return
	}
	s.State = StateCompleted
	s.touch(now)
}

// Cancel is legal from NEGOTIATING and COMMITTING; after COMPLETED the
// exchange is final.
func (s *Session) Cancel(now time.Time) error {
	switch s.State {
	case StateNegotiating, StateCommitting:
		s.State = StateCancelled
		s.touch(now)
		return nil
	default:
		return reject(protocol.ErrInvalidState, "session is %s", s.State)
	}
}

// Terminal reports whether the session is finished.
func (s *Session) Terminal() bool {
	return s.State == StateCompleted || s.State == StateCancelled
}

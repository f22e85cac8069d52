package trade

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepost.gg/internal/ledger"
	"tradepost.gg/internal/metrics"
	"tradepost.gg/internal/protocol"
	"tradepost.gg/internal/tuning"
)

// Sink receives marshaled outbound frames for one connected player. Send
// must not block; dropping under backpressure is tolerable because every
// broadcast carries full session state, so the next frame resyncs the client.
type Sink interface {
	Send(b []byte)
}

type pendingRequest struct {
	initiatorID string
	targetID    string
	createdAt   time.Time
}

type Config struct {
	Store   ledger.Store
	Log     zerolog.Logger
	Metrics *metrics.Metrics // nil disables instrumentation
	Tuning  *tuning.Holder   // nil uses Defaults
	Clock   func() time.Time // nil uses time.Now
}

// Registry owns every active session, the at-most-one-session-per-player
// invariant, pending trade requests, and message routing. One mutex
// serializes all handling: message handlers run to completion one at a
// time, which gives each session the per-session total order the protocol
// promises, and makes the commit critical section trivial.
type Registry struct {
	store   ledger.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	tuning  *tuning.Holder
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session        // by session id
	byPlayer map[string]*Session        // active session per participant
	pending  map[string]pendingRequest  // by initiator id
	sinks    map[string]Sink
	names    map[string]string
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Tuning == nil {
		cfg.Tuning = tuning.NewHolder(tuning.Defaults())
	}
	return &Registry{
		store:    cfg.Store,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		tuning:   cfg.Tuning,
		clock:    cfg.Clock,
		sessions: map[string]*Session{},
		byPlayer: map[string]*Session{},
		pending:  map[string]pendingRequest{},
		sinks:    map[string]Sink{},
		names:    map[string]string{},
	}
}

// Attach binds a player's outbound sink. A reconnect replaces the previous
// sink; frames already queued on the old one are lost, the next broadcast
// carries full state anyway.
func (r *Registry) Attach(playerID, name string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[playerID] = sink
	if name != "" {
		r.names[playerID] = name
	}
}

// Detach handles a disconnect: the player's active session (if any) is
// cancelled with reason DISCONNECTED and the counterpart notified. A stale
// sink (already replaced by a reconnect) detaches nothing.
func (r *Registry) Detach(playerID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks[playerID] != sink {
		return
	}
	delete(r.sinks, playerID)
	delete(r.names, playerID)

	now := r.clock()
	delete(r.pending, playerID)
	for initiator, p := range r.pending {
		if p.targetID == playerID {
			delete(r.pending, initiator)
			r.sendTo(initiator, protocol.TradeDeclinedMsg{
				Type: protocol.TypeTradeDeclined, ByID: playerID, Reason: protocol.ReasonDisconnected,
			})
		}
	}

	if sess := r.byPlayer[playerID]; sess != nil {
		r.cancelLocked(sess, protocol.ReasonDisconnected, now)
	}
}

// Request stores a pending trade request from initiator to target and
// notifies the target. A newer request from the same initiator replaces the
// previous one.
func (r *Registry) Request(initiatorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if initiatorID == targetID {
		return r.rejected(reject(protocol.ErrBadRequest, "cannot trade with yourself"))
	}
	if r.byPlayer[initiatorID] != nil || r.byPlayer[targetID] != nil {
		return r.rejected(reject(protocol.ErrAlreadyTrading, "a participant is already trading"))
	}
	if r.sinks[targetID] == nil {
		return r.rejected(reject(protocol.ErrTargetUnreachable, "target is not connected"))
	}

	t := r.tuning.Current()
	r.pending[initiatorID] = pendingRequest{
		initiatorID: initiatorID,
		targetID:    targetID,
		createdAt:   r.clock(),
	}
	r.sendTo(targetID, protocol.TradeRequestedMsg{
		Type:      protocol.TypeTradeRequested,
		FromID:    initiatorID,
		FromName:  r.names[initiatorID],
		ExpiresIn: t.RequestTimeoutS,
	})
	return nil
}

// Accept turns a pending request into a live session and sends both sides
// the initial snapshot.
func (r *Registry) Accept(targetID, initiatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	t := r.tuning.Current()

	p, ok := r.pending[initiatorID]
	if !ok || p.targetID != targetID {
		return r.rejected(reject(protocol.ErrNoSuchRequest, "no pending request from %s", initiatorID))
	}
	if t.RequestTimeout() > 0 && now.Sub(p.createdAt) > t.RequestTimeout() {
		delete(r.pending, initiatorID)
		return r.rejected(reject(protocol.ErrNoSuchRequest, "request expired"))
	}
	if r.byPlayer[initiatorID] != nil || r.byPlayer[targetID] != nil {
		return r.rejected(reject(protocol.ErrAlreadyTrading, "a participant is already trading"))
	}
	delete(r.pending, initiatorID)

	sess := newSession(uuid.NewString(), initiatorID, targetID, t.Limits, now)
	r.sessions[sess.ID] = sess
	r.byPlayer[initiatorID] = sess
	r.byPlayer[targetID] = sess
	r.metrics.SessionStarted()
	r.log.Info().Str("session", sess.ID).Str("initiator", initiatorID).Str("target", targetID).Msg("trade started")

	r.broadcastLocked(sess, protocol.TypeTradeStarted)
	return nil
}

// Decline discards a pending request and tells the initiator.
func (r *Registry) Decline(targetID, initiatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[initiatorID]
	if !ok || p.targetID != targetID {
		return r.rejected(reject(protocol.ErrNoSuchRequest, "no pending request from %s", initiatorID))
	}
	delete(r.pending, initiatorID)
	r.sendTo(initiatorID, protocol.TradeDeclinedMsg{Type: protocol.TypeTradeDeclined, ByID: targetID})
	return nil
}

// Dispatch routes an in-session message from playerID. The session id must
// match that player's active session; stale or forged ids are rejected
// without touching any session.
func (r *Registry) Dispatch(playerID string, msg protocol.TradeActMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.byPlayer[playerID]
	if sess == nil || sess.ID != msg.SessionID {
		return r.rejected(reject(protocol.ErrNotInThisSession, "no active session %s", msg.SessionID))
	}

	now := r.clock()
	switch msg.Type {
	case protocol.TypeTradeAddItem:
		if msg.ItemID == "" {
			return r.rejected(reject(protocol.ErrBadRequest, "missing item_id"))
		}
		if err := sess.AddItem(playerID, msg.ItemID, msg.Quantity, r.store, now); err != nil {
			return r.rejected(err)
		}
	case protocol.TypeTradeRemoveItem:
		if msg.ItemID == "" {
			return r.rejected(reject(protocol.ErrBadRequest, "missing item_id"))
		}
		if err := sess.RemoveItem(playerID, msg.ItemID, msg.Quantity, now); err != nil {
			return r.rejected(err)
		}
	case protocol.TypeTradeSetGold:
		if err := sess.SetGold(playerID, msg.Amount, r.store, now); err != nil {
			return r.rejected(err)
		}
	case protocol.TypeTradeLock:
		if err := sess.Lock(playerID, now); err != nil {
			return r.rejected(err)
		}
	case protocol.TypeTradeUnlock:
		if err := sess.Unlock(playerID, now); err != nil {
			return r.rejected(err)
		}
	case protocol.TypeTradeConfirm:
		both, err := sess.Confirm(playerID, now)
		if err != nil {
			return r.rejected(err)
		}
		if both {
			r.commitLocked(sess, now)
			return nil
		}
	case protocol.TypeTradeCancel:
		if err := sess.Cancel(now); err != nil {
			return r.rejected(err)
		}
		r.finishCancelLocked(sess, protocol.ReasonPlayerCancelled)
		return nil
	default:
		return r.rejected(reject(protocol.ErrProtoBadRequest, "unknown message type %q", msg.Type))
	}

	r.broadcastLocked(sess, protocol.TypeTradeUpdated)
	return nil
}

// commitLocked runs the atomic exchange for a session that just entered
// COMMITTING. The registry mutex is the commit critical section: nothing
// else in this subsystem touches the ledger while it runs, and the store's
// TransferAtomic shields against mutation by other subsystems.
func (r *Registry) commitLocked(sess *Session, now time.Time) {
	aID, bID := sess.SideIDs()
	fromA, fromB := sess.Offers()

	err := r.store.TransferAtomic(aID, bID, fromA, fromB)
	if err == nil {
		sess.CompleteCommit(now)
		r.metrics.SessionCompleted()
		r.log.Info().Str("session", sess.ID).Msg("trade completed")
		done := protocol.TradeCompletedMsg{Type: protocol.TypeTradeCompleted, SessionID: sess.ID}
		r.sendTo(aID, done)
		r.sendTo(bID, done)
		r.unregisterLocked(sess)
		return
	}

	sess.AbortCommit(now)
	code := protocol.ErrInternal
	if errors.Is(err, ledger.ErrConflict) {
		code = protocol.ErrCommitConflict
		r.metrics.CommitConflict()
	} else {
		r.log.Error().Err(err).Str("session", sess.ID).Msg("ledger transfer failed")
	}
	fail := protocol.TradeErrorMsg{
		Type:      protocol.TypeTradeError,
		SessionID: sess.ID,
		Code:      code,
		Message:   "commit failed; offers no longer covered by holdings",
	}
	r.sendTo(aID, fail)
	r.sendTo(bID, fail)
	r.broadcastLocked(sess, protocol.TypeTradeUpdated)
}

func (r *Registry) cancelLocked(sess *Session, reason string, now time.Time) {
	if err := sess.Cancel(now); err != nil {
		return
	}
	r.finishCancelLocked(sess, reason)
}

func (r *Registry) finishCancelLocked(sess *Session, reason string) {
	r.metrics.SessionCancelled(reason)
	r.log.Info().Str("session", sess.ID).Str("reason", reason).Msg("trade cancelled")
	aID, bID := sess.SideIDs()
	msg := protocol.TradeCancelledMsg{Type: protocol.TypeTradeCancelled, SessionID: sess.ID, Reason: reason}
	r.sendTo(aID, msg)
	r.sendTo(bID, msg)
	r.unregisterLocked(sess)
}

func (r *Registry) unregisterLocked(sess *Session) {
	aID, bID := sess.SideIDs()
	delete(r.sessions, sess.ID)
	if r.byPlayer[aID] == sess {
		delete(r.byPlayer, aID)
	}
	if r.byPlayer[bID] == sess {
		delete(r.byPlayer, bID)
	}
}

func (r *Registry) broadcastLocked(sess *Session, msgType string) {
	snap := sess.Snapshot()
	aID, bID := sess.SideIDs()
	msg := protocol.TradeStateMsg{Type: msgType, SessionID: sess.ID, Snapshot: snap}
	r.sendTo(aID, msg)
	r.sendTo(bID, msg)
}

func (r *Registry) sendTo(playerID string, v any) {
	sink := r.sinks[playerID]
	if sink == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal outbound")
		return
	}
	sink.Send(b)
}

// rejected counts a refused message and passes the error through.
func (r *Registry) rejected(err error) error {
	var rj *Reject
	if errors.As(err, &rj) {
		r.metrics.MessageRejected(rj.Code)
		return rj
	}
	r.metrics.MessageRejected(protocol.ErrInternal)
	return err
}

// Sweep expires stale pending requests and cancels idle sessions. Both are
// soft timeouts; the caller decides the cadence.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tuning.Current()
	if d := t.RequestTimeout(); d > 0 {
		for initiator, p := range r.pending {
			if now.Sub(p.createdAt) > d {
				delete(r.pending, initiator)
				r.sendTo(initiator, protocol.TradeDeclinedMsg{
					Type: protocol.TypeTradeDeclined, ByID: p.targetID, Reason: protocol.ReasonExpired,
				})
			}
		}
	}
	if d := t.IdleTimeout(); d > 0 {
		for _, sess := range r.sessions {
			if now.Sub(sess.LastActivity) > d {
				r.cancelLocked(sess, protocol.ReasonTimeout, now)
			}
		}
	}
}

// Run sweeps periodically until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	interval := r.tuning.Current().SweepInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Shutdown cancels every active session so clients hear a clean reason
// before the process exits.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for _, sess := range r.sessions {
		r.cancelLocked(sess, protocol.ReasonShutdown, now)
	}
}

// ActiveSessions reports the number of live sessions.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Limits returns the offer bounds currently in force, for the handshake.
func (r *Registry) Limits() tuning.Limits {
	return r.tuning.Current().Limits
}

package trade

import (
	"errors"
	"math"
	"testing"
	"time"

	"tradepost.gg/internal/ledger"
	"tradepost.gg/internal/protocol"
	"tradepost.gg/internal/tuning"
)

func testSession(t *testing.T) (*Session, *ledger.Memory, time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	view := ledger.NewMemory()
	view.SetHoldings("A", "IRON_INGOT", 5)
	view.SetCurrency("A", 100)
	view.SetHoldings("B", "PLANK", 20)
	view.SetCurrency("B", 50)
	sess := newSession("s-1", "A", "B", tuning.Limits{}, now)
	return sess, view, now
}

func rejectCode(t *testing.T, err error) string {
	t.Helper()
	var rj *Reject
	if !errors.As(err, &rj) {
		t.Fatalf("expected Reject, got %v", err)
	}
	return rj.Code
}

func TestSession_AddItemMergesAndClearsConfirms(t *testing.T) {
	sess, view, now := testSession(t)

	if err := sess.AddItem("A", "IRON_INGOT", 2, view, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.AddItem("A", "IRON_INGOT", 3, view, now); err != nil {
		t.Fatalf("add merge: %v", err)
	}
	if got := sess.side("A").Items["IRON_INGOT"]; got != 5 {
		t.Fatalf("merged qty = %d, want 5", got)
	}

	// A sixth ingot exceeds holdings.
	err := sess.AddItem("A", "IRON_INGOT", 1, view, now)
	if code := rejectCode(t, err); code != protocol.ErrInsufficientHoldings {
		t.Fatalf("code = %s, want E_INSUFFICIENT_HOLDINGS", code)
	}
}

func TestSession_OfferMutationClearsBothConfirms(t *testing.T) {
	sess, view, now := testSession(t)

	if err := sess.AddItem("A", "IRON_INGOT", 1, view, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock A: %v", err)
	}
	if err := sess.Lock("B", now); err != nil {
		t.Fatalf("lock B: %v", err)
	}
	if _, err := sess.Confirm("B", now); err != nil {
		t.Fatalf("confirm B: %v", err)
	}

	// A unlocks and changes its offer; B's consent must not survive.
	if err := sess.Unlock("A", now); err != nil {
		t.Fatalf("unlock A: %v", err)
	}
	if sess.side("B").Confirmed {
		t.Fatalf("B still confirmed after A's unlock")
	}
	if sess.side("A").Locked || sess.side("A").Confirmed {
		t.Fatalf("A should be unlocked and unconfirmed")
	}
	if !sess.side("B").Locked {
		t.Fatalf("B's lock must survive A's unlock")
	}
}

func TestSession_LockIdempotenceRejected(t *testing.T) {
	sess, _, now := testSession(t)
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := sess.Lock("A", now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("code = %s, want E_INVALID_STATE", code)
	}
}

func TestSession_ConfirmRequiresBothLocked(t *testing.T) {
	sess, _, now := testSession(t)
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := sess.Confirm("A", now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("code = %s, want E_INVALID_STATE", code)
	}
}

func TestSession_BothConfirmedEntersCommitting(t *testing.T) {
	sess, _, now := testSession(t)
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock A: %v", err)
	}
	if err := sess.Lock("B", now); err != nil {
		t.Fatalf("lock B: %v", err)
	}
	both, err := sess.Confirm("A", now)
	if err != nil || both {
		t.Fatalf("first confirm: both=%v err=%v", both, err)
	}
	if sess.State != StateNegotiating {
		t.Fatalf("state = %s after first confirm, want NEGOTIATING", sess.State)
	}
	both, err = sess.Confirm("B", now)
	if err != nil || !both {
		t.Fatalf("second confirm: both=%v err=%v", both, err)
	}
	if sess.State != StateCommitting {
		t.Fatalf("state = %s, want COMMITTING", sess.State)
	}

	// Mutations are illegal outside NEGOTIATING.
	err = sess.Lock("A", now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("code = %s, want E_INVALID_STATE", code)
	}
}

func TestSession_LockedImpliesNoMutation(t *testing.T) {
	sess, view, now := testSession(t)
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := sess.AddItem("A", "IRON_INGOT", 1, view, now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("add while locked: code = %s, want E_INVALID_STATE", code)
	}
	err = sess.SetGold("A", 10, view, now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("set_gold while locked: code = %s, want E_INVALID_STATE", code)
	}
	// The counterpart's offer is untouched by A's lock.
	if err := sess.SetGold("B", 10, view, now); err != nil {
		t.Fatalf("B set_gold: %v", err)
	}
}

func TestSession_RemoveItemPartialAndFull(t *testing.T) {
	sess, view, now := testSession(t)
	if err := sess.AddItem("A", "IRON_INGOT", 5, view, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.RemoveItem("A", "IRON_INGOT", 2, now); err != nil {
		t.Fatalf("remove partial: %v", err)
	}
	if got := sess.side("A").Items["IRON_INGOT"]; got != 3 {
		t.Fatalf("qty = %d, want 3", got)
	}
	// Zero quantity clears the stack.
	if err := sess.RemoveItem("A", "IRON_INGOT", 0, now); err != nil {
		t.Fatalf("remove full: %v", err)
	}
	if _, ok := sess.side("A").Items["IRON_INGOT"]; ok {
		t.Fatalf("stack should be gone")
	}
	err := sess.RemoveItem("A", "IRON_INGOT", 1, now)
	if code := rejectCode(t, err); code != protocol.ErrBadRequest {
		t.Fatalf("remove absent: code = %s, want E_BAD_REQUEST", code)
	}
}

func TestSession_SetGoldBounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	view := ledger.NewMemory()
	view.SetCurrency("A", 10_000)
	sess := newSession("s-1", "A", "B", tuning.Limits{MaxGoldPerTrade: 500}, now)

	err := sess.SetGold("A", 501, view, now)
	if code := rejectCode(t, err); code != protocol.ErrBounds {
		t.Fatalf("code = %s, want E_BOUNDS", code)
	}
	if err := sess.SetGold("A", 500, view, now); err != nil {
		t.Fatalf("set_gold at bound: %v", err)
	}
	// More gold than held is rejected even inside the bound.
	view.SetCurrency("A", 100)
	err = sess.SetGold("A", 200, view, now)
	if code := rejectCode(t, err); code != protocol.ErrInsufficientHoldings {
		t.Fatalf("code = %s, want E_INSUFFICIENT_HOLDINGS", code)
	}
}

func TestSession_StackAndQtyBounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	view := ledger.NewMemory()
	view.SetHoldings("A", "X", 100)
	view.SetHoldings("A", "Y", 100)
	view.SetHoldings("A", "Z", 100)
	sess := newSession("s-1", "A", "B", tuning.Limits{MaxItemStacks: 2, MaxQtyPerItem: 10}, now)

	if err := sess.AddItem("A", "X", 10, view, now); err != nil {
		t.Fatalf("add X: %v", err)
	}
	err := sess.AddItem("A", "X", 1, view, now)
	if code := rejectCode(t, err); code != protocol.ErrBounds {
		t.Fatalf("qty bound: code = %s, want E_BOUNDS", code)
	}
	if err := sess.AddItem("A", "Y", 1, view, now); err != nil {
		t.Fatalf("add Y: %v", err)
	}
	err = sess.AddItem("A", "Z", 1, view, now)
	if code := rejectCode(t, err); code != protocol.ErrBounds {
		t.Fatalf("stack bound: code = %s, want E_BOUNDS", code)
	}
}

func TestSession_AddItemQtyOverflowRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	view := ledger.NewMemory()
	view.SetHoldings("A", "X", 5)
	sess := newSession("s-1", "A", "B", tuning.Limits{MaxQtyPerItem: 10_000}, now)

	if err := sess.AddItem("A", "X", 2, view, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	// A merge that wraps negative must not slip past the bounds and
	// holdings checks.
	err := sess.AddItem("A", "X", math.MaxInt-1, view, now)
	if code := rejectCode(t, err); code != protocol.ErrBounds {
		t.Fatalf("overflow add: code = %s, want E_BOUNDS", code)
	}
	if got := sess.side("A").Items["X"]; got != 2 {
		t.Fatalf("offered qty = %d, want 2", got)
	}
}

func TestSession_AbortCommitRevertsToNegotiating(t *testing.T) {
	sess, _, now := testSession(t)
	if err := sess.Lock("A", now); err != nil {
		t.Fatalf("lock A: %v", err)
	}
	if err := sess.Lock("B", now); err != nil {
		t.Fatalf("lock B: %v", err)
	}
	if _, err := sess.Confirm("A", now); err != nil {
		t.Fatalf("confirm A: %v", err)
	}
	if _, err := sess.Confirm("B", now); err != nil {
		t.Fatalf("confirm B: %v", err)
	}

	sess.AbortCommit(now)
	if sess.State != StateNegotiating {
		t.Fatalf("state = %s, want NEGOTIATING", sess.State)
	}
	if sess.side("A").Confirmed || sess.side("B").Confirmed {
		t.Fatalf("confirms must be cleared after abort")
	}
	if !sess.side("A").Locked || !sess.side("B").Locked {
		t.Fatalf("locks survive an aborted commit")
	}
}

func TestSession_CancelTerminal(t *testing.T) {
	sess, _, now := testSession(t)
	if err := sess.Cancel(now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sess.State != StateCancelled || !sess.Terminal() {
		t.Fatalf("state = %s, want CANCELLED", sess.State)
	}
	err := sess.Cancel(now)
	if code := rejectCode(t, err); code != protocol.ErrInvalidState {
		t.Fatalf("double cancel: code = %s, want E_INVALID_STATE", code)
	}
}

func TestSession_SnapshotCopiesState(t *testing.T) {
	sess, view, now := testSession(t)
	if err := sess.AddItem("A", "IRON_INGOT", 2, view, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap := sess.Snapshot()
	if len(snap.Sides) != 2 || snap.State != protocol.StateNegotiating {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	snap.Sides[0].Items["IRON_INGOT"] = 99
	if got := sess.side("A").Items["IRON_INGOT"]; got != 2 {
		t.Fatalf("snapshot aliases session state (qty=%d)", got)
	}
}

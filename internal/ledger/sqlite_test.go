package ledger

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_SeedAndQuery(t *testing.T) {
	s := openTestDB(t)
	err := s.Seed([]PlayerBalance{
		{PlayerID: "A", Gold: 100, Items: map[string]int{"itemX": 5}},
		{PlayerID: "B", Gold: 0, Items: map[string]int{"itemY": 2}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if q, err := s.Holdings("A", "itemX"); err != nil || q != 5 {
		t.Fatalf("A itemX = %d (%v), want 5", q, err)
	}
	if q, err := s.Holdings("A", "missing"); err != nil || q != 0 {
		t.Fatalf("A missing = %d (%v), want 0", q, err)
	}
	if g, err := s.Currency("A"); err != nil || g != 100 {
		t.Fatalf("A gold = %d (%v), want 100", g, err)
	}
	if g, err := s.Currency("nobody"); err != nil || g != 0 {
		t.Fatalf("unknown gold = %d (%v), want 0", g, err)
	}
}

func TestSQLite_TransferAtomicSwapsOffers(t *testing.T) {
	s := openTestDB(t)
	if err := s.Seed([]PlayerBalance{
		{PlayerID: "A", Gold: 25, Items: map[string]int{"itemX": 1}},
		{PlayerID: "B", Items: map[string]int{"itemY": 2}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.TransferAtomic("A", "B",
		Offer{Items: map[string]int{"itemX": 1}, Gold: 10},
		Offer{Items: map[string]int{"itemY": 2}})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if q, _ := s.Holdings("A", "itemX"); q != 0 {
		t.Fatalf("A itemX = %d, want 0", q)
	}
	if q, _ := s.Holdings("A", "itemY"); q != 2 {
		t.Fatalf("A itemY = %d, want 2", q)
	}
	if q, _ := s.Holdings("B", "itemX"); q != 1 {
		t.Fatalf("B itemX = %d, want 1", q)
	}
	if g, _ := s.Currency("A"); g != 15 {
		t.Fatalf("A gold = %d, want 15", g)
	}
	if g, _ := s.Currency("B"); g != 10 {
		t.Fatalf("B gold = %d, want 10", g)
	}
}

func TestSQLite_TransferAtomicConflictRollsBack(t *testing.T) {
	s := openTestDB(t)
	if err := s.Seed([]PlayerBalance{
		{PlayerID: "A", Items: map[string]int{"itemX": 2}},
		{PlayerID: "B", Gold: 50},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A's side no longer covers the offer; the gold must not move either.
	err := s.TransferAtomic("A", "B",
		Offer{Items: map[string]int{"itemX": 5}},
		Offer{Gold: 50})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if q, _ := s.Holdings("A", "itemX"); q != 2 {
		t.Fatalf("A itemX = %d, want 2", q)
	}
	if g, _ := s.Currency("B"); g != 50 {
		t.Fatalf("B gold = %d, want 50", g)
	}
}

func TestSQLite_Dump(t *testing.T) {
	s := openTestDB(t)
	if err := s.Seed([]PlayerBalance{
		{PlayerID: "B", Gold: 7},
		{PlayerID: "A", Gold: 12, Items: map[string]int{"itemX": 3}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dump, err := s.Dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(dump) != 2 || dump[0].PlayerID != "A" || dump[1].PlayerID != "B" {
		t.Fatalf("unexpected dump order: %+v", dump)
	}
	if dump[0].Items["itemX"] != 3 || dump[0].Gold != 12 {
		t.Fatalf("unexpected A balance: %+v", dump[0])
	}
}

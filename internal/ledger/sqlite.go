package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLite is the durable Store. A single connection serializes all access,
// so a transfer transaction is the only writer for its whole critical
// section; that is the "single critical section over both ledgers" the
// commit step relies on.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS holdings (
			player_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty >= 0),
			PRIMARY KEY (player_id, item_id)
		);`,
		`CREATE TABLE IF NOT EXISTS currency (
			player_id TEXT PRIMARY KEY,
			gold INTEGER NOT NULL CHECK (gold >= 0)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Holdings(playerID, itemID string) (int, error) {
	var qty int
	err := s.db.QueryRow(`SELECT qty FROM holdings WHERE player_id = ? AND item_id = ?`, playerID, itemID).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func (s *SQLite) Currency(playerID string) (int, error) {
	var gold int
	err := s.db.QueryRow(`SELECT gold FROM currency WHERE player_id = ?`, playerID).Scan(&gold)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return gold, err
}

func (s *SQLite) TransferAtomic(aID, bID string, fromA, fromB Offer) error {
	// MaxOpenConns(1) serializes all access; no other writer can slip in
	// between the deferred BEGIN and the first write.
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Touch participants in ascending id order so the access pattern is
	// deterministic whatever the caller passed.
	type leg struct {
		from, to string
		off      Offer
	}
	legs := []leg{{aID, bID, fromA}, {bID, aID, fromB}}
	sort.Slice(legs, func(i, j int) bool { return legs[i].from < legs[j].from })

	for _, l := range legs {
		if err := coversTx(tx, l.from, l.off); err != nil {
			return err
		}
	}
	for _, l := range legs {
		if err := moveTx(tx, l.from, l.to, l.off); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func coversTx(tx *sql.Tx, playerID string, off Offer) error {
	for item, qty := range off.Items {
		if qty <= 0 {
			continue
		}
		var held int
		err := tx.QueryRow(`SELECT qty FROM holdings WHERE player_id = ? AND item_id = ?`, playerID, item).Scan(&held)
		if err == sql.ErrNoRows {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if held < qty {
			return ErrConflict
		}
	}
	if off.Gold > 0 {
		var gold int
		err := tx.QueryRow(`SELECT gold FROM currency WHERE player_id = ?`, playerID).Scan(&gold)
		if err == sql.ErrNoRows {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if gold < off.Gold {
			return ErrConflict
		}
	}
	return nil
}

func moveTx(tx *sql.Tx, from, to string, off Offer) error {
	for item, qty := range off.Items {
		if qty <= 0 {
			continue
		}
		if _, err := tx.Exec(`UPDATE holdings SET qty = qty - ? WHERE player_id = ? AND item_id = ?`, qty, from, item); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM holdings WHERE player_id = ? AND item_id = ? AND qty <= 0`, from, item); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO holdings (player_id, item_id, qty) VALUES (?, ?, ?)
			ON CONFLICT (player_id, item_id) DO UPDATE SET qty = qty + excluded.qty`, to, item, qty); err != nil {
			return err
		}
	}
	if off.Gold > 0 {
		if _, err := tx.Exec(`UPDATE currency SET gold = gold - ? WHERE player_id = ?`, off.Gold, from); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO currency (player_id, gold) VALUES (?, ?)
			ON CONFLICT (player_id) DO UPDATE SET gold = gold + excluded.gold`, to, off.Gold); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Dump() ([]PlayerBalance, error) {
	byID := map[string]*PlayerBalance{}
	get := func(id string) *PlayerBalance {
		pb := byID[id]
		if pb == nil {
			pb = &PlayerBalance{PlayerID: id}
			byID[id] = pb
		}
		return pb
	}

	rows, err := s.db.Query(`SELECT player_id, item_id, qty FROM holdings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, item string
		var qty int
		if err := rows.Scan(&id, &item, &qty); err != nil {
			return nil, err
		}
		pb := get(id)
		if pb.Items == nil {
			pb.Items = map[string]int{}
		}
		pb.Items[item] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grows, err := s.db.Query(`SELECT player_id, gold FROM currency`)
	if err != nil {
		return nil, err
	}
	defer grows.Close()
	for grows.Next() {
		var id string
		var gold int
		if err := grows.Scan(&id, &gold); err != nil {
			return nil, err
		}
		get(id).Gold = gold
	}
	if err := grows.Err(); err != nil {
		return nil, err
	}

	out := make([]PlayerBalance, 0, len(byID))
	for _, pb := range byID {
		out = append(out, *pb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (s *SQLite) Seed(balances []PlayerBalance) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, pb := range balances {
		if pb.PlayerID == "" {
			return fmt.Errorf("seed: empty player id")
		}
		if _, err := tx.Exec(`INSERT INTO currency (player_id, gold) VALUES (?, ?)
			ON CONFLICT (player_id) DO UPDATE SET gold = excluded.gold`, pb.PlayerID, pb.Gold); err != nil {
			return err
		}
		for item, qty := range pb.Items {
			if qty <= 0 {
				continue
			}
			if _, err := tx.Exec(`INSERT INTO holdings (player_id, item_id, qty) VALUES (?, ?, ?)
				ON CONFLICT (player_id, item_id) DO UPDATE SET qty = excluded.qty`, pb.PlayerID, item, qty); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Package snapshot writes zstd-compressed exports of every ledger balance.
// The server takes one periodically and on shutdown; they exist for backup
// and restore, not for trade history.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"tradepost.gg/internal/ledger"
)

type Header struct {
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
}

type BalancesV1 struct {
	Header  Header                 `json:"header"`
	Players []ledger.PlayerBalance `json:"players"`
}

const ext = ".balances.zst"

// Path returns the snapshot file path for the given moment.
func Path(dir string, at time.Time) string {
	return filepath.Join(dir, at.UTC().Format("20060102-150405")+ext)
}

// Latest returns the newest snapshot in dir, or "" if none exist.
func Latest(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// Write exports src into path. The file starts with a JSON header line so
// tooling can identify it without decoding the gob payload.
func Write(path string, src ledger.Dumper, at time.Time) error {
	players, err := src.Dump()
	if err != nil {
		return err
	}
	snap := BalancesV1{
		Header:  Header{Version: 1, CreatedAt: at.UTC().Format(time.RFC3339)},
		Players: players,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// Read loads a snapshot written by Write.
func Read(path string) (BalancesV1, error) {
	var snap BalancesV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Skip header line; the gob payload contains it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Restore seeds dst from the snapshot at path.
func Restore(path string, dst ledger.Seeder) error {
	snap, err := Read(path)
	if err != nil {
		return err
	}
	return dst.Seed(snap.Players)
}

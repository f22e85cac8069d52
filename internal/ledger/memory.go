package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. It backs tests and the -ledger=memory dev
// mode; the server default is SQLite.
type Memory struct {
	mu    sync.Mutex
	items map[string]map[string]int
	gold  map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		items: map[string]map[string]int{},
		gold:  map[string]int{},
	}
}

func (m *Memory) Holdings(playerID, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[playerID][itemID], nil
}

func (m *Memory) Currency(playerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gold[playerID], nil
}

// SetHoldings overwrites one stack. External systems (and tests standing in
// for them) use it to mutate holdings outside any trade.
func (m *Memory) SetHoldings(playerID, itemID string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stacks := m.items[playerID]
	if stacks == nil {
		stacks = map[string]int{}
		m.items[playerID] = stacks
	}
	if qty <= 0 {
		delete(stacks, itemID)
		return
	}
	stacks[itemID] = qty
}

func (m *Memory) SetCurrency(playerID string, gold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gold[playerID] = gold
}

func (m *Memory) TransferAtomic(aID, bID string, fromA, fromB Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.coversLocked(aID, fromA); err != nil {
		return err
	}
	if err := m.coversLocked(bID, fromB); err != nil {
		return err
	}
	m.moveLocked(aID, bID, fromA)
	m.moveLocked(bID, aID, fromB)
	return nil
}

func (m *Memory) coversLocked(playerID string, off Offer) error {
	for item, qty := range off.Items {
		if m.items[playerID][item] < qty {
			return ErrConflict
		}
	}
	if m.gold[playerID] < off.Gold {
		return ErrConflict
	}
	return nil
}

func (m *Memory) moveLocked(from, to string, off Offer) {
	dst := m.items[to]
	if dst == nil && len(off.Items) > 0 {
		dst = map[string]int{}
		m.items[to] = dst
	}
	src := m.items[from]
	for item, qty := range off.Items {
		if qty <= 0 {
			continue
		}
		src[item] -= qty
		if src[item] <= 0 {
			delete(src, item)
		}
		dst[item] += qty
	}
	m.gold[from] -= off.Gold
	m.gold[to] += off.Gold
}

func (m *Memory) Dump() ([]PlayerBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := map[string]struct{}{}
	for id := range m.items {
		ids[id] = struct{}{}
	}
	for id := range m.gold {
		ids[id] = struct{}{}
	}
	out := make([]PlayerBalance, 0, len(ids))
	for id := range ids {
		pb := PlayerBalance{PlayerID: id, Gold: m.gold[id]}
		if stacks := m.items[id]; len(stacks) > 0 {
			pb.Items = make(map[string]int, len(stacks))
			for item, qty := range stacks {
				pb.Items[item] = qty
			}
		}
		out = append(out, pb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *Memory) Seed(balances []PlayerBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pb := range balances {
		if pb.PlayerID == "" {
			return fmt.Errorf("seed: empty player id")
		}
		m.gold[pb.PlayerID] = pb.Gold
		stacks := map[string]int{}
		for item, qty := range pb.Items {
			if qty > 0 {
				stacks[item] = qty
			}
		}
		m.items[pb.PlayerID] = stacks
	}
	return nil
}

// Package ledger is the authoritative store of item and currency holdings.
// The trade core only reads it during negotiation; the only write path is
// TransferAtomic, invoked once per committing session.
package ledger

import "errors"

// ErrConflict means holdings changed underneath a transfer between
// validation at offer/lock time and commit time. Nothing moved.
var ErrConflict = errors.New("ledger: holdings changed underneath the transfer")

// Offer is one side's agreed outflow: item stacks plus gold.
type Offer struct {
	Items map[string]int
	Gold  int
}

// Empty reports whether the offer moves nothing.
func (o Offer) Empty() bool {
	if o.Gold != 0 {
		return false
	}
	for _, n := range o.Items {
		if n != 0 {
			return false
		}
	}
	return true
}

// View is the read-only slice of the store consulted when validating offers.
// Unknown players simply hold nothing.
type View interface {
	Holdings(playerID, itemID string) (int, error)
	Currency(playerID string) (int, error)
}

// Store is the full ledger.
type Store interface {
	View

	// TransferAtomic re-validates both offers against current holdings and,
	// if both still stand, moves a's offer to b and b's offer to a as one
	// indivisible operation with respect to any concurrent mutation of
	// either ledger. Returns ErrConflict if either side no longer holds
	// what it offered.
	TransferAtomic(aID, bID string, fromA, fromB Offer) error
}

// PlayerBalance is one player's complete holdings, used for seeding and
// snapshot export.
type PlayerBalance struct {
	PlayerID string         `json:"player_id" yaml:"id"`
	Gold     int            `json:"gold" yaml:"gold"`
	Items    map[string]int `json:"items,omitempty" yaml:"items"`
}

// Dumper is implemented by stores that can export every balance.
type Dumper interface {
	Dump() ([]PlayerBalance, error)
}

// Seeder is implemented by stores that can bulk-load balances.
type Seeder interface {
	Seed(balances []PlayerBalance) error
}

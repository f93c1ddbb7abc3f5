// Package domain defines core data structures used throughout the account watcher.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountState wallet balance of the watched asset and position size of the watched symbol.
// It is a value type: copying it takes a snapshot.
type AccountState struct {
	Balance  decimal.Decimal `json:"balance"`
	Position decimal.Decimal `json:"position"`
}

// NewAccountState creates a new AccountState.
func NewAccountState(balance, position decimal.Decimal) AccountState {
	return AccountState{Balance: balance, Position: position}
}

// Equal reports whether both fields are numerically equal.
func (s AccountState) Equal(other AccountState) bool {
	return s.Balance.Equal(other.Balance) && s.Position.Equal(other.Position)
}

// String returns the string representation.
func (s AccountState) String() string {
	return fmt.Sprintf("balance=%s position=%s", s.Balance.String(), s.Position.String())
}

// Direction of the wallet balance change between two states.
type Direction int

const (
	// DirectionIncrease balance grew or stayed the same.
	DirectionIncrease Direction = iota
	// DirectionDecrease balance shrank.
	DirectionDecrease
)

// DirectionBetween returns the direction of the balance change from prev to cur.
func DirectionBetween(prev, cur AccountState) Direction {
	if cur.Balance.GreaterThanOrEqual(prev.Balance) {
		return DirectionIncrease
	}
	return DirectionDecrease
}

func (d Direction) String() string {
	if d == DirectionDecrease {
		return "decrease"
	}
	return "increase"
}

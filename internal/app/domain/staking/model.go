package staking

import "time"

// DefaultBoost applies when a user has no active staking position.
const DefaultBoost = 1.0

// Position is a staking position carrying an accrual boost. The store is the
// source of truth; the rewards core only reads the most recently staked
// active position.
type Position struct {
	ID              string
	UserID          string
	BoostMultiplier float64
	Active          bool
	StakedAt        time.Time
}

package ledger

import "time"

// Currency is the platform reward unit.
const Currency = "SPITAK"

// Kind classifies a balance-affecting event.
type Kind string

const (
	KindMint          Kind = "mint"
	KindPurchase      Kind = "purchase"
	KindReferralBonus Kind = "referral_bonus"
)

// Status of a ledger entry. Every mutation runs inside one store transaction,
// so entries are only ever written as completed.
type Status string

const StatusCompleted Status = "completed"

// Entry is an immutable, append-only record of a balance-affecting event.
type Entry struct {
	ID          string
	UserID      string
	Kind        Kind
	Amount      float64
	Currency    string
	Status      Status
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Sum returns the net balance implied by a user's completed entries:
// mints and referral bonuses add, purchases subtract. For a consistent store
// this equals the user's current token balance at all times.
func Sum(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		if e.Status != StatusCompleted {
			continue
		}
		switch e.Kind {
		case KindMint, KindReferralBonus:
			total += e.Amount
		case KindPurchase:
			total -= e.Amount
		}
	}
	return total
}

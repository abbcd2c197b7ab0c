package referral

import "time"

// BonusAmount is the fixed token credit paid to a referrer when a referred
// user registers.
const BonusAmount = 5.0

// CodeLength is the length of generated referral codes.
const CodeLength = 8

// Referral records one successful referred registration. Written once, never
// updated.
type Referral struct {
	ID             string
	ReferrerID     string
	ReferredUserID string
	Bonus          float64
	CreatedAt      time.Time
}

package user

import "time"

// User is a registered participant of the rewards programme. Balances are
// mutated exclusively through relative deltas applied inside a store
// transaction.
type User struct {
	ID               string
	PhoneNumber      string
	FullName         string
	Username         string
	District         string
	AvatarURL        string
	ReferralCode     string
	ReferredBy       string
	TokenBalance     float64
	StepBalance      int64
	LifetimeEarned   float64
	StreakDays       int
	LastActivityDate time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BalanceDelta is a relative balance adjustment. Token and step deltas are
// added server-side (balance = balance + delta); LastActivityDate is only
// written when non-zero.
type BalanceDelta struct {
	Tokens           float64
	Steps            int64
	Lifetime         float64
	LastActivityDate time.Time
}

// ProfileUpdate carries optional profile fields. Nil pointers leave the
// stored value untouched.
type ProfileUpdate struct {
	FullName  *string
	Username  *string
	District  *string
	AvatarURL *string
}

// Empty reports whether the update would change nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FullName == nil && p.Username == nil && p.District == nil && p.AvatarURL == nil
}

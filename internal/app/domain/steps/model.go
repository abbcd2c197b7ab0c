package steps

import "time"

// DailyRecord aggregates all submissions of one user for one calendar date.
// There is at most one record per (user, date); repeated submissions fold
// into the existing record via Merge.
type DailyRecord struct {
	ID              string
	UserID          string
	Date            time.Time
	StepsCount      int64
	DistanceKM      float64
	CaloriesBurned  int64
	ActiveMinutes   int64
	TokensEarned    float64
	BoostMultiplier float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Merge folds a new submission into an existing record for the same day.
// Counters accumulate; the boost multiplier reflects the latest submission.
func Merge(existing, incoming DailyRecord) DailyRecord {
	existing.StepsCount += incoming.StepsCount
	existing.DistanceKM += incoming.DistanceKM
	existing.CaloriesBurned += incoming.CaloriesBurned
	existing.ActiveMinutes += incoming.ActiveMinutes
	existing.TokensEarned += incoming.TokensEarned
	existing.BoostMultiplier = incoming.BoostMultiplier
	return existing
}

// DateOf truncates a timestamp to its UTC calendar date, the key granularity
// for daily records.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package steps

import (
	"testing"
	"time"
)

func TestMergeAccumulatesCounters(t *testing.T) {
	existing := DailyRecord{
		StepsCount:      500,
		DistanceKM:      0.4,
		CaloriesBurned:  20,
		ActiveMinutes:   5,
		TokensEarned:    0.5,
		BoostMultiplier: 1.0,
	}
	incoming := DailyRecord{
		StepsCount:      500,
		DistanceKM:      0.6,
		CaloriesBurned:  30,
		ActiveMinutes:   7,
		TokensEarned:    0.75,
		BoostMultiplier: 1.5,
	}

	merged := Merge(existing, incoming)

	if merged.StepsCount != 1000 {
		t.Fatalf("expected 1000 steps, got %d", merged.StepsCount)
	}
	if merged.TokensEarned != 1.25 {
		t.Fatalf("expected 1.25 tokens, got %f", merged.TokensEarned)
	}
	if merged.CaloriesBurned != 50 || merged.ActiveMinutes != 12 {
		t.Fatalf("unexpected counters: %+v", merged)
	}
	if merged.BoostMultiplier != 1.5 {
		t.Fatalf("boost should reflect the latest submission, got %f", merged.BoostMultiplier)
	}
}

func TestDateOfTruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("YEREVAN", 4*3600)
	ts := time.Date(2025, 6, 15, 2, 30, 0, 0, loc) // 2025-06-14 22:30 UTC

	got := DateOf(ts)

	want := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

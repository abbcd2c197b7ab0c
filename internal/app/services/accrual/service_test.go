package accrual

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		PhoneNumber:  "+37491000001",
		ReferralCode: "WALKER99",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestSubmitStepsDefaultBoost(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	svc := New(store, nil)

	res, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 1000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TokensEarned != 1.0 {
		t.Fatalf("expected 1.0 token, got %f", res.TokensEarned)
	}
	if res.BoostMultiplier != staking.DefaultBoost {
		t.Fatalf("expected default boost, got %f", res.BoostMultiplier)
	}
	if res.TokenBalance != 1.0 || res.StepBalance != 1000 {
		t.Fatalf("unexpected balances: %+v", res)
	}
}

func TestSubmitStepsAppliesActiveBoost(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	if _, err := store.CreatePosition(context.Background(), staking.Position{
		UserID:          u.ID,
		BoostMultiplier: 1.5,
		Active:          true,
		StakedAt:        time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create position: %v", err)
	}
	svc := New(store, nil)

	res, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 2000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TokensEarned != 3.0 {
		t.Fatalf("expected 3.0 tokens for 2000 steps at 1.5x, got %f", res.TokensEarned)
	}
}

func TestSubmitStepsLatestActivePositionWins(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	base := time.Now().UTC()
	for _, pos := range []staking.Position{
		{UserID: u.ID, BoostMultiplier: 2.0, Active: true, StakedAt: base.Add(-48 * time.Hour)},
		{UserID: u.ID, BoostMultiplier: 1.25, Active: true, StakedAt: base},
		{UserID: u.ID, BoostMultiplier: 3.0, Active: false, StakedAt: base.Add(time.Hour)},
	} {
		if _, err := store.CreatePosition(context.Background(), pos); err != nil {
			t.Fatalf("create position: %v", err)
		}
	}
	svc := New(store, nil)

	res, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 1000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.BoostMultiplier != 1.25 {
		t.Fatalf("expected latest active boost 1.25, got %f", res.BoostMultiplier)
	}
}

func TestSubmitStepsSameDayAccumulates(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	svc := New(store, nil).WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 500}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	history, err := svc.History(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one daily record, got %d", len(history))
	}
	if history[0].StepsCount != 1000 {
		t.Fatalf("expected 1000 accumulated steps, got %d", history[0].StepsCount)
	}
	if history[0].TokensEarned != 1.0 {
		t.Fatalf("expected 1.0 accumulated tokens, got %f", history[0].TokensEarned)
	}
}

func TestSubmitStepsSeparateDays(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	now := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	svc := New(store, nil).WithClock(func() time.Time { return now })

	if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 700}); err != nil {
		t.Fatalf("submit day 1: %v", err)
	}
	now = now.Add(2 * time.Hour) // crosses midnight
	if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 300}); err != nil {
		t.Fatalf("submit day 2: %v", err)
	}

	history, err := svc.History(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two daily records, got %d", len(history))
	}
	if !history[0].Date.After(history[1].Date) {
		t.Fatalf("history should be newest first: %v, %v", history[0].Date, history[1].Date)
	}
	if history[0].StepsCount != 300 {
		t.Fatalf("expected newest record to hold 300 steps, got %d", history[0].StepsCount)
	}
}

func TestSubmitStepsZeroSteps(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	svc := New(store, nil)

	res, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TokensEarned != 0 || res.TokenBalance != 0 {
		t.Fatalf("zero steps should mint nothing: %+v", res)
	}
}

func TestSubmitStepsValidation(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	svc := New(store, nil)

	if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: "", StepsCount: 100}); !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("expected ErrInvalidSubmission for missing user, got %v", err)
	}
	if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: -5}); !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("expected ErrInvalidSubmission for negative steps, got %v", err)
	}
	if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: "missing", StepsCount: 100}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSubmitStepsLedgerMatchesBalance(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store)
	svc := New(store, nil)

	for _, steps := range []int64{1000, 2500, 333} {
		if _, err := svc.SubmitSteps(context.Background(), Submission{UserID: u.ID, StepsCount: steps}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	entries, err := store.ListEntries(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	current, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if diff := math.Abs(ledger.Sum(entries) - current.TokenBalance); diff > 1e-9 {
		t.Fatalf("ledger sum %f diverges from balance %f", ledger.Sum(entries), current.TokenBalance)
	}
}

package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	"github.com/spitak/steps-rewards/internal/app/storage"
)

func TestCreateUserDuplicatePhone(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{PhoneNumber: "+100", ReferralCode: "AAAA1111"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.CreateUser(ctx, user.User{PhoneNumber: "+100", ReferralCode: "BBBB2222"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAdjustBalancesRejectsNegative(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{PhoneNumber: "+101", ReferralCode: "CCCC3333", TokenBalance: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.AdjustBalances(ctx, u.ID, user.BalanceDelta{Tokens: -6}); !errors.Is(err, storage.ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}

	current, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.TokenBalance != 5 {
		t.Fatalf("balance must be unchanged, got %f", current.TokenBalance)
	}
}

func TestUpsertDailyRecordMerges(t *testing.T) {
	store := New()
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)

	first, err := store.UpsertDailyRecord(ctx, steps.DailyRecord{
		UserID: "u1", Date: day, StepsCount: 400, TokensEarned: 0.4, BoostMultiplier: 1.0,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := store.UpsertDailyRecord(ctx, steps.DailyRecord{
		UserID: "u1", Date: day.Add(3 * time.Hour), StepsCount: 600, TokensEarned: 0.9, BoostMultiplier: 1.5,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("same-day upsert must keep the row identity")
	}
	if second.StepsCount != 1000 || second.TokensEarned != 1.3 {
		t.Fatalf("unexpected merge result: %+v", second)
	}
	if second.BoostMultiplier != 1.5 {
		t.Fatalf("boost must follow the latest submission, got %f", second.BoostMultiplier)
	}
}

func TestDecrementQuantityStopsAtZero(t *testing.T) {
	store := New()
	ctx := context.Background()

	v, err := store.CreateVoucher(ctx, voucher.Voucher{BrandName: "X", Price: 1, RemainingQuantity: 1, Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.DecrementQuantity(ctx, v.ID); err != nil {
		t.Fatalf("first decrement: %v", err)
	}
	if err := store.DecrementQuantity(ctx, v.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows at zero stock, got %v", err)
	}
	if _, err := store.GetAvailableVoucher(ctx, v.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("exhausted voucher must be unavailable, got %v", err)
	}
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{PhoneNumber: "+102", ReferralCode: "DDDD4444", TokenBalance: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v, err := store.CreateVoucher(ctx, voucher.Voucher{BrandName: "Y", Price: 2, RemainingQuantity: 4, Active: true})
	if err != nil {
		t.Fatalf("create voucher: %v", err)
	}

	boom := errors.New("forced failure")
	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.AdjustBalances(ctx, u.ID, user.BalanceDelta{Tokens: -2}); err != nil {
			return err
		}
		if err := tx.DecrementQuantity(ctx, v.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected forced failure, got %v", err)
	}

	current, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if current.TokenBalance != 10 {
		t.Fatalf("balance must roll back, got %f", current.TokenBalance)
	}
	left, err := store.GetAvailableVoucher(ctx, v.ID)
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if left.RemainingQuantity != 4 {
		t.Fatalf("quantity must roll back, got %d", left.RemainingQuantity)
	}
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{PhoneNumber: "+103", ReferralCode: "EEEE5555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.AdjustBalances(ctx, u.ID, user.BalanceDelta{Tokens: 3})
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	current, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.TokenBalance != 3 {
		t.Fatalf("expected committed balance 3, got %f", current.TokenBalance)
	}
}

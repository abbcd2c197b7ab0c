package redemption

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/internal/app/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store, balance float64) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		PhoneNumber:  "+37491000002",
		ReferralCode: "BUYER001",
		TokenBalance: balance,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedVoucher(t *testing.T, store *memory.Store, price float64, quantity int64) voucher.Voucher {
	t.Helper()
	v, err := store.CreateVoucher(context.Background(), voucher.Voucher{
		BrandName:         "CoffeeHouse",
		Category:          "Еда",
		DiscountValue:     "20%",
		Price:             price,
		RemainingQuantity: quantity,
		Active:            true,
	})
	if err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	return v
}

func TestPurchaseVoucherDebitsFullPrice(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store, 10.0)
	v := seedVoucher(t, store, 10.0, 3)
	svc := New(store, nil)

	res, err := svc.PurchaseVoucher(context.Background(), u.ID, v.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.TokenBalance != 0 {
		t.Fatalf("expected zero balance after exact-price purchase, got %f", res.TokenBalance)
	}
	if res.Burned != 1.0 {
		t.Fatalf("expected burn of 1.0, got %f", res.Burned)
	}

	// Burn is informational: only the full price leaves the balance.
	entries, err := store.ListEntries(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != ledger.KindPurchase || entries[0].Amount != 10.0 {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}
	if entries[0].Metadata["burned_spitak"] != 1.0 {
		t.Fatalf("expected burned_spitak metadata 1.0, got %v", entries[0].Metadata["burned_spitak"])
	}

	left, err := store.GetAvailableVoucher(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if left.RemainingQuantity != 2 {
		t.Fatalf("expected quantity 2, got %d", left.RemainingQuantity)
	}
}

func TestPurchaseVoucherIssuesCodes(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store, 50.0)
	v := seedVoucher(t, store, 5.0, 1)
	svc := New(store, nil)

	res, err := svc.PurchaseVoucher(context.Background(), u.ID, v.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	code := res.Purchase.RedemptionCode
	if !regexp.MustCompile(`^[0-9A-F]{12}$`).MatchString(code) {
		t.Fatalf("redemption code %q is not 12 uppercase hex chars", code)
	}
	if res.Purchase.QRCode != voucher.QRPrefix+code {
		t.Fatalf("qr code %q does not wrap redemption code %q", res.Purchase.QRCode, code)
	}
	if res.Purchase.LedgerEntryID == "" {
		t.Fatalf("purchase should link its ledger entry")
	}

	stored, err := store.GetPurchase(context.Background(), res.Purchase.ID)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	if stored.RedemptionCode != code {
		t.Fatalf("stored purchase diverges: %+v", stored)
	}
}

func TestPurchaseVoucherInsufficientFunds(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store, 9.99)
	v := seedVoucher(t, store, 10.0, 1)
	svc := New(store, nil)

	_, err := svc.PurchaseVoucher(context.Background(), u.ID, v.ID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	current, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if current.TokenBalance != 9.99 {
		t.Fatalf("balance must be unchanged, got %f", current.TokenBalance)
	}
	left, err := store.GetAvailableVoucher(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if left.RemainingQuantity != 1 {
		t.Fatalf("inventory must be unchanged, got %d", left.RemainingQuantity)
	}
}

func TestPurchaseVoucherUnavailable(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store, 100)
	svc := New(store, nil)

	if _, err := svc.PurchaseVoucher(context.Background(), u.ID, "missing"); !errors.Is(err, ErrVoucherUnavailable) {
		t.Fatalf("expected ErrVoucherUnavailable for unknown voucher, got %v", err)
	}

	exhausted := seedVoucher(t, store, 1.0, 0)
	if _, err := svc.PurchaseVoucher(context.Background(), u.ID, exhausted.ID); !errors.Is(err, ErrVoucherUnavailable) {
		t.Fatalf("expected ErrVoucherUnavailable for exhausted voucher, got %v", err)
	}
}

func TestPurchaseVoucherConcurrentExhaustion(t *testing.T) {
	store := memory.New()
	v := seedVoucher(t, store, 1.0, 1)
	svc := New(store, nil)

	const buyers = 8
	ids := make([]string, buyers)
	for i := range ids {
		u, err := store.CreateUser(context.Background(), user.User{
			PhoneNumber:  "+3749100010" + string(rune('0'+i)),
			ReferralCode: "RACER00" + string(rune('0'+i)),
			TokenBalance: 10,
		})
		if err != nil {
			t.Fatalf("create user %d: %v", i, err)
		}
		ids[i] = u.ID
	}

	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for _, id := range ids {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.PurchaseVoucher(context.Background(), userID, v.ID)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var successes, unavailable int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrVoucherUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful purchase, got %d", successes)
	}
	if unavailable != buyers-1 {
		t.Fatalf("expected %d unavailable errors, got %d", buyers-1, unavailable)
	}
}

// failingStore forces the inventory decrement to fail mid-transaction so the
// rollback path can be observed.
type failingStore struct {
	*memory.Store
	decrementErr error
}

func (f *failingStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return f.Store.WithinTx(ctx, func(tx storage.Tx) error {
		return fn(&failingTx{Tx: tx, decrementErr: f.decrementErr})
	})
}

type failingTx struct {
	storage.Tx
	decrementErr error
}

func (f *failingTx) DecrementQuantity(ctx context.Context, id string) error {
	return f.decrementErr
}

func TestPurchaseVoucherRollsBackOnFailure(t *testing.T) {
	inner := memory.New()
	u := seedUser(t, inner, 25.0)
	v := seedVoucher(t, inner, 10.0, 5)

	boom := errors.New("storage blew up")
	svc := New(&failingStore{Store: inner, decrementErr: boom}, nil)

	_, err := svc.PurchaseVoucher(context.Background(), u.ID, v.ID)
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	current, err := inner.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if current.TokenBalance != 25.0 {
		t.Fatalf("balance must roll back to 25.0, got %f", current.TokenBalance)
	}
	entries, err := inner.ListEntries(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ledger must roll back, found %d entries", len(entries))
	}
	if _, err := inner.GetPurchase(context.Background(), "any"); err == nil {
		t.Fatalf("no purchase should exist")
	}
}

func TestListVouchersFiltersAndSorts(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)

	mk := func(brand, category string, price float64, active bool) {
		if _, err := store.CreateVoucher(context.Background(), voucher.Voucher{
			BrandName:         brand,
			Category:          category,
			Price:             price,
			RemainingQuantity: 5,
			Active:            active,
		}); err != nil {
			t.Fatalf("create voucher: %v", err)
		}
	}
	mk("Cinema", "Развлечения", 12, true)
	mk("Bakery", "Еда", 3, true)
	mk("Burger", "Еда", 7, true)
	mk("Hidden", "Еда", 1, false)

	all, err := svc.ListVouchers(context.Background(), "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 active vouchers, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Price > all[i].Price {
			t.Fatalf("expected ascending prices: %+v", all)
		}
	}

	food, err := svc.ListVouchers(context.Background(), "Еда")
	if err != nil {
		t.Fatalf("list food: %v", err)
	}
	if len(food) != 2 {
		t.Fatalf("expected 2 food vouchers, got %d", len(food))
	}
	for _, v := range food {
		if !strings.EqualFold(v.Category, "Еда") {
			t.Fatalf("unexpected category: %+v", v)
		}
	}
}

func TestBurnRateMath(t *testing.T) {
	store := memory.New()
	u := seedUser(t, store, 100)
	v := seedVoucher(t, store, 33.33, 1)
	svc := New(store, nil)

	res, err := svc.PurchaseVoucher(context.Background(), u.ID, v.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if diff := math.Abs(res.Burned - 3.333); diff > 1e-9 {
		t.Fatalf("expected burn 3.333, got %f", res.Burned)
	}
	if diff := math.Abs(res.TokenBalance - 66.67); diff > 1e-9 {
		t.Fatalf("expected balance 66.67, got %f", res.TokenBalance)
	}
}

// Package redemption handles the voucher catalogue and voucher purchases.
package redemption

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	"github.com/spitak/steps-rewards/internal/app/metrics"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/pkg/logger"
)

// BurnRate is the share of a voucher's price recorded as burned. The burn is
// informational: the full price is debited, and the burned portion is tracked
// in the ledger entry metadata only.
const BurnRate = 0.10

// codeBytes is the number of random bytes behind a redemption code. Hex
// encoding makes the code 12 characters.
const codeBytes = 6

var (
	// ErrUserNotFound reports an unknown user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrVoucherUnavailable reports a voucher that is missing, inactive or
	// out of stock.
	ErrVoucherUnavailable = errors.New("voucher unavailable")
	// ErrInsufficientFunds reports a token balance below the voucher price.
	ErrInsufficientFunds = errors.New("insufficient token balance")
	// ErrInvalidRequest reports a missing or malformed request field.
	ErrInvalidRequest = errors.New("invalid purchase request")
)

// PurchaseResult reports a completed voucher purchase.
type PurchaseResult struct {
	Purchase     voucher.Purchase
	Voucher      voucher.Voucher
	Burned       float64
	TokenBalance float64
}

// Service is the redemption engine.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a redemption service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("redemption")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock substitutes the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListVouchers returns active vouchers, cheapest first. An empty category or
// the catch-all label returns everything.
func (s *Service) ListVouchers(ctx context.Context, category string) ([]voucher.Voucher, error) {
	return s.store.ListVouchers(ctx, category)
}

// PurchaseVoucher debits the voucher price from the user's balance, reserves
// one unit of inventory and issues a redemption code. The ledger entry, the
// balance debit and the inventory decrement commit together or not at all.
func (s *Service) PurchaseVoucher(ctx context.Context, userID, voucherID string) (PurchaseResult, error) {
	if strings.TrimSpace(userID) == "" {
		return PurchaseResult{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(voucherID) == "" {
		return PurchaseResult{}, fmt.Errorf("%w: voucher_id is required", ErrInvalidRequest)
	}

	code, err := newRedemptionCode()
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("generate redemption code: %w", err)
	}

	var out PurchaseResult
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}

		v, err := tx.GetAvailableVoucher(ctx, voucherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrVoucherUnavailable
			}
			return err
		}

		if u.TokenBalance < v.Price {
			return ErrInsufficientFunds
		}

		burned := v.Price * BurnRate

		entry, err := tx.AppendEntry(ctx, ledger.Entry{
			UserID:      userID,
			Kind:        ledger.KindPurchase,
			Amount:      v.Price,
			Currency:    ledger.Currency,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Voucher purchase: %s", v.BrandName),
			Metadata: map[string]any{
				"voucher_id":    v.ID,
				"brand_name":    v.BrandName,
				"burned_spitak": burned,
			},
		})
		if err != nil {
			return err
		}

		updated, err := tx.AdjustBalances(ctx, userID, user.BalanceDelta{Tokens: -v.Price})
		if err != nil {
			if errors.Is(err, storage.ErrNegativeBalance) {
				return ErrInsufficientFunds
			}
			return err
		}

		if err := tx.DecrementQuantity(ctx, v.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrVoucherUnavailable
			}
			return err
		}

		p, err := tx.CreatePurchase(ctx, voucher.Purchase{
			UserID:         userID,
			VoucherID:      v.ID,
			LedgerEntryID:  entry.ID,
			RedemptionCode: code,
			QRCode:         voucher.QRPrefix + code,
			PurchasedAt:    s.now().UTC(),
		})
		if err != nil {
			return err
		}

		out = PurchaseResult{
			Purchase:     p,
			Voucher:      v,
			Burned:       burned,
			TokenBalance: updated.TokenBalance,
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	metrics.RecordPurchase(out.Voucher.Price)
	s.log.WithField("user_id", userID).
		WithField("voucher_id", voucherID).
		WithField("price", out.Voucher.Price).
		Info("voucher purchased")
	return out, nil
}

func newRedemptionCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

package storage

import (
	"context"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/referral"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
)

// UserStore persists user records. Missing rows surface as sql.ErrNoRows
// regardless of backend.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByPhone(ctx context.Context, phone string) (user.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (user.User, error)
	UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error)

	// AdjustBalances applies a relative delta server-side and returns the
	// updated user. Never expressed as read-modify-write in the caller.
	AdjustBalances(ctx context.Context, id string, delta user.BalanceDelta) (user.User, error)
}

// StepStore persists daily step aggregates.
type StepStore interface {
	// UpsertDailyRecord inserts the record for (user, date) or folds it into
	// the existing one via steps.Merge, returning the post-merge row.
	UpsertDailyRecord(ctx context.Context, rec steps.DailyRecord) (steps.DailyRecord, error)
	ListDailyRecords(ctx context.Context, userID string, limit int) ([]steps.DailyRecord, error)
}

// StakingStore reads staking positions. The rewards core never writes them.
type StakingStore interface {
	// ActivePosition returns the user's active position with the latest
	// stake time, or ok=false when none is active.
	ActivePosition(ctx context.Context, userID string) (pos staking.Position, ok bool, err error)
	CreatePosition(ctx context.Context, pos staking.Position) (staking.Position, error)
}

// VoucherStore persists the voucher catalog and purchase records.
type VoucherStore interface {
	CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error)
	// GetAvailableVoucher returns the voucher only while it is active with
	// stock remaining; inside a transaction the row is locked for update.
	// An inactive, exhausted or unknown voucher is indistinguishable.
	GetAvailableVoucher(ctx context.Context, id string) (voucher.Voucher, error)
	ListVouchers(ctx context.Context, category string) ([]voucher.Voucher, error)
	// DecrementQuantity conditionally decrements stock by one, failing with
	// sql.ErrNoRows when no unit remains. Never drives the count negative.
	DecrementQuantity(ctx context.Context, id string) error
	CreatePurchase(ctx context.Context, p voucher.Purchase) (voucher.Purchase, error)
	GetPurchase(ctx context.Context, id string) (voucher.Purchase, error)
}

// LedgerStore is append-only. Entries are never updated or deleted.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	ListEntries(ctx context.Context, userID string) ([]ledger.Entry, error)
}

// ReferralStore persists referral records.
type ReferralStore interface {
	CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error)
	ListReferrals(ctx context.Context, referrerID string) ([]referral.Referral, error)
}

// Tx is the transaction-scoped view of the store handed to engine callbacks.
type Tx interface {
	UserStore
	StepStore
	StakingStore
	VoucherStore
	LedgerStore
	ReferralStore
}

// Store is the full persistence surface. Methods invoked directly run in
// auto-commit mode; WithinTx runs fn inside one transaction and rolls every
// write back when fn returns an error.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

package memory

import (
	"context"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/referral"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
)

// Auto-commit wrappers: each call takes the store lock for its duration.

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createUser(u)
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getUser(id)
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getUserByPhone(phone)
}

func (s *Store) GetUserByReferralCode(_ context.Context, code string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getUserByReferralCode(code)
}

func (s *Store) UpdateProfile(_ context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateProfile(id, upd)
}

func (s *Store) AdjustBalances(_ context.Context, id string, delta user.BalanceDelta) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.adjustBalances(id, delta)
}

func (s *Store) UpsertDailyRecord(_ context.Context, rec steps.DailyRecord) (steps.DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.upsertDailyRecord(rec)
}

func (s *Store) ListDailyRecords(_ context.Context, userID string, limit int) ([]steps.DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listDailyRecords(userID, limit)
}

func (s *Store) ActivePosition(_ context.Context, userID string) (staking.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.activePosition(userID)
}

func (s *Store) CreatePosition(_ context.Context, pos staking.Position) (staking.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createPosition(pos)
}

func (s *Store) CreateVoucher(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createVoucher(v)
}

func (s *Store) GetAvailableVoucher(_ context.Context, id string) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getAvailableVoucher(id)
}

func (s *Store) ListVouchers(_ context.Context, category string) ([]voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listVouchers(category)
}

func (s *Store) DecrementQuantity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.decrementQuantity(id)
}

func (s *Store) CreatePurchase(_ context.Context, p voucher.Purchase) (voucher.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createPurchase(p)
}

func (s *Store) GetPurchase(_ context.Context, id string) (voucher.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getPurchase(id)
}

func (s *Store) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.appendEntry(e)
}

func (s *Store) ListEntries(_ context.Context, userID string) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listEntries(userID)
}

func (s *Store) CreateReferral(_ context.Context, r referral.Referral) (referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createReferral(r)
}

func (s *Store) ListReferrals(_ context.Context, referrerID string) ([]referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listReferrals(referrerID)
}

// Transaction-scoped wrappers: the store lock is already held by WithinTx.

func (t *txView) CreateUser(_ context.Context, u user.User) (user.User, error) {
	return t.st.createUser(u)
}

func (t *txView) GetUser(_ context.Context, id string) (user.User, error) {
	return t.st.getUser(id)
}

func (t *txView) GetUserByPhone(_ context.Context, phone string) (user.User, error) {
	return t.st.getUserByPhone(phone)
}

func (t *txView) GetUserByReferralCode(_ context.Context, code string) (user.User, error) {
	return t.st.getUserByReferralCode(code)
}

func (t *txView) UpdateProfile(_ context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	return t.st.updateProfile(id, upd)
}

func (t *txView) AdjustBalances(_ context.Context, id string, delta user.BalanceDelta) (user.User, error) {
	return t.st.adjustBalances(id, delta)
}

func (t *txView) UpsertDailyRecord(_ context.Context, rec steps.DailyRecord) (steps.DailyRecord, error) {
	return t.st.upsertDailyRecord(rec)
}

func (t *txView) ListDailyRecords(_ context.Context, userID string, limit int) ([]steps.DailyRecord, error) {
	return t.st.listDailyRecords(userID, limit)
}

func (t *txView) ActivePosition(_ context.Context, userID string) (staking.Position, bool, error) {
	return t.st.activePosition(userID)
}

func (t *txView) CreatePosition(_ context.Context, pos staking.Position) (staking.Position, error) {
	return t.st.createPosition(pos)
}

func (t *txView) CreateVoucher(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	return t.st.createVoucher(v)
}

func (t *txView) GetAvailableVoucher(_ context.Context, id string) (voucher.Voucher, error) {
	return t.st.getAvailableVoucher(id)
}

func (t *txView) ListVouchers(_ context.Context, category string) ([]voucher.Voucher, error) {
	return t.st.listVouchers(category)
}

func (t *txView) DecrementQuantity(_ context.Context, id string) error {
	return t.st.decrementQuantity(id)
}

func (t *txView) CreatePurchase(_ context.Context, p voucher.Purchase) (voucher.Purchase, error) {
	return t.st.createPurchase(p)
}

func (t *txView) GetPurchase(_ context.Context, id string) (voucher.Purchase, error) {
	return t.st.getPurchase(id)
}

func (t *txView) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	return t.st.appendEntry(e)
}

func (t *txView) ListEntries(_ context.Context, userID string) ([]ledger.Entry, error) {
	return t.st.listEntries(userID)
}

func (t *txView) CreateReferral(_ context.Context, r referral.Referral) (referral.Referral, error) {
	return t.st.createReferral(r)
}

func (t *txView) ListReferrals(_ context.Context, referrerID string) ([]referral.Referral, error) {
	return t.st.listReferrals(referrerID)
}

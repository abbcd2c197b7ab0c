// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/referral"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	"github.com/spitak/steps-rewards/internal/app/storage"
)

// Store keeps everything in maps behind one mutex. Transactions snapshot the
// state up front and restore it when the callback fails, which makes every
// WithinTx serializable and genuinely atomic.
type Store struct {
	mu sync.Mutex
	st state
}

var _ storage.Store = (*Store)(nil)

type state struct {
	users        map[string]user.User
	usersByPhone map[string]string
	usersByCode  map[string]string
	daily        map[string]steps.DailyRecord // userID + "|" + date
	positions    map[string][]staking.Position
	vouchers     map[string]voucher.Voucher
	purchases    map[string]voucher.Purchase
	entries      map[string][]ledger.Entry
	referrals    map[string][]referral.Referral
}

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func newState() state {
	return state{
		users:        make(map[string]user.User),
		usersByPhone: make(map[string]string),
		usersByCode:  make(map[string]string),
		daily:        make(map[string]steps.DailyRecord),
		positions:    make(map[string][]staking.Position),
		vouchers:     make(map[string]voucher.Voucher),
		purchases:    make(map[string]voucher.Purchase),
		entries:      make(map[string][]ledger.Entry),
		referrals:    make(map[string][]referral.Referral),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.usersByPhone {
		out.usersByPhone[k] = v
	}
	for k, v := range s.usersByCode {
		out.usersByCode[k] = v
	}
	for k, v := range s.daily {
		out.daily[k] = v
	}
	for k, v := range s.positions {
		out.positions[k] = append([]staking.Position(nil), v...)
	}
	for k, v := range s.vouchers {
		out.vouchers[k] = v
	}
	for k, v := range s.purchases {
		out.purchases[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = append([]ledger.Entry(nil), v...)
	}
	for k, v := range s.referrals {
		out.referrals[k] = append([]referral.Referral(nil), v...)
	}
	return out
}

// WithinTx runs fn while holding the store lock. On error the pre-transaction
// snapshot is restored, so no partial mutation survives.
func (s *Store) WithinTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// txView exposes the live state to a transaction callback. The store lock is
// held for the whole callback, so no further locking happens here.
type txView struct {
	st *state
}

var _ storage.Tx = (*txView)(nil)

func dailyKey(userID string, date time.Time) string {
	return userID + "|" + steps.DateOf(date).Format("2006-01-02")
}

// --- UserStore ---------------------------------------------------------------

func (s *state) createUser(u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := s.usersByPhone[u.PhoneNumber]; exists {
		return user.User{}, storage.ErrDuplicate
	}
	if u.ReferralCode != "" {
		if _, exists := s.usersByCode[u.ReferralCode]; exists {
			return user.User{}, storage.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByPhone[u.PhoneNumber] = u.ID
	if u.ReferralCode != "" {
		s.usersByCode[u.ReferralCode] = u.ID
	}
	return u, nil
}

func (s *state) getUser(id string) (user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return user.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *state) getUserByPhone(phone string) (user.User, error) {
	id, ok := s.usersByPhone[phone]
	if !ok {
		return user.User{}, sql.ErrNoRows
	}
	return s.users[id], nil
}

func (s *state) getUserByReferralCode(code string) (user.User, error) {
	id, ok := s.usersByCode[code]
	if !ok {
		return user.User{}, sql.ErrNoRows
	}
	return s.users[id], nil
}

func (s *state) updateProfile(id string, upd user.ProfileUpdate) (user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return user.User{}, sql.ErrNoRows
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.District != nil {
		u.District = *upd.District
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = *upd.AvatarURL
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *state) adjustBalances(id string, delta user.BalanceDelta) (user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return user.User{}, sql.ErrNoRows
	}
	if u.TokenBalance+delta.Tokens < 0 {
		return user.User{}, storage.ErrNegativeBalance
	}
	u.TokenBalance += delta.Tokens
	u.StepBalance += delta.Steps
	u.LifetimeEarned += delta.Lifetime
	if !delta.LastActivityDate.IsZero() {
		u.LastActivityDate = steps.DateOf(delta.LastActivityDate)
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

// --- StepStore ---------------------------------------------------------------

func (s *state) upsertDailyRecord(rec steps.DailyRecord) (steps.DailyRecord, error) {
	rec.Date = steps.DateOf(rec.Date)
	key := dailyKey(rec.UserID, rec.Date)
	now := time.Now().UTC()

	if existing, ok := s.daily[key]; ok {
		merged := steps.Merge(existing, rec)
		merged.UpdatedAt = now
		s.daily[key] = merged
		return merged, nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.daily[key] = rec
	return rec, nil
}

func (s *state) listDailyRecords(userID string, limit int) ([]steps.DailyRecord, error) {
	var out []steps.DailyRecord
	for _, rec := range s.daily {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- StakingStore ------------------------------------------------------------

func (s *state) activePosition(userID string) (staking.Position, bool, error) {
	var best staking.Position
	found := false
	for _, pos := range s.positions[userID] {
		if !pos.Active {
			continue
		}
		if !found || pos.StakedAt.After(best.StakedAt) {
			best = pos
			found = true
		}
	}
	return best, found, nil
}

func (s *state) createPosition(pos staking.Position) (staking.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	s.positions[pos.UserID] = append(s.positions[pos.UserID], pos)
	return pos, nil
}

// --- VoucherStore ------------------------------------------------------------

func (s *state) createVoucher(v voucher.Voucher) (voucher.Voucher, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	s.vouchers[v.ID] = v
	return v, nil
}

func (s *state) getAvailableVoucher(id string) (voucher.Voucher, error) {
	v, ok := s.vouchers[id]
	if !ok || !v.Active || v.RemainingQuantity <= 0 {
		return voucher.Voucher{}, sql.ErrNoRows
	}
	return v, nil
}

func (s *state) listVouchers(category string) ([]voucher.Voucher, error) {
	var out []voucher.Voucher
	for _, v := range s.vouchers {
		if !v.Active {
			continue
		}
		if category != "" && !strings.EqualFold(v.Category, category) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (s *state) decrementQuantity(id string) error {
	v, ok := s.vouchers[id]
	if !ok || v.RemainingQuantity <= 0 {
		return sql.ErrNoRows
	}
	v.RemainingQuantity--
	v.UpdatedAt = time.Now().UTC()
	s.vouchers[id] = v
	return nil
}

func (s *state) createPurchase(p voucher.Purchase) (voucher.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = time.Now().UTC()
	}
	s.purchases[p.ID] = p
	return p, nil
}

func (s *state) getPurchase(id string) (voucher.Purchase, error) {
	p, ok := s.purchases[id]
	if !ok {
		return voucher.Purchase{}, sql.ErrNoRows
	}
	return p, nil
}

// --- LedgerStore -------------------------------------------------------------

func (s *state) appendEntry(e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = ledger.Currency
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries[e.UserID] = append(s.entries[e.UserID], e)
	return e, nil
}

func (s *state) listEntries(userID string) ([]ledger.Entry, error) {
	return append([]ledger.Entry(nil), s.entries[userID]...), nil
}

// --- ReferralStore -----------------------------------------------------------

func (s *state) createReferral(r referral.Referral) (referral.Referral, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.referrals[r.ReferrerID] = append(s.referrals[r.ReferrerID], r)
	return r, nil
}

func (s *state) listReferrals(referrerID string) ([]referral.Referral, error) {
	return append([]referral.Referral(nil), s.referrals[referrerID]...), nil
}

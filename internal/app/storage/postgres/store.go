// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// Balance and inventory mutations are expressed as relative deltas applied
// server-side (balance = balance + delta) and conditional updates, never as
// read-modify-write in application code. Voucher rows are locked FOR UPDATE
// inside purchase transactions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/referral"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	"github.com/spitak/steps-rewards/internal/app/storage"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements storage.Tx over either *sql.DB or *sql.Tx.
type queries struct {
	q    queryer
	inTx bool
}

var _ storage.Tx = (*queries)(nil)

// Store implements storage.Store using the provided database handle.
type Store struct {
	db *sql.DB
	queries
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, queries: queries{q: db}}
}

// WithinTx runs fn inside one database transaction. Any error from fn rolls
// the whole transaction back before being returned.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapError translates driver-level constraint violations into storage
// sentinels so callers never depend on pq error codes.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return storage.ErrDuplicate
		case "23514":
			return storage.ErrNegativeBalance
		}
	}
	return err
}

// --- UserStore ---------------------------------------------------------------

const userColumns = `id, phone_number, full_name, username, district, avatar_url,
	referral_code, referred_by, balance_spitak, balance_steps, total_earned,
	streak_days, last_activity_date, created_at, updated_at`

func (s *queries) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, phone_number, full_name, username, district, avatar_url,
			referral_code, referred_by, balance_spitak, balance_steps, total_earned,
			streak_days, last_activity_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, u.ID, u.PhoneNumber, toNullString(u.FullName), toNullString(u.Username),
		toNullString(u.District), toNullString(u.AvatarURL), u.ReferralCode,
		toNullString(u.ReferredBy), u.TokenBalance, u.StepBalance, u.LifetimeEarned,
		u.StreakDays, toNullTime(u.LastActivityDate), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *queries) GetUser(ctx context.Context, id string) (user.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

func (s *queries) GetUserByPhone(ctx context.Context, phone string) (user.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone_number = $1
	`, phone))
}

func (s *queries) GetUserByReferralCode(ctx context.Context, code string) (user.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE referral_code = $1
	`, code))
}

func (s *queries) UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
			username = COALESCE($3, username),
			district = COALESCE($4, district),
			avatar_url = COALESCE($5, avatar_url),
			updated_at = $6
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, ptrToNullString(upd.FullName), ptrToNullString(upd.Username),
		ptrToNullString(upd.District), ptrToNullString(upd.AvatarURL), time.Now().UTC()))
}

func (s *queries) AdjustBalances(ctx context.Context, id string, delta user.BalanceDelta) (user.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users
		SET balance_spitak = balance_spitak + $2,
			total_earned = total_earned + $3,
			balance_steps = balance_steps + $4,
			last_activity_date = COALESCE($5, last_activity_date),
			updated_at = $6
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, delta.Tokens, delta.Lifetime, delta.Steps,
		toNullTime(delta.LastActivityDate), time.Now().UTC()))
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (user.User, error) {
	var (
		u            user.User
		fullName     sql.NullString
		username     sql.NullString
		district     sql.NullString
		avatarURL    sql.NullString
		referredBy   sql.NullString
		lastActivity sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.PhoneNumber, &fullName, &username, &district,
		&avatarURL, &u.ReferralCode, &referredBy, &u.TokenBalance, &u.StepBalance,
		&u.LifetimeEarned, &u.StreakDays, &lastActivity, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	u.FullName = fullName.String
	u.Username = username.String
	u.District = district.String
	u.AvatarURL = avatarURL.String
	u.ReferredBy = referredBy.String
	if lastActivity.Valid {
		u.LastActivityDate = lastActivity.Time.UTC()
	}
	return u, nil
}

// --- StepStore ---------------------------------------------------------------

const dailyColumns = `id, user_id, date, steps_count, distance_km, calories_burned,
	active_minutes, spitak_earned, boost_multiplier, created_at, updated_at`

func (s *queries) UpsertDailyRecord(ctx context.Context, rec steps.DailyRecord) (steps.DailyRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.Date = steps.DateOf(rec.Date)

	row := s.q.QueryRowContext(ctx, `
		INSERT INTO daily_steps (id, user_id, date, steps_count, distance_km,
			calories_burned, active_minutes, spitak_earned, boost_multiplier,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, date) DO UPDATE SET
			steps_count = daily_steps.steps_count + EXCLUDED.steps_count,
			distance_km = daily_steps.distance_km + EXCLUDED.distance_km,
			calories_burned = daily_steps.calories_burned + EXCLUDED.calories_burned,
			active_minutes = daily_steps.active_minutes + EXCLUDED.active_minutes,
			spitak_earned = daily_steps.spitak_earned + EXCLUDED.spitak_earned,
			boost_multiplier = EXCLUDED.boost_multiplier,
			updated_at = EXCLUDED.updated_at
		RETURNING `+dailyColumns+`
	`, rec.ID, rec.UserID, rec.Date, rec.StepsCount, rec.DistanceKM,
		rec.CaloriesBurned, rec.ActiveMinutes, rec.TokensEarned, rec.BoostMultiplier,
		now, now)

	return scanDailyRecord(row)
}

func (s *queries) ListDailyRecords(ctx context.Context, userID string, limit int) ([]steps.DailyRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_steps
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []steps.DailyRecord
	for rows.Next() {
		var rec steps.DailyRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.StepsCount,
			&rec.DistanceKM, &rec.CaloriesBurned, &rec.ActiveMinutes,
			&rec.TokensEarned, &rec.BoostMultiplier, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Date = rec.Date.UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanDailyRecord(row *sql.Row) (steps.DailyRecord, error) {
	var rec steps.DailyRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.StepsCount,
		&rec.DistanceKM, &rec.CaloriesBurned, &rec.ActiveMinutes,
		&rec.TokensEarned, &rec.BoostMultiplier, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return steps.DailyRecord{}, err
	}
	rec.Date = rec.Date.UTC()
	return rec, nil
}

// --- StakingStore ------------------------------------------------------------

func (s *queries) ActivePosition(ctx context.Context, userID string) (staking.Position, bool, error) {
	var pos staking.Position
	err := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, boost_multiplier, is_active, staked_at
		FROM staking
		WHERE user_id = $1 AND is_active = true
		ORDER BY staked_at DESC
		LIMIT 1
	`, userID).Scan(&pos.ID, &pos.UserID, &pos.BoostMultiplier, &pos.Active, &pos.StakedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return staking.Position{}, false, nil
	}
	if err != nil {
		return staking.Position{}, false, err
	}
	return pos, true, nil
}

func (s *queries) CreatePosition(ctx context.Context, pos staking.Position) (staking.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.StakedAt.IsZero() {
		pos.StakedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO staking (id, user_id, boost_multiplier, is_active, staked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, pos.ID, pos.UserID, pos.BoostMultiplier, pos.Active, pos.StakedAt)
	if err != nil {
		return staking.Position{}, err
	}
	return pos, nil
}

// --- VoucherStore ------------------------------------------------------------

const voucherColumns = `id, brand_name, description, category, discount_value,
	price_spitak, remaining_quantity, is_active, valid_until, created_at, updated_at`

func (s *queries) CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vouchers (id, brand_name, description, category, discount_value,
			price_spitak, remaining_quantity, is_active, valid_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.ID, v.BrandName, toNullString(v.Description), v.Category, v.DiscountValue,
		v.Price, v.RemainingQuantity, v.Active, toNullTime(v.ValidUntil),
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return voucher.Voucher{}, err
	}
	return v, nil
}

func (s *queries) GetAvailableVoucher(ctx context.Context, id string) (voucher.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE id = $1 AND is_active = true AND remaining_quantity > 0`
	if s.inTx {
		query += `
		FOR UPDATE`
	}
	return scanVoucher(s.q.QueryRowContext(ctx, query, id))
}

func (s *queries) ListVouchers(ctx context.Context, category string) ([]voucher.Voucher, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE is_active = true AND ($1 = '' OR category = $1)
		ORDER BY price_spitak ASC
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []voucher.Voucher
	for rows.Next() {
		var (
			v           voucher.Voucher
			description sql.NullString
			validUntil  sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.BrandName, &description, &v.Category,
			&v.DiscountValue, &v.Price, &v.RemainingQuantity, &v.Active,
			&validUntil, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Description = description.String
		if validUntil.Valid {
			v.ValidUntil = validUntil.Time.UTC()
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *queries) DecrementQuantity(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE vouchers
		SET remaining_quantity = remaining_quantity - 1, updated_at = $2
		WHERE id = $1 AND remaining_quantity > 0
	`, id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *queries) CreatePurchase(ctx context.Context, p voucher.Purchase) (voucher.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO voucher_purchases (id, user_id, voucher_id, transaction_id,
			qr_code, redemption_code, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.UserID, p.VoucherID, p.LedgerEntryID, p.QRCode, p.RedemptionCode, p.PurchasedAt)
	if err != nil {
		return voucher.Purchase{}, mapError(err)
	}
	return p, nil
}

func (s *queries) GetPurchase(ctx context.Context, id string) (voucher.Purchase, error) {
	var p voucher.Purchase
	err := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, voucher_id, transaction_id, qr_code, redemption_code, purchased_at
		FROM voucher_purchases
		WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.VoucherID, &p.LedgerEntryID, &p.QRCode,
		&p.RedemptionCode, &p.PurchasedAt)
	if err != nil {
		return voucher.Purchase{}, err
	}
	return p, nil
}

func scanVoucher(row *sql.Row) (voucher.Voucher, error) {
	var (
		v           voucher.Voucher
		description sql.NullString
		validUntil  sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.BrandName, &description, &v.Category,
		&v.DiscountValue, &v.Price, &v.RemainingQuantity, &v.Active,
		&validUntil, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return voucher.Voucher{}, err
	}
	v.Description = description.String
	if validUntil.Valid {
		v.ValidUntil = validUntil.Time.UTC()
	}
	return v, nil
}

// --- LedgerStore -------------------------------------------------------------

func (s *queries) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = ledger.Currency
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return ledger.Entry{}, err
		}
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, currency, status,
			description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, string(e.Kind), e.Amount, e.Currency, string(e.Status),
		e.Description, metadataJSON, e.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *queries) ListEntries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, type, amount, currency, status, description, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Entry
	for rows.Next() {
		var (
			e           ledger.Entry
			kind        string
			status      string
			metadataRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.Currency,
			&status, &e.Description, &metadataRaw, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		e.Status = ledger.Status(status)
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &e.Metadata)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- ReferralStore -----------------------------------------------------------

func (s *queries) CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_user_id, bonus_spitak, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.ReferrerID, r.ReferredUserID, r.Bonus, r.CreatedAt)
	if err != nil {
		return referral.Referral{}, mapError(err)
	}
	return r, nil
}

func (s *queries) ListReferrals(ctx context.Context, referrerID string) ([]referral.Referral, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, referrer_id, referred_user_id, bonus_spitak, created_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []referral.Referral
	for rows.Next() {
		var r referral.Referral
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredUserID, &r.Bonus, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- helpers -----------------------------------------------------------------

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

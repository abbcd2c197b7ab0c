// Package users handles registration, profiles and referral crediting.
package users

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/referral"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/metrics"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/pkg/logger"
)

// codeAlphabet excludes ambiguous characters so codes survive being read
// aloud or retyped.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	// ErrUserNotFound reports an unknown user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrPhoneInUse reports a registration with an already registered phone.
	ErrPhoneInUse = errors.New("phone number already registered")
	// ErrInvalidRequest reports a missing or malformed request field.
	ErrInvalidRequest = errors.New("invalid user request")
)

// Registration is a decoded registration request. ReferredByCode is the
// referrer's code as typed by the new user; an unknown code is ignored.
type Registration struct {
	PhoneNumber    string
	FullName       string
	Username       string
	District       string
	AvatarURL      string
	ReferredByCode string
}

// Service manages user accounts.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a users service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock substitutes the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new user with a fresh referral code. When the request
// names a known referral code, the referrer is credited the fixed bonus, a
// referral record is written and a bonus ledger entry is appended, all in the
// same transaction as the user row. An unknown code never fails registration.
func (s *Service) Register(ctx context.Context, in Registration) (user.User, error) {
	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		return user.User{}, fmt.Errorf("%w: phone_number is required", ErrInvalidRequest)
	}

	code, err := newReferralCode()
	if err != nil {
		return user.User{}, fmt.Errorf("generate referral code: %w", err)
	}

	var (
		created  user.User
		credited bool
	)
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUserByPhone(ctx, phone); err == nil {
			return ErrPhoneInUse
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var referrer *user.User
		if wanted := strings.TrimSpace(in.ReferredByCode); wanted != "" {
			if r, err := tx.GetUserByReferralCode(ctx, strings.ToUpper(wanted)); err == nil {
				referrer = &r
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		u := user.User{
			ID:           uuid.NewString(),
			PhoneNumber:  phone,
			FullName:     strings.TrimSpace(in.FullName),
			Username:     strings.TrimSpace(in.Username),
			District:     strings.TrimSpace(in.District),
			AvatarURL:    strings.TrimSpace(in.AvatarURL),
			ReferralCode: code,
		}
		if referrer != nil {
			u.ReferredBy = referrer.ID
		}

		created, err = tx.CreateUser(ctx, u)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return ErrPhoneInUse
			}
			return err
		}

		if referrer == nil {
			return nil
		}

		if _, err := tx.AdjustBalances(ctx, referrer.ID, user.BalanceDelta{
			Tokens:   referral.BonusAmount,
			Lifetime: referral.BonusAmount,
		}); err != nil {
			return err
		}
		if _, err := tx.CreateReferral(ctx, referral.Referral{
			ReferrerID:     referrer.ID,
			ReferredUserID: created.ID,
			Bonus:          referral.BonusAmount,
			CreatedAt:      s.now().UTC(),
		}); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, ledger.Entry{
			UserID:      referrer.ID,
			Kind:        ledger.KindReferralBonus,
			Amount:      referral.BonusAmount,
			Currency:    ledger.Currency,
			Status:      ledger.StatusCompleted,
			Description: "Referral bonus",
			Metadata:    map[string]any{"referred_user_id": created.ID},
		}); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return user.User{}, err
	}

	if credited {
		metrics.RecordReferralBonus()
	}
	s.log.WithField("user_id", created.ID).
		WithField("referred", credited).
		Info("user registered")
	return created, nil
}

// Get returns the user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	if strings.TrimSpace(id) == "" {
		return user.User{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

// UpdateProfile applies the provided profile fields and returns the updated
// user. An empty update is rejected.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	if strings.TrimSpace(id) == "" {
		return user.User{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if upd.Empty() {
		return user.User{}, fmt.Errorf("%w: no profile fields provided", ErrInvalidRequest)
	}
	u, err := s.store.UpdateProfile(ctx, id, upd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func newReferralCode() (string, error) {
	buf := make([]byte, referral.CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

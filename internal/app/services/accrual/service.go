// Package accrual converts step submissions into token mints.
package accrual

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spitak/steps-rewards/internal/app/domain/ledger"
	"github.com/spitak/steps-rewards/internal/app/domain/staking"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/metrics"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/pkg/logger"
)

// StepsPerToken is the conversion rate: 1000 steps mint one token before the
// boost multiplier.
const StepsPerToken = 1000.0

// HistoryLimit caps the step history to the most recent 30 days.
const HistoryLimit = 30

var (
	// ErrUserNotFound reports an unknown user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidSubmission reports a missing or malformed submission field.
	ErrInvalidSubmission = errors.New("invalid step submission")
)

// Submission is one decoded step-tracking request.
type Submission struct {
	UserID         string
	StepsCount     int64
	DistanceKM     float64
	CaloriesBurned int64
	ActiveMinutes  int64
}

// Result reports the outcome of a submission.
type Result struct {
	StepsAdded        int64
	TokensEarned      float64
	TokensEarnedToday float64
	TokenBalance      float64
	StepBalance       int64
	BoostMultiplier   float64
}

// Service is the accrual engine.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs an accrual service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accrual")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock substitutes the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SubmitSteps records a step submission, folds it into today's daily record,
// credits the earned tokens and appends a mint ledger entry. Everything runs
// in one store transaction; a failure at any point leaves no trace.
//
// Submissions are additive, not idempotent: replaying one double-counts.
// At-most-once delivery is the caller's responsibility.
func (s *Service) SubmitSteps(ctx context.Context, in Submission) (Result, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Result{}, fmt.Errorf("%w: user_id is required", ErrInvalidSubmission)
	}
	if in.StepsCount < 0 || in.DistanceKM < 0 || in.CaloriesBurned < 0 || in.ActiveMinutes < 0 {
		return Result{}, fmt.Errorf("%w: counters must be non-negative", ErrInvalidSubmission)
	}

	today := steps.DateOf(s.now())

	var out Result
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUser(ctx, in.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}

		boost := staking.DefaultBoost
		if pos, ok, err := tx.ActivePosition(ctx, in.UserID); err != nil {
			return err
		} else if ok {
			boost = pos.BoostMultiplier
		}

		earned := float64(in.StepsCount) / StepsPerToken * boost

		rec, err := tx.UpsertDailyRecord(ctx, steps.DailyRecord{
			UserID:          in.UserID,
			Date:            today,
			StepsCount:      in.StepsCount,
			DistanceKM:      in.DistanceKM,
			CaloriesBurned:  in.CaloriesBurned,
			ActiveMinutes:   in.ActiveMinutes,
			TokensEarned:    earned,
			BoostMultiplier: boost,
		})
		if err != nil {
			return err
		}

		updated, err := tx.AdjustBalances(ctx, in.UserID, user.BalanceDelta{
			Tokens:           earned,
			Steps:            in.StepsCount,
			Lifetime:         earned,
			LastActivityDate: today,
		})
		if err != nil {
			return err
		}

		if _, err := tx.AppendEntry(ctx, ledger.Entry{
			UserID:      in.UserID,
			Kind:        ledger.KindMint,
			Amount:      earned,
			Currency:    ledger.Currency,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Earned for %d steps", in.StepsCount),
		}); err != nil {
			return err
		}

		out = Result{
			StepsAdded:        in.StepsCount,
			TokensEarned:      earned,
			TokensEarnedToday: rec.TokensEarned,
			TokenBalance:      updated.TokenBalance,
			StepBalance:       updated.StepBalance,
			BoostMultiplier:   boost,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordAccrual(out.StepsAdded, out.TokensEarned)
	s.log.WithField("user_id", in.UserID).
		WithField("steps", in.StepsCount).
		WithField("tokens", out.TokensEarned).
		Info("steps accrued")
	return out, nil
}

// History returns the user's most recent daily records, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]steps.DailyRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidSubmission)
	}
	return s.store.ListDailyRecords(ctx, userID, HistoryLimit)
}

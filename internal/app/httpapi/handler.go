// Package httpapi exposes the rewards application over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	app "github.com/spitak/steps-rewards/internal/app"
	"github.com/spitak/steps-rewards/internal/app/domain/steps"
	"github.com/spitak/steps-rewards/internal/app/domain/user"
	"github.com/spitak/steps-rewards/internal/app/domain/voucher"
	accrualsvc "github.com/spitak/steps-rewards/internal/app/services/accrual"
	redemptionsvc "github.com/spitak/steps-rewards/internal/app/services/redemption"
	userssvc "github.com/spitak/steps-rewards/internal/app/services/users"
	"github.com/spitak/steps-rewards/pkg/logger"
)

// errMethodNotAllowed keeps 405 responses on the same JSON error shape as
// every other failure.
var errMethodNotAllowed = errors.New("method not allowed")

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a mux exposing the rewards REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application, log: application.Logger().WithField("component", "httpapi")}
	mux := http.NewServeMux()
	mux.HandleFunc("/users", h.users)
	mux.HandleFunc("/steps", h.steps)
	mux.HandleFunc("/vouchers", h.vouchers)
	mux.HandleFunc("/vouchers/purchase", h.purchase)
	mux.HandleFunc("/healthz", h.healthz)
	return mux
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			PhoneNumber  string `json:"phone_number"`
			FullName     string `json:"full_name"`
			Username     string `json:"username"`
			District     string `json:"district"`
			AvatarURL    string `json:"avatar_url"`
			ReferralCode string `json:"referral_code"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		u, err := h.app.Users.Register(r.Context(), userssvc.Registration{
			PhoneNumber:    payload.PhoneNumber,
			FullName:       payload.FullName,
			Username:       payload.Username,
			District:       payload.District,
			AvatarURL:      payload.AvatarURL,
			ReferredByCode: payload.ReferralCode,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, userPayload(u))

	case http.MethodGet:
		u, err := h.app.Users.Get(r.Context(), r.URL.Query().Get("user_id"))
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(u))

	case http.MethodPut:
		var payload struct {
			UserID    string  `json:"user_id"`
			FullName  *string `json:"full_name"`
			Username  *string `json:"username"`
			District  *string `json:"district"`
			AvatarURL *string `json:"avatar_url"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		u, err := h.app.Users.UpdateProfile(r.Context(), payload.UserID, user.ProfileUpdate{
			FullName:  payload.FullName,
			Username:  payload.Username,
			District:  payload.District,
			AvatarURL: payload.AvatarURL,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(u))

	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	}
}

func (h *handler) steps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			UserID         string  `json:"user_id"`
			StepsCount     int64   `json:"steps_count"`
			DistanceKM     float64 `json:"distance_km"`
			CaloriesBurned int64   `json:"calories_burned"`
			ActiveMinutes  int64   `json:"active_minutes"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		res, err := h.app.Accrual.SubmitSteps(r.Context(), accrualsvc.Submission{
			UserID:         payload.UserID,
			StepsCount:     payload.StepsCount,
			DistanceKM:     payload.DistanceKM,
			CaloriesBurned: payload.CaloriesBurned,
			ActiveMinutes:  payload.ActiveMinutes,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			StepsAdded       int64   `json:"steps_added"`
			SpitakEarned     float64 `json:"spitak_earned"`
			TotalSpitakToday float64 `json:"total_spitak_today"`
			BalanceSpitak    float64 `json:"balance_spitak"`
			BalanceSteps     int64   `json:"balance_steps"`
			BoostMultiplier  float64 `json:"boost_multiplier"`
		}{
			StepsAdded:       res.StepsAdded,
			SpitakEarned:     round2(res.TokensEarned),
			TotalSpitakToday: round2(res.TokensEarnedToday),
			BalanceSpitak:    round2(res.TokenBalance),
			BalanceSteps:     res.StepBalance,
			BoostMultiplier:  res.BoostMultiplier,
		})

	case http.MethodGet:
		history, err := h.app.Accrual.History(r.Context(), r.URL.Query().Get("user_id"))
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		out := make([]map[string]any, 0, len(history))
		for _, rec := range history {
			out = append(out, dailyPayload(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": out})

	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	}
}

func (h *handler) vouchers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	category := r.URL.Query().Get("category")
	if category == "Все" { // catch-all label used by the mobile client
		category = ""
	}

	vouchers, err := h.app.Redemption.ListVouchers(r.Context(), category)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(vouchers))
	for _, v := range vouchers {
		out = append(out, voucherPayload(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"vouchers": out})
}

func (h *handler) purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}

	var payload struct {
		UserID    string `json:"user_id"`
		VoucherID string `json:"voucher_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.app.Redemption.PurchaseVoucher(r.Context(), payload.UserID, payload.VoucherID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		PurchaseID     string         `json:"purchase_id"`
		QRCode         string         `json:"qr_code"`
		RedemptionCode string         `json:"redemption_code"`
		BurnedSpitak   float64        `json:"burned_spitak"`
		NewBalance     float64        `json:"new_balance"`
		Voucher        map[string]any `json:"voucher"`
	}{
		PurchaseID:     res.Purchase.ID,
		QRCode:         res.Purchase.QRCode,
		RedemptionCode: res.Purchase.RedemptionCode,
		BurnedSpitak:   round2(res.Burned),
		NewBalance:     round2(res.TokenBalance),
		Voucher: map[string]any{
			"brand":    res.Voucher.BrandName,
			"discount": res.Voucher.DiscountValue,
		},
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service sentinels to status codes. Unrecognised
// errors are logged and reported with a generic message so internals never
// leak to clients.
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, userssvc.ErrInvalidRequest),
		errors.Is(err, accrualsvc.ErrInvalidSubmission),
		errors.Is(err, redemptionsvc.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, userssvc.ErrUserNotFound),
		errors.Is(err, accrualsvc.ErrUserNotFound),
		errors.Is(err, redemptionsvc.ErrUserNotFound),
		errors.Is(err, redemptionsvc.ErrVoucherUnavailable):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, redemptionsvc.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, userssvc.ErrPhoneInUse):
		writeError(w, http.StatusConflict, err)
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func userPayload(u user.User) map[string]any {
	return map[string]any{
		"user_id":            u.ID,
		"phone_number":       u.PhoneNumber,
		"full_name":          u.FullName,
		"username":           u.Username,
		"district":           u.District,
		"avatar_url":         u.AvatarURL,
		"referral_code":      u.ReferralCode,
		"referred_by":        u.ReferredBy,
		"balance_spitak":     round2(u.TokenBalance),
		"balance_steps":      u.StepBalance,
		"lifetime_earned":    round2(u.LifetimeEarned),
		"streak_days":        u.StreakDays,
		"last_activity_date": dateString(u.LastActivityDate),
		"created_at":         u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func dailyPayload(rec steps.DailyRecord) map[string]any {
	return map[string]any{
		"date":             dateString(rec.Date),
		"steps_count":      rec.StepsCount,
		"distance_km":      rec.DistanceKM,
		"calories_burned":  rec.CaloriesBurned,
		"active_minutes":   rec.ActiveMinutes,
		"spitak_earned":    round2(rec.TokensEarned),
		"boost_multiplier": rec.BoostMultiplier,
	}
}

func voucherPayload(v voucher.Voucher) map[string]any {
	return map[string]any{
		"voucher_id":         v.ID,
		"brand_name":         v.BrandName,
		"description":        v.Description,
		"category":           v.Category,
		"discount_value":     v.DiscountValue,
		"price":              round2(v.Price),
		"remaining_quantity": v.RemainingQuantity,
		"valid_until":        dateString(v.ValidUntil),
	}
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

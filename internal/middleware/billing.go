package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/telemetry"
	"github.com/wrenchly/wrenchly/internal/tenant"
)

// billingLockedResponse is the 402 body returned to locked accounts. It
// carries enough state for the client to render the lock screen without a
// second request.
type billingLockedResponse struct {
	Code             string     `json:"code"`
	Message          string     `json:"message"`
	BillingStatus    string     `json:"billingStatus"`
	LockedContext    string     `json:"lockedContext"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	GraceEndsAt      *time.Time `json:"graceEndsAt,omitempty"`
	TrialEndsAt      *time.Time `json:"trialEndsAt,omitempty"`
}

// RequireActiveBilling gates tenant routes on the derived access state.
//
// The check reads the account and derives access per request; there is no
// cached verdict to go stale when a webhook flips the account's state.
// Billing routes themselves must stay outside this gate or a locked shop
// could never pay its way back in.
func RequireActiveBilling(lifecycle service.LifecycleService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := tenant.FromContext(r.Context())
			if t == nil {
				respondNotFound(w, r)
				return
			}

			account, access, err := lifecycle.GetAccountStatus(r.Context(), t.ID)
			if err != nil {
				logger.Error("billing gate lookup failed", "tenant", t.Slug, "error", err)
				telemetry.CaptureErrorWithTenant(err, t.Slug, map[string]interface{}{
					"path": r.URL.Path,
				})
				respondInternalError(w, r, err)
				return
			}

			if !access.Locked {
				next.ServeHTTP(w, r)
				return
			}

			if telemetry.Business != nil {
				telemetry.Business.BillingLockouts.WithLabelValues(t.Slug, access.LockedContext).Inc()
			}

			resp := billingLockedResponse{
				Code:          "BILLING_LOCKED",
				Message:       domain.ErrorMessage(domain.ErrBillingLocked),
				BillingStatus: string(account.BillingStatus),
				LockedContext: access.LockedContext,
			}
			if account.CurrentPeriodEnd.Valid {
				resp.CurrentPeriodEnd = &account.CurrentPeriodEnd.Time
			}
			if account.GraceEndsAt.Valid {
				resp.GraceEndsAt = &account.GraceEndsAt.Time
			}
			if account.TrialEndsAt.Valid {
				resp.TrialEndsAt = &account.TrialEndsAt.Time
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				logger.Error("failed to encode lockout response", "error", err)
			}
		})
	}
}

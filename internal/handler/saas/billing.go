// Package saas holds the operator-facing billing endpoints.
package saas

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/handler"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/tenant"
)

// BillingHandler exposes billing status and the checkout/portal redirects.
type BillingHandler struct {
	lifecycle service.LifecycleService
	logger    *slog.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(lifecycle service.LifecycleService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &BillingHandler{
		lifecycle: lifecycle,
		logger:    logger.With("handler", "billing"),
	}
}

// billingStatusResponse is the JSON shape for GET /api/billing/status.
type billingStatusResponse struct {
	BillingStatus    string     `json:"billingStatus"`
	Locked           bool       `json:"locked"`
	Reason           string     `json:"reason"`
	LockDate         *time.Time `json:"lockDate,omitempty"`
	DaysUntilLock    int        `json:"daysUntilLock"`
	Warning          string     `json:"warning,omitempty"`
	LockedContext    string     `json:"lockedContext,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	GraceEndsAt      *time.Time `json:"graceEndsAt,omitempty"`
	TrialEndsAt      *time.Time `json:"trialEndsAt,omitempty"`
	BillingExempt    bool       `json:"billingExempt"`
	IsBetaTester     bool       `json:"isBetaTester"`
	ShowBillingCta   bool       `json:"showBillingCta"`
}

// Status handles GET /api/billing/status.
// Returns the stored billing fields plus the derived access state, computed
// by the same function the gating middleware uses.
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		handler.ErrorResponse(w, r, domain.ErrAccountRequired)
		return
	}

	account, access, err := h.lifecycle.GetAccountStatus(r.Context(), t.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	resp := billingStatusResponse{
		BillingStatus: string(account.BillingStatus),
		Locked:        access.Locked,
		Reason:        string(access.Reason),
		LockDate:      access.LockDate,
		DaysUntilLock: access.DaysUntilLock,
		Warning:       access.Warning,
		LockedContext: access.LockedContext,
		BillingExempt: account.BillingExempt,
		IsBetaTester:  account.IsBetaTester,
		// The upgrade prompt shows for any shop not on a paid plan: locked
		// out, still on trial, or coasting on a grace period.
		ShowBillingCta: !account.BillingExempt &&
			(access.Locked || access.Reason == domain.AccessReasonTrial || access.Reason == domain.AccessReasonGrace),
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

	handler.RespondJSON(w, http.StatusOK, resp)
}

// StartCheckout handles POST /api/billing/checkout.
// Creates a provider checkout session and redirects the operator to it.
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		handler.ErrorResponse(w, r, domain.ErrAccountRequired)
		return
	}

	url, err := h.lifecycle.CreateCheckoutSession(r.Context(), t.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	http.Redirect(w, r, url, http.StatusSeeOther)
}

// RedirectToBillingPortal handles POST /api/billing/portal.
// Creates a provider portal session and redirects the operator to it.
func (h *BillingHandler) RedirectToBillingPortal(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		handler.ErrorResponse(w, r, domain.ErrAccountRequired)
		return
	}

	url, err := h.lifecycle.CreateBillingPortalSession(r.Context(), t.ID, r.FormValue("return_url"))
	if err != nil {
		h.logger.Error("failed to create portal session",
			"tenant_id", t.Slug, "error", err)
		handler.ErrorResponse(w, r, err)
		return
	}

	http.Redirect(w, r, url, http.StatusSeeOther)
}

package routes

import (
	"github.com/wrenchly/wrenchly/internal/router"
)

// RegisterBillingRoutes registers the billing status and Stripe session
// routes. These sit behind tenant resolution but outside the billing gate:
// a locked shop must still be able to see its status and pay.
func RegisterBillingRoutes(r *router.Router, deps BillingDeps) {
	group := r.Group(deps.ResolveTenant, deps.RequireTenant)

	group.Get("/api/billing/status", deps.Handler.Status)
	group.Post("/api/billing/checkout", deps.Handler.StartCheckout)
	group.Post("/api/billing/portal", deps.Handler.RedirectToBillingPortal)
}

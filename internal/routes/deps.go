package routes

import (
	"net/http"

	"github.com/wrenchly/wrenchly/internal/handler/api"
	"github.com/wrenchly/wrenchly/internal/handler/saas"
	"github.com/wrenchly/wrenchly/internal/router"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// BillingDeps contains dependencies for tenant billing routes
type BillingDeps struct {
	Handler *saas.BillingHandler

	// Tenant middleware. Billing routes require a tenant but are
	// deliberately not gated on billing state, so a locked shop can
	// still reach checkout and the portal.
	ResolveTenant router.Middleware
	RequireTenant router.Middleware
}

// APIDeps contains dependencies for tenant API routes
type APIDeps struct {
	ShopHandler *api.ShopHandler

	ResolveTenant  router.Middleware
	RequireTenant  router.Middleware
	RequireBilling router.Middleware
}

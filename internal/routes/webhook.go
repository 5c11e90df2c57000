package routes

import (
	"github.com/wrenchly/wrenchly/internal/router"
)

// RegisterWebhookRoutes registers all webhook routes.
// These routes handle incoming webhooks from external services.
//
// Note: Webhook routes do NOT have tenant or billing middleware.
// Each webhook handler is responsible for verifying the request
// signature (e.g., Stripe signature verification) and resolving
// the account from the event itself.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/stripe", deps.StripeHandler)
}

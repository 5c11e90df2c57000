// Package billing abstracts the subscription payment provider.
//
// The account lifecycle engine only ever needs a handful of synchronous
// operations against the provider: webhook signature verification, lookups
// that fetch authoritative subscription/invoice state, and session creation
// for checkout and the customer portal. Everything else the provider does
// arrives asynchronously as webhook events.
package billing

import (
	"context"
	"time"
)

// Subscription represents a provider subscription in provider-neutral terms.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string // "active", "past_due", "canceled", "incomplete", etc.
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// Invoice represents a provider invoice, reduced to the fields the
// lifecycle engine resolves tenants from.
type Invoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	AmountDueCents int64
	Paid           bool
}

// CheckoutParams contains parameters for creating a subscription checkout
// session. TenantID is embedded in the subscription metadata so webhook
// events can be resolved back to the tenant without a stored reference.
type CheckoutParams struct {
	TenantID   string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// Provider defines the operations the lifecycle engine needs from the
// payment provider. Implementations must be safe for concurrent use.
type Provider interface {
	// VerifyWebhookSignature verifies that a webhook request is authentic.
	// Returns an error if the signature is invalid or expired.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error

	// GetSubscription fetches the authoritative state of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetInvoice fetches an invoice, primarily to resolve its owning
	// subscription and customer.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// CreateCheckoutSession creates a hosted checkout session and returns
	// its URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession creates a customer billing portal session and
	// returns its URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

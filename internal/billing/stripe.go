package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	stripeinvoice "github.com/stripe/stripe-go/v83/invoice"
	stripesubscription "github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// IsTestMode returns true when the configured key is a Stripe test key.
func (c StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	config StripeConfig
}

// Compile-time check that StripeProvider implements Provider.
var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a new Stripe billing provider and configures
// the global Stripe client key.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.APIKey == "" {
		return nil, ErrInvalidAPIKey
	}

	stripe.Key = config.APIKey

	return &StripeProvider{config: config}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if secret == "" {
		secret = s.config.WebhookSecret
	}

	if _, err := webhook.ConstructEvent(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	return nil
}

// GetSubscription fetches a subscription from Stripe.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	defer observeAPICall("get_subscription", time.Now())
	sub, err := stripesubscription.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return mapSubscription(sub), nil
}

// GetInvoice fetches an invoice from Stripe.
func (s *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	defer observeAPICall("get_invoice", time.Now())
	inv, err := stripeinvoice.Get(invoiceID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	out := &Invoice{
		ID:             inv.ID,
		AmountDueCents: inv.AmountDue,
		Paid:           inv.Status == stripe.InvoiceStatusPaid,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	// Subscription linkage moved under Parent in the current API version.
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}

	return out, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for a subscription.
// The tenant id travels in the subscription metadata so that webhook events
// for the resulting subscription can be resolved without a stored reference.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	if p.PriceID == "" {
		return "", fmt.Errorf("price ID not configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:       stripe.String(p.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:        stripe.String(p.CancelURL),
		CustomerCreation: stripe.String("always"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"tenant_id": p.TenantID,
				"source":    "wrenchly_checkout",
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	if p.Email != "" {
		params.CustomerEmail = stripe.String(p.Email)
	}
	params.Context = ctx

	defer observeAPICall("create_checkout_session", time.Now())
	session, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return session.URL, nil
}

// CreatePortalSession creates a Stripe Customer Portal session.
func (s *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	defer observeAPICall("create_portal_session", time.Now())
	session, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	return session.URL, nil
}

// mapSubscription converts a Stripe subscription to the provider-neutral type.
func mapSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// Period end lives on subscription items in the current API version;
	// take the latest across items.
	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	if periodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}

	return out
}

// observeAPICall records the duration of a Stripe API call.
func observeAPICall(operation string, start time.Time) {
	if telemetry.Business != nil {
		telemetry.Business.StripeAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// isResourceMissing reports whether a Stripe API error is a 404 for the
// requested resource.
func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

package billing

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider implements Provider for testing. Behavior is customized by
// assigning the corresponding Func fields; unassigned methods return a
// sensible zero-state response. All calls are recorded in CallLog.
type MockProvider struct {
	mu      sync.Mutex
	CallLog []string

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// GetSubscriptionFunc allows customizing subscription lookup behavior
	GetSubscriptionFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetInvoiceFunc allows customizing invoice lookup behavior
	GetInvoiceFunc func(ctx context.Context, invoiceID string) (*Invoice, error)

	// CreateCheckoutSessionFunc allows customizing checkout session creation
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSessionFunc allows customizing portal session creation
	CreatePortalSessionFunc func(ctx context.Context, customerID, returnURL string) (string, error)
}

// Compile-time check that MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// VerifyWebhookSignature verifies a mock webhook signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.record("VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return nil
}

// GetSubscription returns a mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.record(fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}
	return &Subscription{ID: subscriptionID, Status: "active"}, nil
}

// GetInvoice returns a mock invoice.
func (m *MockProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.record(fmt.Sprintf("GetInvoice(%s)", invoiceID))

	if m.GetInvoiceFunc != nil {
		return m.GetInvoiceFunc(ctx, invoiceID)
	}
	return &Invoice{ID: invoiceID}, nil
}

// CreateCheckoutSession returns a mock checkout URL.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	m.record("CreateCheckoutSession")

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	return "https://checkout.example.com/session/mock", nil
}

// CreatePortalSession returns a mock portal URL.
func (m *MockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	m.record("CreatePortalSession")

	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, customerID, returnURL)
	}
	return "https://billing.example.com/portal/mock", nil
}
